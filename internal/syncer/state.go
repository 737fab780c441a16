package syncer

import "fmt"

// State is the position of a Runner in the sync pipeline.
type State uint8

const (
	StateInit State = iota
	StateConfigured
	StateRemoteReady
	StateFetched
	StateCheckedOut
	StateNoChanges
	StateChangesFound
	StateBranched
	StateMerged
	StatePushed
	StatePRCreated
	StateOldPRsClosed
	StateFailed
)

var stateStrings = [...]string{
	StateInit:         "INIT",
	StateConfigured:   "CONFIGURED",
	StateRemoteReady:  "REMOTE_READY",
	StateFetched:      "FETCHED",
	StateCheckedOut:   "CHECKED_OUT",
	StateNoChanges:    "NO_CHANGES",
	StateChangesFound: "CHANGES_FOUND",
	StateBranched:     "BRANCHED",
	StateMerged:       "MERGED",
	StatePushed:       "PUSHED",
	StatePRCreated:    "PR_CREATED",
	StateOldPRsClosed: "OLD_PRS_CLOSED",
	StateFailed:       "FAILED",
}

func (s State) String() string {
	// it can not be <0 because it's type is uint8
	if int(s) > len(stateStrings)-1 {
		return fmt.Sprintf("unsupported State value: %d", s)
	}

	return stateStrings[s]
}

// IsTerminal returns true if the pipeline ends in the state.
func (s State) IsTerminal() bool {
	switch s {
	case StateNoChanges, StateOldPRsClosed, StateFailed:
		return true
	default:
		return false
	}
}
