package main

import (
	"strconv"
	"strings"

	"github.com/simplesurance/upstreamsync/internal/syncer"
)

// Names of the step outputs.
const (
	outputHasChanges  = "has-changes"
	outputCommitCount = "commit-count"
	outputBranch      = "branch"
	outputPRNumber    = "pr-number"
	outputPRURL       = "pr-url"
	outputClosedPRs   = "closed-prs"
)

type outputSetter interface {
	SetOutput(k, v string)
}

// setOutputs publishes the result of a run as step outputs.
// Outputs whose value is unknown because the run ended before they were
// determined are set to an empty string.
// In a dry run the pull request is only simulated, its number and URL are
// published as empty strings.
func setOutputs(out outputSetter, result *syncer.Result, dryRun bool) {
	out.SetOutput(outputHasChanges, strconv.FormatBool(result.CommitCount > 0))
	out.SetOutput(outputCommitCount, strconv.Itoa(result.CommitCount))
	out.SetOutput(outputBranch, result.Branch)

	switch {
	case result.PullRequest == nil, dryRun:
		out.SetOutput(outputPRNumber, "")
		out.SetOutput(outputPRURL, "")
	default:
		out.SetOutput(outputPRNumber, strconv.Itoa(result.PullRequest.GetNumber()))
		out.SetOutput(outputPRURL, result.PullRequest.GetHTMLURL())
	}

	closed := make([]string, 0, len(result.ClosedPullRequests))
	for _, nr := range result.ClosedPullRequests {
		closed = append(closed, strconv.Itoa(nr))
	}

	out.SetOutput(outputClosedPRs, strings.Join(closed, ","))
}
