package git

import (
	"fmt"
	"strings"

	"github.com/simplesurance/upstreamsync/internal/stringutils"
)

// Error is returned when a git command failed.
// It carries the output of git unmodified, to make the failure reason visible
// to the user.
type Error struct {
	Args []string
	// ExitCode is -1 if git could not be started or was terminated by a
	// signal.
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Output returns stderr and stdout of the command.
func (e *Error) Output() string {
	switch {
	case e.Stderr != "" && e.Stdout != "":
		return e.Stderr + "\n" + e.Stdout
	case e.Stderr != "":
		return e.Stderr
	default:
		return e.Stdout
	}
}

func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString("git ")
	sb.WriteString(strings.Join(e.Args, " "))

	if e.ExitCode >= 0 {
		fmt.Fprintf(&sb, " failed with exit code %d", e.ExitCode)
	} else {
		fmt.Fprintf(&sb, " failed: %s", e.Err)
	}

	out := e.Output()
	switch {
	case out == "":
	case strings.Contains(out, "\n"):
		sb.WriteString(":\n")
		sb.WriteString(stringutils.IndentLines(out, "  "))
	default:
		sb.WriteString(": ")
		sb.WriteString(out)
	}

	return sb.String()
}
