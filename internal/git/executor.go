package git

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Executor runs git with the given arguments in dir and returns what it wrote
// to stdout.
// When git can not be started or exits with a non-zero code an *Error is
// returned.
type Executor interface {
	Exec(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandExecutor runs the git binary as subprocess.
type CommandExecutor struct {
	// Path of the git executable, if empty "git" is looked up in $PATH.
	Path string
}

func (e *CommandExecutor) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	path := e.Path
	if path == "" {
		path = "git"
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// git must never wait for credentials on a terminal in CI
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	err := cmd.Run()
	if err != nil {
		gitErr := Error{
			Args:     args,
			ExitCode: -1,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gitErr.ExitCode = exitErr.ExitCode()
		}

		return stdout.String(), &gitErr
	}

	return stdout.String(), nil
}
