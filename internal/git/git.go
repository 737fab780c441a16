// Package git provides a client for the git operations of the sync pipeline.
// The operations are run by executing the git command line tool.
package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/upstreamsync/internal/logfields"
)

const loggerName = "git"

// Client runs git commands in a repository working directory.
type Client struct {
	dir    string
	exec   Executor
	logger *zap.Logger
}

type Option func(*Client)

// WithExecutor sets the Executor that runs the git commands.
// The default is a CommandExecutor.
func WithExecutor(e Executor) Option {
	return func(c *Client) {
		c.exec = e
	}
}

// New returns a client that runs git in the working directory dir.
func New(dir string, opts ...Option) *Client {
	c := Client{
		dir:    dir,
		exec:   &CommandExecutor{},
		logger: zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &c
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	logger := c.logger.With(zap.Strings("git_args", args))
	logger.Debug("running git command", logfields.Event("git_command_running"))

	out, err := c.exec.Exec(ctx, c.dir, args...)
	if err != nil {
		logger.Debug(
			"git command failed",
			logfields.Event("git_command_failed"),
			zap.Error(err),
		)

		return out, err
	}

	logger.Debug(
		"git command succeeded",
		logfields.Event("git_command_succeeded"),
		zap.Int("stdout_len", len(out)),
	)

	return out, nil
}

// SetLocalConfig sets a configuration option in the repository configuration.
func (c *Client) SetLocalConfig(ctx context.Context, key, value string) error {
	_, err := c.run(ctx, "config", "--local", key, value)
	return err
}

// RemoteURL returns the URL of the remote.
// An error is returned if the remote is not configured.
func (c *Client) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := c.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

func (c *Client) AddRemote(ctx context.Context, remote, url string) error {
	_, err := c.run(ctx, "remote", "add", remote, url)
	return err
}

func (c *Client) SetRemoteURL(ctx context.Context, remote, url string) error {
	_, err := c.run(ctx, "remote", "set-url", remote, url)
	return err
}

// Fetch fetches a single branch from remote.
func (c *Client) Fetch(ctx context.Context, remote, branch string) error {
	_, err := c.run(ctx, "fetch", remote, branch)
	return err
}

func (c *Client) Checkout(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "checkout", branch)
	return err
}

// CheckoutNewBranch creates branch from HEAD and checks it out.
func (c *Client) CheckoutNewBranch(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "checkout", "-b", branch)
	return err
}

// CountCommits returns the number of commits in the revision range, e.g.
// "HEAD..upstream/main".
func (c *Client) CountCommits(ctx context.Context, revRange string) (int, error) {
	out, err := c.run(ctx, "rev-list", "--count", revRange)
	if err != nil {
		return 0, err
	}

	cnt, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing commit count from git rev-list output %q failed: %w", out, err)
	}

	return cnt, nil
}

// Merge merges ref into the current branch.
// Merging branches without a common ancestor is allowed.
func (c *Client) Merge(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "merge", "--allow-unrelated-histories", ref)
	return err
}

// AbortMerge aborts an in-progress merge and restores the pre-merge state.
func (c *Client) AbortMerge(ctx context.Context) error {
	_, err := c.run(ctx, "merge", "--abort")
	return err
}

// Push pushes branch to remote and configures it as upstream of the local
// branch.
func (c *Client) Push(ctx context.Context, remote, branch string) error {
	_, err := c.run(ctx, "push", "-u", remote, branch)
	return err
}
