package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/upstreamsync/internal/logfields"
)

// DryGitClient is a git client that does not push to remote repositories.
// All local operations are forwarded to the wrapped GitClient, they only
// change the local clone.
type DryGitClient struct {
	GitClient
	logger *zap.Logger
}

func NewDryGitClient(clt GitClient, logger *zap.Logger) *DryGitClient {
	return &DryGitClient{
		GitClient: clt,
		logger:    logger.Named("dry_git_client"),
	}
}

func (c *DryGitClient) Push(_ context.Context, remote, branch string) error {
	c.logger.Info(
		"simulated pushing of branch, nothing was pushed",
		logfields.Remote(remote),
		logfields.Branch(branch),
	)
	return nil
}
