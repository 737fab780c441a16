package syncer

import (
	"context"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/upstreamsync/internal/githubclt"
	"github.com/simplesurance/upstreamsync/internal/logfields"
)

// dryRunPRNumber is the number of the simulated pull request.
// GitHub never assigns 0, it does not match an existing pull request.
const dryRunPRNumber = 0

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) CreatePullRequest(_ context.Context, owner, repo, title, _, head, base string) (*github.PullRequest, error) {
	c.logger.Info(
		"simulated creating of pull request, no pull request created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(head),
		logfields.BaseBranch(base),
		zap.String("title", title),
	)

	return &github.PullRequest{
		Number: github.Int(dryRunPRNumber),
		Title:  github.String(title),
		Head:   &github.PullRequestBranch{Ref: github.String(head)},
		Base:   &github.PullRequestBranch{Ref: github.String(base)},
	}, nil
}

func (c *DryGithubClient) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator {
	return c.clt.ListPullRequests(ctx, owner, repo, state, sort, sortDirection)
}

func (c *DryGithubClient) CreateIssueComment(_ context.Context, _, _ string, issueOrPRNr int, _ string) error {
	c.logger.Info(
		"simulated creating of github issue comment, no comment created on github",
		logfields.PullRequest(issueOrPRNr),
	)
	return nil
}

func (c *DryGithubClient) ClosePullRequest(_ context.Context, _, _ string, pullRequestNumber int) error {
	c.logger.Info(
		"simulated closing of pull request, pull request is still open on github",
		logfields.PullRequest(pullRequestNumber),
	)
	return nil
}

func (c *DryGithubClient) EnableAutoMerge(context.Context, string, githubclt.MergeMethod) error {
	c.logger.Info("simulated enabling auto-merge")
	return nil
}
