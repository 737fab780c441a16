// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/upstreamsync/internal/logfields"
	"github.com/simplesurance/upstreamsync/internal/syncerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

const (
	defaultAPIURL     = "https://api.github.com"
	defaultGraphQLURL = "https://api.github.com/graphql"
)

// Client is an github API client.
// All methods return a syncerr.RetryableError when an operation can be
// retried, this is the case when GitHub responded with a server error.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

type options struct {
	apiURL     string
	graphQLURL string
}

type Option func(*options)

// WithEnterpriseURLs configures the client to use the API endpoints of a
// GitHub Enterprise Server.
// Empty values or the github.com URLs select the github.com API.
func WithEnterpriseURLs(apiURL, graphQLURL string) Option {
	return func(o *options) {
		o.apiURL = apiURL
		o.graphQLURL = graphQLURL
	}
}

// New returns a new github api client.
func New(oauthAPItoken string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := newHTTPClient(oauthAPItoken)

	clt := Client{
		logger: zap.L().Named(loggerName),
	}

	apiURL := strings.TrimSuffix(o.apiURL, "/")
	if apiURL == "" || apiURL == defaultAPIURL {
		clt.restClt = github.NewClient(httpClient)
	} else {
		restClt, err := github.NewEnterpriseClient(apiURL, apiURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("creating github enterprise client for %q failed: %w", apiURL, err)
		}

		clt.restClt = restClt
	}

	if o.graphQLURL == "" || o.graphQLURL == defaultGraphQLURL {
		clt.graphQLClt = githubv4.NewClient(httpClient)
	} else {
		clt.graphQLClt = githubv4.NewEnterpriseClient(o.graphQLURL, httpClient)
	}

	return &clt, nil
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// CreatePullRequest creates a pull request that merges the head branch into
// base.
func (clt *Client) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*github.PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: &title,
		Body:  &body,
		Head:  &head,
		Base:  &base,
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	if pr.GetNumber() <= 0 {
		return nil, errors.New("github returned a pull request without number")
	}

	clt.logger.Debug(
		"pull request created",
		logfields.Event("github_pull_request_created"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pr.GetNumber()),
		logfields.Branch(head),
		logfields.BaseBranch(base),
	)

	return pr, nil
}

// CreateIssueComment creates a comment in a issue or pull request
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// ClosePullRequest changes the state of a pull request to closed.
// Closing an already closed pull request succeeds.
func (clt *Client) ClosePullRequest(ctx context.Context, owner, repo string, pullRequestNumber int) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, owner, repo, pullRequestNumber, &github.PullRequest{
		State: github.String("closed"),
	})
	return clt.wrapRetryableErrors(err)
}

type PRIterator interface {
	Next() (*github.PullRequest, error)
}

// PRIter iterates over all pull requests, it requests further pages from
// GitHub when all pull requests of the current page were returned.
type PRIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string

	state         string
	sort          string
	sortDirection string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

// Next returns the next pullRequest.
// When the last result was returned a nil PullRequest is returned.
func (it *PRIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State:     it.state,
		Sort:      it.sort,
		Direction: it.sortDirection,
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, it.clt.wrapRetryableErrors(err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs

	return it.Next()
}

// ListPullRequests returns an iterator for receiving all pull requests.
// The parameters state, sort, sortDirection expect the same values then their pendants in the struct github.PullRequestListOptions.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) PRIterator { // interface is returned to make the method mockable
	return &PRIter{
		clt:           clt,
		ctx:           ctx,
		owner:         owner,
		repo:          repo,
		state:         state,
		sort:          sort,
		sortDirection: sortDirection,
		nextPage:      1,
	}
}

// wrapRetryableErrors wraps errors for 5xx responses in a
// syncerr.RetryableError.
// Rate limit errors are not retryable, they are returned unchanged.
func (clt *Client) wrapRetryableErrors(err error) error {
	var respErr *github.ErrorResponse
	if !errors.As(err, &respErr) || respErr.Response == nil {
		return err
	}

	if respErr.Response.StatusCode >= 500 && respErr.Response.StatusCode < 600 {
		clt.logger.Debug(
			"github api returned a server error",
			logfields.Event("github_api_server_error"),
			zap.Int("http_status_code", respErr.Response.StatusCode),
		)

		return syncerr.NewRetryableAnytimeError(err)
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return syncerr.NewRetryableAnytimeError(err)
	}

	return err
}
