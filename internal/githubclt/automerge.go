package githubclt

import (
	"context"
	"fmt"
	"strings"

	"github.com/shurcooL/githubv4"

	"github.com/simplesurance/upstreamsync/internal/logfields"
)

// MergeMethod is the method that GitHub uses to merge a pull request.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// ParseMergeMethod returns the MergeMethod for a case-insensitive string
// representation.
func ParseMergeMethod(in string) (MergeMethod, error) {
	switch m := MergeMethod(strings.ToLower(strings.TrimSpace(in))); m {
	case MergeMethodMerge, MergeMethodSquash, MergeMethodRebase:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported merge method %q, supported: %s, %s, %s", in, MergeMethodMerge, MergeMethodSquash, MergeMethodRebase)
	}
}

func (m MergeMethod) graphQL() (githubv4.PullRequestMergeMethod, error) {
	switch m {
	case MergeMethodMerge:
		return githubv4.PullRequestMergeMethodMerge, nil
	case MergeMethodSquash:
		return githubv4.PullRequestMergeMethodSquash, nil
	case MergeMethodRebase:
		return githubv4.PullRequestMergeMethodRebase, nil
	default:
		return "", fmt.Errorf("unsupported merge method %q", m)
	}
}

// EnableAutoMerge enables auto-merge for a pull request, GitHub merges it
// with the given method when all requirements of the branch protection are
// fulfilled.
// pullRequestNodeID is the GraphQL node ID of the pull request.
func (clt *Client) EnableAutoMerge(ctx context.Context, pullRequestNodeID string, method MergeMethod) error {
	var m struct {
		EnablePullRequestAutoMerge struct {
			PullRequest struct {
				Number githubv4.Int
			}
		} `graphql:"enablePullRequestAutoMerge(input: $input)"`
	}

	gqlMethod, err := method.graphQL()
	if err != nil {
		return err
	}

	input := githubv4.EnablePullRequestAutoMergeInput{
		PullRequestID: githubv4.ID(pullRequestNodeID),
		MergeMethod:   &gqlMethod,
	}

	err = clt.graphQLClt.Mutate(ctx, &m, input, nil)
	if err != nil {
		return clt.wrapGraphQLRetryableErrors(err)
	}

	clt.logger.Debug(
		"auto-merge enabled",
		logfields.Event("github_auto_merge_enabled"),
		logfields.PullRequest(int(m.EnablePullRequestAutoMerge.PullRequest.Number)),
	)

	return nil
}
