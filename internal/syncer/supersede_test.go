package syncer

import (
	"context"
	"testing"

	"github.com/google/go-github/v43/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPR(number int, headRef, title string) *github.PullRequest {
	return &github.PullRequest{
		Number: github.Int(number),
		Title:  github.String(title),
		Head:   &github.PullRequestBranch{Ref: github.String(headRef)},
		User:   &github.User{Login: github.String("github-actions[bot]")},
	}
}

func TestSupersedeMatch(t *testing.T) {
	const newPRNumber = 42

	testcases := []struct {
		name     string
		pr       *github.PullRequest
		expected bool
	}{
		{
			name:     "previousSyncPR",
			pr:       newPR(7, "test-sync-100", "Test PR"),
			expected: true,
		},
		{
			name:     "prefixWithoutDash",
			pr:       newPR(8, "test-syncer", "Test PR"),
			expected: true,
		},
		{
			name:     "newPR",
			pr:       newPR(newPRNumber, "test-sync-123", "Test PR"),
			expected: false,
		},
		{
			name:     "otherBranch",
			pr:       newPR(9, "feature/test-sync", "Test PR"),
			expected: false,
		},
		{
			name:     "otherTitle",
			pr:       newPR(10, "test-sync-99", "Test PR (manual)"),
			expected: false,
		},
		{
			name:     "titleCaseDiffers",
			pr:       newPR(11, "test-sync-99", "test pr"),
			expected: false,
		},
		{
			name:     "missingHead",
			pr:       &github.PullRequest{Number: github.Int(12), Title: github.String("Test PR")},
			expected: false,
		},
	}

	m, err := newSupersedeMatcher("test-sync", "Test PR", "")
	require.NoError(t, err)

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			match, err := m.Match(context.Background(), tc.pr, newPRNumber)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, match)
		})
	}
}

func TestSupersedeFilterQuery(t *testing.T) {
	m, err := newSupersedeMatcher("test-sync", "Test PR", `.user.login == "github-actions[bot]"`)
	require.NoError(t, err)

	match, err := m.Match(context.Background(), newPR(7, "test-sync-1", "Test PR"), 42)
	require.NoError(t, err)
	assert.True(t, match)

	pr := newPR(8, "test-sync-2", "Test PR")
	pr.User.Login = github.String("octocat")

	match, err = m.Match(context.Background(), pr, 42)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestSupersedeFilterQueryIsOnlyEvaluatedForCandidates(t *testing.T) {
	m, err := newSupersedeMatcher("test-sync", "Test PR", `error("must not be evaluated")`)
	require.NoError(t, err)

	match, err := m.Match(context.Background(), newPR(7, "other-1", "Test PR"), 42)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestSupersedeFilterQueryErrors(t *testing.T) {
	testcases := []struct {
		name  string
		query string
	}{
		{name: "nonBool", query: ".number"},
		{name: "multipleResults", query: "true, false"},
		{name: "noResult", query: "empty"},
		{name: "runtimeError", query: `error("boom")`},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := newSupersedeMatcher("test-sync", "Test PR", tc.query)
			require.NoError(t, err)

			_, err = m.Match(context.Background(), newPR(7, "test-sync-1", "Test PR"), 42)
			assert.Error(t, err)
		})
	}
}

func TestSupersedeInvalidQuery(t *testing.T) {
	_, err := newSupersedeMatcher("test-sync", "Test PR", ".number ==")
	assert.Error(t, err)
}
