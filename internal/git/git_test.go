package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type recordingExecutor struct {
	calls  [][]string
	stdout map[string]string
	errs   map[string]error
}

func (e *recordingExecutor) Exec(_ context.Context, _ string, args ...string) (string, error) {
	e.calls = append(e.calls, args)
	return e.stdout[args[0]], e.errs[args[0]]
}

func TestCommandArguments(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctx := context.Background()
	executor := recordingExecutor{stdout: map[string]string{"remote": "https://github.com/test/upstream.git\n"}}
	clt := New("/repo", WithExecutor(&executor))

	require.NoError(t, clt.SetLocalConfig(ctx, "user.name", "Test User"))
	url, err := clt.RemoteURL(ctx, "upstream")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/test/upstream.git", url)
	require.NoError(t, clt.AddRemote(ctx, "upstream", "https://example.com/u.git"))
	require.NoError(t, clt.SetRemoteURL(ctx, "upstream", "https://example.com/u.git"))
	require.NoError(t, clt.Fetch(ctx, "upstream", "main"))
	require.NoError(t, clt.Checkout(ctx, "main"))
	require.NoError(t, clt.CheckoutNewBranch(ctx, "sync-upstream-1"))
	require.NoError(t, clt.Merge(ctx, "upstream/main"))
	require.NoError(t, clt.AbortMerge(ctx))
	require.NoError(t, clt.Push(ctx, "origin", "sync-upstream-1"))

	assert.Equal(t, [][]string{
		{"config", "--local", "user.name", "Test User"},
		{"remote", "get-url", "upstream"},
		{"remote", "add", "upstream", "https://example.com/u.git"},
		{"remote", "set-url", "upstream", "https://example.com/u.git"},
		{"fetch", "upstream", "main"},
		{"checkout", "main"},
		{"checkout", "-b", "sync-upstream-1"},
		{"merge", "--allow-unrelated-histories", "upstream/main"},
		{"merge", "--abort"},
		{"push", "-u", "origin", "sync-upstream-1"},
	}, executor.calls)
}

func TestCountCommitsParsesOutput(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	testcases := []struct {
		out      string
		expected int
	}{
		{out: "0\n", expected: 0},
		{out: "5\n", expected: 5},
		{out: "  12  ", expected: 12},
	}

	for _, tc := range testcases {
		executor := recordingExecutor{stdout: map[string]string{"rev-list": tc.out}}
		clt := New("", WithExecutor(&executor))

		cnt, err := clt.CountCommits(context.Background(), "HEAD..upstream/main")
		require.NoError(t, err)
		assert.Equal(t, tc.expected, cnt)
		assert.Equal(t, [][]string{{"rev-list", "--count", "HEAD..upstream/main"}}, executor.calls)
	}
}

func TestCountCommitsInvalidOutput(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	executor := recordingExecutor{stdout: map[string]string{"rev-list": "fatal\n"}}
	clt := New("", WithExecutor(&executor))

	_, err := clt.CountCommits(context.Background(), "HEAD..upstream/main")
	assert.Error(t, err)
}

func TestErrorIsPassedThrough(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mergeErr := &Error{Args: []string{"merge"}, ExitCode: 1, Stdout: "CONFLICT (content): Merge conflict in a.txt"}
	executor := recordingExecutor{errs: map[string]error{"merge": mergeErr}}
	clt := New("", WithExecutor(&executor))

	err := clt.Merge(context.Background(), "upstream/main")
	require.Error(t, err)
	assert.ErrorIs(t, err, mergeErr)
}

func TestErrorMessage(t *testing.T) {
	testcases := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "exitCodeWithStderr",
			err: &Error{
				Args:     []string{"remote", "get-url", "upstream"},
				ExitCode: 2,
				Stderr:   "error: No such remote 'upstream'",
			},
			expected: "git remote get-url upstream failed with exit code 2: error: No such remote 'upstream'",
		},
		{
			name: "stdoutAndStderr",
			err: &Error{
				Args:     []string{"merge", "upstream/main"},
				ExitCode: 1,
				Stdout:   "CONFLICT (content): Merge conflict in a.txt",
				Stderr:   "error: could not apply",
			},
			expected: "git merge upstream/main failed with exit code 1:\n  error: could not apply\n  CONFLICT (content): Merge conflict in a.txt",
		},
		{
			name: "notStarted",
			err: &Error{
				Args:     []string{"status"},
				ExitCode: -1,
				Err:      exec.ErrNotFound,
			},
			expected: "git status failed: executable file not found in $PATH",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.err.Error())
		})
	}
}

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	out, err := (&CommandExecutor{}).Exec(context.Background(), dir, args...)
	require.NoError(t, err)

	return out
}

func initRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	mustGit(t, dir, "init", "-b", "main")
	mustGit(t, dir, "config", "user.email", "test@example.com")
	mustGit(t, dir, "config", "user.name", "tester")

	return dir
}

func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	mustGit(t, dir, "add", name)
	mustGit(t, dir, "commit", "-m", "add "+name)
}

func TestRemoteURLOfMissingRemoteFails(t *testing.T) {
	requireGit(t)
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	dir := initRepo(t)
	clt := New(dir)

	_, err := clt.RemoteURL(context.Background(), "upstream")
	require.Error(t, err)

	var gitErr *Error
	require.ErrorAs(t, err, &gitErr)
	assert.Positive(t, gitErr.ExitCode)
	assert.NotEmpty(t, gitErr.Stderr)
}

func TestFetchCountAndMergeUnrelatedHistories(t *testing.T) {
	requireGit(t)
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctx := context.Background()

	upstream := initRepo(t)
	commitFile(t, upstream, "a.txt", "a")
	commitFile(t, upstream, "b.txt", "b")

	downstream := initRepo(t)
	commitFile(t, downstream, "c.txt", "c")

	clt := New(downstream)
	require.NoError(t, clt.AddRemote(ctx, "upstream", upstream))
	require.NoError(t, clt.Fetch(ctx, "upstream", "main"))
	require.NoError(t, clt.Checkout(ctx, "main"))

	cnt, err := clt.CountCommits(ctx, "HEAD..upstream/main")
	require.NoError(t, err)
	assert.Equal(t, 2, cnt)

	require.NoError(t, clt.CheckoutNewBranch(ctx, "sync-upstream-7"))
	require.NoError(t, clt.Merge(ctx, "upstream/main"))

	cnt, err = clt.CountCommits(ctx, "HEAD..upstream/main")
	require.NoError(t, err)
	assert.Zero(t, cnt)

	assert.FileExists(t, filepath.Join(downstream, "a.txt"))
	assert.FileExists(t, filepath.Join(downstream, "c.txt"))
}

func TestMergeConflictReturnsGitOutput(t *testing.T) {
	requireGit(t)
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctx := context.Background()

	upstream := initRepo(t)
	commitFile(t, upstream, "README.md", "upstream\n")

	downstream := initRepo(t)
	commitFile(t, downstream, "README.md", "downstream\n")

	clt := New(downstream)
	require.NoError(t, clt.AddRemote(ctx, "upstream", upstream))
	require.NoError(t, clt.Fetch(ctx, "upstream", "main"))

	err := clt.Merge(ctx, "upstream/main")
	require.Error(t, err)

	var gitErr *Error
	require.True(t, errors.As(err, &gitErr))
	assert.Contains(t, gitErr.Output(), "CONFLICT")

	require.NoError(t, clt.AbortMerge(ctx))
}
