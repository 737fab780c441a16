package cfg

import (
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-githubactions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/upstreamsync/internal/githubclt"
)

func inputs(m map[string]string) func(string) string {
	return func(name string) string {
		return m[name]
	}
}

func validConfig() *Config {
	c := Default()
	c.UpstreamURL = "https://github.com/test/upstream.git"
	c.GithubAPIToken = "fake-token"
	c.RunID = 123
	c.Repository = "testman/repo"

	return c
}

func TestDefaults(t *testing.T) {
	c := Default()

	assert.Equal(t, "main", c.UpstreamBranch)
	assert.Equal(t, "main", c.TargetBranch)
	assert.Equal(t, "action@github.com", c.UserEmail)
	assert.Equal(t, "GitHub Action", c.UserName)
	assert.Equal(t, "Merge upstream changes", c.PRTitle)
	assert.Equal(t, "This PR merges changes from upstream.", c.PRBody)
	assert.Equal(t, "sync-upstream", c.PRBranchPrefix)
	assert.False(t, c.DryRun)
}

func TestLoad(t *testing.T) {
	const cfgFile = `
upstream_url = "https://github.com/test/upstream.git"
upstream_branch = "develop"
pr_branch_prefix = "test-sync"
dry_run = true
run_id = 99
repository = "testman/repo"
log_format = "json"
`
	c, err := Load(strings.NewReader(cfgFile))
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/test/upstream.git", c.UpstreamURL)
	assert.Equal(t, "develop", c.UpstreamBranch)
	assert.Equal(t, "test-sync", c.PRBranchPrefix)
	assert.True(t, c.DryRun)
	assert.Equal(t, int64(99), c.RunID)
	assert.Equal(t, "testman/repo", c.Repository)
	assert.Equal(t, "json", c.LogFormat)
	assert.Empty(t, c.TargetBranch)
}

func TestLoadInvalidToml(t *testing.T) {
	_, err := Load(strings.NewReader("upstream_url = "))
	assert.Error(t, err)
}

func TestInputsOverwriteFileAndDefaults(t *testing.T) {
	c := Default()

	fileCfg, err := Load(strings.NewReader(`
upstream_url = "https://github.com/file/upstream.git"
pr_title = "file title"
target_branch = "release"
`))
	require.NoError(t, err)
	c.Merge(fileCfg)

	inputCfg, err := FromInputs(inputs(map[string]string{
		InputUpstreamURL:    "https://github.com/test/upstream.git",
		InputPRTitle:        "Test PR",
		InputPRBranchPrefix: "test-sync",
		InputGithubToken:    "fake-token",
	}))
	require.NoError(t, err)
	c.Merge(inputCfg)

	assert.Equal(t, "https://github.com/test/upstream.git", c.UpstreamURL)
	assert.Equal(t, "Test PR", c.PRTitle)
	assert.Equal(t, "test-sync", c.PRBranchPrefix)
	assert.Equal(t, "fake-token", c.GithubAPIToken)
	assert.Equal(t, "release", c.TargetBranch)
	assert.Equal(t, "main", c.UpstreamBranch)
	assert.Equal(t, "This PR merges changes from upstream.", c.PRBody)
}

func TestFromInputsDryRun(t *testing.T) {
	c, err := FromInputs(inputs(map[string]string{InputDryRun: "true"}))
	require.NoError(t, err)
	assert.True(t, c.DryRun)

	_, err = FromInputs(inputs(map[string]string{InputDryRun: "maybe"}))
	assert.Error(t, err)
}

func TestApplyRunContext(t *testing.T) {
	c := Default()
	c.Repository = "file/repo"
	c.GithubAPIURL = "https://ghe.example.com/api/v3"

	c.ApplyRunContext(&githubactions.GitHubContext{
		RunID:      4711,
		Repository: "testman/repo",
		APIURL:     "https://api.github.com",
		GraphqlURL: "https://api.github.com/graphql",
	})

	assert.Equal(t, int64(4711), c.RunID)
	assert.Equal(t, "testman/repo", c.Repository)
	assert.Equal(t, "https://ghe.example.com/api/v3", c.GithubAPIURL)
	assert.Equal(t, "https://api.github.com/graphql", c.GithubGraphQLURL)
}

func TestApplyEmptyRunContextKeepsConfiguredValues(t *testing.T) {
	c := Default()
	c.RunID = 5
	c.Repository = "file/repo"

	c.ApplyRunContext(&githubactions.GitHubContext{})

	assert.Equal(t, int64(5), c.RunID)
	assert.Equal(t, "file/repo", c.Repository)
}

func TestRepositoryOwnerAndName(t *testing.T) {
	c := Config{Repository: "testman/repo"}
	owner, repo, err := c.RepositoryOwnerAndName()
	require.NoError(t, err)
	assert.Equal(t, "testman", owner)
	assert.Equal(t, "repo", repo)

	for _, invalid := range []string{"", "testman", "/repo", "testman/", "a/b/c"} {
		c := Config{Repository: invalid}
		_, _, err := c.RepositoryOwnerAndName()
		assert.Errorf(t, err, "repository: %q", invalid)
	}
}

func TestRetryTimeoutDuration(t *testing.T) {
	c := Config{RetryTimeout: "5m"}
	d, err := c.RetryTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	c = Config{}
	d, err = c.RetryTimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, d)

	c = Config{RetryTimeout: "-1s"}
	_, err = c.RetryTimeoutDuration()
	assert.Error(t, err)
}

func TestAutoMergeMethod(t *testing.T) {
	c := Config{}
	m, err := c.AutoMergeMethod()
	require.NoError(t, err)
	assert.Empty(t, m)

	c = Config{AutoMerge: "rebase"}
	m, err = c.AutoMergeMethod()
	require.NoError(t, err)
	assert.Equal(t, githubclt.MergeMethodRebase, m)
}

func TestValidate(t *testing.T) {
	testcases := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{
			name:   "valid",
			modify: func(*Config) {},
		},
		{
			name:        "missingUpstreamURL",
			modify:      func(c *Config) { c.UpstreamURL = "" },
			errContains: "input required and not supplied: upstream-url",
		},
		{
			name:        "missingToken",
			modify:      func(c *Config) { c.GithubAPIToken = "" },
			errContains: "input required and not supplied: github-token",
		},
		{
			name:        "emptyPrefix",
			modify:      func(c *Config) { c.PRBranchPrefix = "" },
			errContains: "pr-branch-prefix",
		},
		{
			name:        "missingRunID",
			modify:      func(c *Config) { c.RunID = 0 },
			errContains: "run id",
		},
		{
			name:        "invalidRepository",
			modify:      func(c *Config) { c.Repository = "repo" },
			errContains: "OWNER/REPOSITORY",
		},
		{
			name:        "invalidRetryTimeout",
			modify:      func(c *Config) { c.RetryTimeout = "soon" },
			errContains: "retry-timeout",
		},
		{
			name:        "invalidAutoMerge",
			modify:      func(c *Config) { c.AutoMerge = "octopus" },
			errContains: "auto-merge",
		},
		{
			name:        "invalidSupersedeFilter",
			modify:      func(c *Config) { c.SupersedeFilter = ".user.login ==" },
			errContains: "supersede-filter",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.modify(c)

			err := c.Validate()
			if tc.errContains == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}
