package cfg

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"github.com/pelletier/go-toml"
	"github.com/sethvargo/go-githubactions"

	"github.com/simplesurance/upstreamsync/internal/githubclt"
)

// Names of the action inputs.
const (
	InputUpstreamURL           = "upstream-url"
	InputUpstreamBranch        = "upstream-branch"
	InputTargetBranch          = "target-branch"
	InputUserEmail             = "user-email"
	InputUserName              = "user-name"
	InputPRTitle               = "pr-title"
	InputPRBody                = "pr-body"
	InputPRBranchPrefix        = "pr-branch-prefix"
	InputGithubToken           = "github-token"
	InputDryRun                = "dry-run"
	InputAutoMerge             = "auto-merge"
	InputSupersedeFilter       = "supersede-filter"
	InputRetryTimeout          = "retry-timeout"
	InputMetricsPushgatewayURL = "metrics-pushgateway-url"
	InputLogFormat             = "log-format"
	InputLogLevel              = "log-level"
	InputLogTimeKey            = "log-time-key"
)

type Config struct {
	UpstreamURL    string `toml:"upstream_url"`
	UpstreamBranch string `toml:"upstream_branch"`
	TargetBranch   string `toml:"target_branch"`
	UserEmail      string `toml:"user_email"`
	UserName       string `toml:"user_name"`
	PRTitle        string `toml:"pr_title"`
	PRBody         string `toml:"pr_body"`
	PRBranchPrefix string `toml:"pr_branch_prefix"`
	GithubAPIToken string `toml:"github_token"`

	DryRun                bool   `toml:"dry_run"`
	AutoMerge             string `toml:"auto_merge"`
	SupersedeFilter       string `toml:"supersede_filter"`
	RetryTimeout          string `toml:"retry_timeout"`
	MetricsPushgatewayURL string `toml:"metrics_pushgateway_url"`

	LogFormat  string `toml:"log_format"`
	LogLevel   string `toml:"log_level"`
	LogTimeKey string `toml:"log_time_key"`

	// RunID and Repository are provided by the GitHub Actions environment,
	// they only have to be set for runs outside of it.
	RunID            int64  `toml:"run_id"`
	Repository       string `toml:"repository"`
	GithubAPIURL     string `toml:"github_api_url"`
	GithubGraphQLURL string `toml:"github_graphql_url"`
}

// Default returns a Config with the default values.
func Default() *Config {
	return &Config{
		UpstreamBranch: "main",
		TargetBranch:   "main",
		UserEmail:      "action@github.com",
		UserName:       "GitHub Action",
		PRTitle:        "Merge upstream changes",
		PRBody:         "This PR merges changes from upstream.",
		PRBranchPrefix: "sync-upstream",
		RetryTimeout:   "0s",
		LogFormat:      "logfmt",
		LogLevel:       "info",
		LogTimeKey:     "time",
	}
}

// Load parses a TOML configuration file.
// Only the settings that are defined in the file are set in the returned
// Config.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// FromInputs returns a Config with the values of the action inputs.
// getInput is called with the input name and returns an empty string if the
// input is unset.
func FromInputs(getInput func(string) string) (*Config, error) {
	result := Config{
		UpstreamURL:           getInput(InputUpstreamURL),
		UpstreamBranch:        getInput(InputUpstreamBranch),
		TargetBranch:          getInput(InputTargetBranch),
		UserEmail:             getInput(InputUserEmail),
		UserName:              getInput(InputUserName),
		PRTitle:               getInput(InputPRTitle),
		PRBody:                getInput(InputPRBody),
		PRBranchPrefix:        getInput(InputPRBranchPrefix),
		GithubAPIToken:        getInput(InputGithubToken),
		AutoMerge:             getInput(InputAutoMerge),
		SupersedeFilter:       getInput(InputSupersedeFilter),
		RetryTimeout:          getInput(InputRetryTimeout),
		MetricsPushgatewayURL: getInput(InputMetricsPushgatewayURL),
		LogFormat:             getInput(InputLogFormat),
		LogLevel:              getInput(InputLogLevel),
		LogTimeKey:            getInput(InputLogTimeKey),
	}

	if v := getInput(InputDryRun); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("input %s: %q is not a boolean value", InputDryRun, v)
		}

		result.DryRun = dryRun
	}

	return &result, nil
}

// Merge overwrites the settings in c with all non-empty settings of o.
func (c *Config) Merge(o *Config) {
	mergeStr(&c.UpstreamURL, o.UpstreamURL)
	mergeStr(&c.UpstreamBranch, o.UpstreamBranch)
	mergeStr(&c.TargetBranch, o.TargetBranch)
	mergeStr(&c.UserEmail, o.UserEmail)
	mergeStr(&c.UserName, o.UserName)
	mergeStr(&c.PRTitle, o.PRTitle)
	mergeStr(&c.PRBody, o.PRBody)
	mergeStr(&c.PRBranchPrefix, o.PRBranchPrefix)
	mergeStr(&c.GithubAPIToken, o.GithubAPIToken)
	mergeStr(&c.AutoMerge, o.AutoMerge)
	mergeStr(&c.SupersedeFilter, o.SupersedeFilter)
	mergeStr(&c.RetryTimeout, o.RetryTimeout)
	mergeStr(&c.MetricsPushgatewayURL, o.MetricsPushgatewayURL)
	mergeStr(&c.LogFormat, o.LogFormat)
	mergeStr(&c.LogLevel, o.LogLevel)
	mergeStr(&c.LogTimeKey, o.LogTimeKey)
	mergeStr(&c.Repository, o.Repository)
	mergeStr(&c.GithubAPIURL, o.GithubAPIURL)
	mergeStr(&c.GithubGraphQLURL, o.GithubGraphQLURL)

	if o.DryRun {
		c.DryRun = true
	}

	if o.RunID != 0 {
		c.RunID = o.RunID
	}
}

func mergeStr(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// ApplyRunContext sets the run identifier and repository coordinates from the
// GitHub Actions environment.
// API URLs from the environment are only used when they are not configured.
func (c *Config) ApplyRunContext(ghCtx *githubactions.GitHubContext) {
	if ghCtx.RunID != 0 {
		c.RunID = ghCtx.RunID
	}

	mergeStr(&c.Repository, ghCtx.Repository)

	if c.GithubAPIURL == "" {
		c.GithubAPIURL = ghCtx.APIURL
	}

	if c.GithubGraphQLURL == "" {
		c.GithubGraphQLURL = ghCtx.GraphqlURL
	}
}

// RepositoryOwnerAndName splits Repository into the owner and repository
// name.
func (c *Config) RepositoryOwnerAndName() (owner, repo string, err error) {
	owner, repo, found := strings.Cut(c.Repository, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("repository %q is not in the format OWNER/REPOSITORY", c.Repository)
	}

	return owner, repo, nil
}

// RetryTimeoutDuration returns RetryTimeout as time.Duration.
func (c *Config) RetryTimeoutDuration() (time.Duration, error) {
	if c.RetryTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.RetryTimeout)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", InputRetryTimeout, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, is %s", InputRetryTimeout, d)
	}

	return d, nil
}

// AutoMergeMethod returns the configured merge method for auto-merge.
// If auto-merge is disabled, an empty string is returned.
func (c *Config) AutoMergeMethod() (githubclt.MergeMethod, error) {
	if c.AutoMerge == "" {
		return "", nil
	}

	m, err := githubclt.ParseMergeMethod(c.AutoMerge)
	if err != nil {
		return "", fmt.Errorf("%s: %w", InputAutoMerge, err)
	}

	return m, nil
}

func errInputRequired(name string) error {
	return fmt.Errorf("input required and not supplied: %s", name)
}

// Validate returns an error if the configuration is incomplete or contains
// invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.UpstreamURL == "" {
		errs = append(errs, errInputRequired(InputUpstreamURL))
	}

	if c.GithubAPIToken == "" {
		errs = append(errs, errInputRequired(InputGithubToken))
	}

	if c.UpstreamBranch == "" {
		errs = append(errs, errInputRequired(InputUpstreamBranch))
	}

	if c.TargetBranch == "" {
		errs = append(errs, errInputRequired(InputTargetBranch))
	}

	if c.PRBranchPrefix == "" {
		errs = append(errs, errInputRequired(InputPRBranchPrefix))
	}

	if c.RunID <= 0 {
		errs = append(errs, fmt.Errorf("run id must be >0, is %d, GITHUB_RUN_ID is not set", c.RunID))
	}

	if _, _, err := c.RepositoryOwnerAndName(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.RetryTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.AutoMergeMethod(); err != nil {
		errs = append(errs, err)
	}

	if c.SupersedeFilter != "" {
		if _, err := gojq.Parse(c.SupersedeFilter); err != nil {
			errs = append(errs, fmt.Errorf("%s: parsing jq query failed: %w", InputSupersedeFilter, err))
		}
	}

	return errors.Join(errs...)
}
