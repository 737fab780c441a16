package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/upstreamsync/internal/cfg"
	"github.com/simplesurance/upstreamsync/internal/githubclt"
	"github.com/simplesurance/upstreamsync/internal/logfields"
	"github.com/simplesurance/upstreamsync/internal/retryer"
	"github.com/simplesurance/upstreamsync/internal/syncerr"
)

//go:generate mockgen -destination=mocks/gitclient.go -package=mocks . GitClient
//go:generate mockgen -destination=mocks/githubclient.go -package=mocks . GithubClient

const loggerName = "syncer"

const (
	upstreamRemote = "upstream"
	originRemote   = "origin"
)

// GitClient runs git operations in the working directory of the downstream
// repository.
type GitClient interface {
	SetLocalConfig(ctx context.Context, key, value string) error
	RemoteURL(ctx context.Context, remote string) (string, error)
	AddRemote(ctx context.Context, remote, url string) error
	SetRemoteURL(ctx context.Context, remote, url string) error
	Fetch(ctx context.Context, remote, branch string) error
	Checkout(ctx context.Context, branch string) error
	CheckoutNewBranch(ctx context.Context, branch string) error
	CountCommits(ctx context.Context, revRange string) (int, error)
	Merge(ctx context.Context, ref string) error
	AbortMerge(ctx context.Context) error
	Push(ctx context.Context, remote, branch string) error
}

// GithubClient is the subset of the GitHub API that is used to manage the
// sync pull requests.
type GithubClient interface {
	CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*github.PullRequest, error)
	ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator
	CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error
	ClosePullRequest(ctx context.Context, owner, repo string, pullRequestNumber int) error
	EnableAutoMerge(ctx context.Context, pullRequestNodeID string, method githubclt.MergeMethod) error
}

// Reporter groups the log output of the pipeline phases.
// *githubactions.Action implements it.
type Reporter interface {
	Group(title string)
	EndGroup()
}

// Retryer is an interface used for running idempotent GithubClient methods
// repeatedly if they fail with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}

// Metrics records statistics about a run.
type Metrics interface {
	RunFinished(state string)
	CommitsBehind(cnt int)
	PullRequestSuperseded()
	ObserveStep(step string, d time.Duration)
}

// Config is the configuration of a sync run.
type Config struct {
	UpstreamURL    string
	UpstreamBranch string
	TargetBranch   string
	UserName       string
	UserEmail      string
	PRTitle        string
	PRBody         string
	PRBranchPrefix string

	// RunID is unique per run, it is part of the sync branch name.
	RunID           int64
	RepositoryOwner string
	Repository      string

	// AutoMergeMethod enables auto-merge for the created pull request
	// when it is not empty.
	AutoMergeMethod githubclt.MergeMethod
	// SupersedeFilter is an optional jq query, an old pull request is only
	// closed when it evaluates to true for it.
	SupersedeFilter string
}

// ConfigFromCfg creates a Config from the application configuration.
func ConfigFromCfg(c *cfg.Config) (*Config, error) {
	owner, repo, err := c.RepositoryOwnerAndName()
	if err != nil {
		return nil, err
	}

	mergeMethod, err := c.AutoMergeMethod()
	if err != nil {
		return nil, err
	}

	return &Config{
		UpstreamURL:     c.UpstreamURL,
		UpstreamBranch:  c.UpstreamBranch,
		TargetBranch:    c.TargetBranch,
		UserName:        c.UserName,
		UserEmail:       c.UserEmail,
		PRTitle:         c.PRTitle,
		PRBody:          c.PRBody,
		PRBranchPrefix:  c.PRBranchPrefix,
		RunID:           c.RunID,
		RepositoryOwner: owner,
		Repository:      repo,
		AutoMergeMethod: mergeMethod,
		SupersedeFilter: c.SupersedeFilter,
	}, nil
}

// SyncBranch returns the name of the branch that is created by the run.
func (c *Config) SyncBranch() string {
	return fmt.Sprintf("%s-%d", c.PRBranchPrefix, c.RunID)
}

func (c *Config) upstreamRef() string {
	return upstreamRemote + "/" + c.UpstreamBranch
}

// Result describes the outcome of a run.
type Result struct {
	State       State
	CommitCount int
	// Branch is the name of the sync branch, it is empty if no
	// changes were found.
	Branch      string
	PullRequest *github.PullRequest
	// ClosedPullRequests are the numbers of the superseded pull
	// requests.
	ClosedPullRequests []int
}

// Runner executes the sync pipeline.
// A Runner can only be run once.
type Runner struct {
	cfg      *Config
	git      GitClient
	gh       GithubClient
	reporter Reporter
	retryer  Retryer
	metrics  Metrics
	logger   *zap.Logger
	matcher  *supersedeMatcher

	state     State
	openGroup string
	result    Result
}

type Option func(*Runner)

func WithReporter(reporter Reporter) Option {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

func WithRetryer(retryer Retryer) Option {
	return func(r *Runner) {
		r.retryer = retryer
	}
}

func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func NewRunner(cfg *Config, git GitClient, gh GithubClient, opts ...Option) (*Runner, error) {
	matcher, err := newSupersedeMatcher(cfg.PRBranchPrefix, cfg.PRTitle, cfg.SupersedeFilter)
	if err != nil {
		return nil, err
	}

	r := Runner{
		cfg:      cfg,
		git:      git,
		gh:       gh,
		matcher:  matcher,
		reporter: nopReporter{},
		retryer:  retryer.New(0),
		metrics:  nopMetrics{},
		logger: zap.L().Named(loggerName).With(
			logfields.RepositoryOwner(cfg.RepositoryOwner),
			logfields.Repository(cfg.Repository),
			logfields.RunID(cfg.RunID),
		),
		state: StateInit,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r, nil
}

// step is the transition from one State to the next.
type step struct {
	name string
	// group is the title of the log group the step's output belongs to.
	group string
	// failMsg is the description of the failure that is reported when
	// the step fails.
	failMsg string
	run     func(context.Context) (State, error)
}

func (r *Runner) steps() map[State]*step {
	return map[State]*step{
		StateInit: {
			name:    "configure_identity",
			group:   "Setting up git config",
			failMsg: "configuring git identity failed",
			run:     r.configureIdentity,
		},
		StateConfigured: {
			name:    "ensure_remote",
			group:   "Adding upstream remote and fetching",
			failMsg: "configuring upstream remote failed",
			run:     r.ensureRemote,
		},
		StateRemoteReady: {
			name:    "fetch",
			group:   "Adding upstream remote and fetching",
			failMsg: "fetching upstream branch failed",
			run:     r.fetch,
		},
		StateFetched: {
			name:    "checkout_target",
			group:   "Checking out target branch",
			failMsg: "checking out target branch failed",
			run:     r.checkoutTarget,
		},
		StateCheckedOut: {
			name:    "detect_changes",
			group:   "Checking for new commits",
			failMsg: "counting new upstream commits failed",
			run:     r.detectChanges,
		},
		StateChangesFound: {
			name:    "create_branch",
			group:   "Creating PR branch and merging",
			failMsg: "creating sync branch failed",
			run:     r.createBranch,
		},
		StateBranched: {
			name:    "merge",
			group:   "Creating PR branch and merging",
			failMsg: "Merge failed with conflicts",
			run:     r.merge,
		},
		StateMerged: {
			name:    "push",
			group:   "Creating PR branch and merging",
			failMsg: "pushing sync branch failed",
			run:     r.push,
		},
		StatePushed: {
			name:    "create_pull_request",
			group:   "Creating pull request",
			failMsg: "creating pull request failed",
			run:     r.createPullRequest,
		},
		StatePRCreated: {
			name:    "close_old_pull_requests",
			group:   "Checking for old PRs to close",
			failMsg: "closing old pull requests failed",
			run:     r.closeOldPullRequests,
		},
	}
}

// Run executes the pipeline until a terminal state is reached.
// When a step fails, a *syncerr.StepError is returned together with the
// result of the steps that succeeded.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.state != StateInit {
		return nil, fmt.Errorf("runner was already run, state: %s", r.state)
	}

	defer r.endGroup()

	steps := r.steps()

	for !r.state.IsTerminal() {
		st, exists := steps[r.state]
		if !exists {
			// only happens when the step table is incomplete
			r.logger.Panic("no step defined for state", logfields.State(r.state.String()))
		}

		next, err := r.runStep(ctx, st)
		if err != nil {
			r.transition(st, StateFailed)
			r.metrics.RunFinished(r.state.String())

			r.logger.Error(
				"sync failed",
				logfields.Event("sync_failed"),
				logfields.Step(st.name),
				zap.Error(err),
			)

			return &r.result, err
		}

		r.transition(st, next)
	}

	r.metrics.RunFinished(r.state.String())

	if r.state == StateOldPRsClosed {
		r.logger.Info("Sync complete", logfields.Event("sync_complete"))
	}

	return &r.result, nil
}

func (r *Runner) runStep(ctx context.Context, st *step) (State, error) {
	r.startGroup(st.group)

	start := time.Now()
	next, err := st.run(ctx)
	r.metrics.ObserveStep(st.name, time.Since(start))

	if err != nil {
		var stepErr *syncerr.StepError
		if errors.As(err, &stepErr) {
			return StateFailed, err
		}

		return StateFailed, syncerr.NewStepError(st.name, st.failMsg, err)
	}

	return next, nil
}

func (r *Runner) transition(st *step, next State) {
	r.logger.Debug(
		"state changed",
		logfields.Event("state_changed"),
		logfields.Step(st.name),
		zap.Stringer("from", r.state),
		zap.Stringer("to", next),
	)

	r.state = next
	r.result.State = next
}

func (r *Runner) startGroup(title string) {
	if r.openGroup == title {
		return
	}

	r.endGroup()
	r.reporter.Group(title)
	r.openGroup = title
}

func (r *Runner) endGroup() {
	if r.openGroup == "" {
		return
	}

	r.reporter.EndGroup()
	r.openGroup = ""
}

func (r *Runner) configureIdentity(ctx context.Context) (State, error) {
	if err := r.git.SetLocalConfig(ctx, "user.name", r.cfg.UserName); err != nil {
		return StateFailed, err
	}

	if err := r.git.SetLocalConfig(ctx, "user.email", r.cfg.UserEmail); err != nil {
		return StateFailed, err
	}

	return StateConfigured, nil
}

func (r *Runner) ensureRemote(ctx context.Context) (State, error) {
	logger := r.logger.With(logfields.Remote(upstreamRemote))

	// Every error is interpreted as "remote does not exist", git does not
	// provide a distinct exit code for it.
	if _, err := r.git.RemoteURL(ctx, upstreamRemote); err != nil {
		logger.Debug(
			"looking up remote failed, assuming it does not exist",
			logfields.Event("git_remote_lookup_failed"),
			zap.Error(err),
		)

		if err := r.git.AddRemote(ctx, upstreamRemote, r.cfg.UpstreamURL); err != nil {
			return StateFailed, err
		}

		logger.Info("upstream remote added", logfields.Event("git_remote_added"))

		return StateRemoteReady, nil
	}

	if err := r.git.SetRemoteURL(ctx, upstreamRemote, r.cfg.UpstreamURL); err != nil {
		return StateFailed, err
	}

	logger.Info("upstream remote url updated", logfields.Event("git_remote_updated"))

	return StateRemoteReady, nil
}

func (r *Runner) fetch(ctx context.Context) (State, error) {
	if err := r.git.Fetch(ctx, upstreamRemote, r.cfg.UpstreamBranch); err != nil {
		return StateFailed, err
	}

	return StateFetched, nil
}

func (r *Runner) checkoutTarget(ctx context.Context) (State, error) {
	if err := r.git.Checkout(ctx, r.cfg.TargetBranch); err != nil {
		return StateFailed, err
	}

	return StateCheckedOut, nil
}

func (r *Runner) detectChanges(ctx context.Context) (State, error) {
	cnt, err := r.git.CountCommits(ctx, "HEAD.."+r.cfg.upstreamRef())
	if err != nil {
		return StateFailed, err
	}

	r.result.CommitCount = cnt
	r.metrics.CommitsBehind(cnt)

	r.logger.Info(
		fmt.Sprintf("Has changes: %t (%d commits)", cnt > 0, cnt),
		logfields.Event("upstream_changes_checked"),
		logfields.CommitCount(cnt),
		logfields.BaseBranch(r.cfg.TargetBranch),
	)

	if cnt == 0 {
		r.logger.Info("No new commits from upstream. Exiting.", logfields.Event("no_upstream_changes"))
		return StateNoChanges, nil
	}

	return StateChangesFound, nil
}

func (r *Runner) createBranch(ctx context.Context) (State, error) {
	branch := r.cfg.SyncBranch()

	if err := r.git.CheckoutNewBranch(ctx, branch); err != nil {
		return StateFailed, err
	}

	r.result.Branch = branch

	return StateBranched, nil
}

func (r *Runner) merge(ctx context.Context) (State, error) {
	err := r.git.Merge(ctx, r.cfg.upstreamRef())
	if err != nil {
		if abortErr := r.git.AbortMerge(ctx); abortErr != nil {
			r.logger.Warn(
				"aborting merge failed, working directory might contain an incomplete merge",
				logfields.Event("git_merge_abort_failed"),
				zap.Error(abortErr),
			)
		}

		return StateFailed, err
	}

	r.logger.Info(
		"Merge successful!",
		logfields.Event("git_merge_succeeded"),
		logfields.Branch(r.result.Branch),
	)

	return StateMerged, nil
}

func (r *Runner) push(ctx context.Context) (State, error) {
	if err := r.git.Push(ctx, originRemote, r.result.Branch); err != nil {
		return StateFailed, err
	}

	r.logger.Info(
		"sync branch pushed",
		logfields.Event("git_branch_pushed"),
		logfields.Remote(originRemote),
		logfields.Branch(r.result.Branch),
	)

	return StatePushed, nil
}

func (r *Runner) createPullRequest(ctx context.Context) (State, error) {
	// Creating is not idempotent and never retried, a failed response does
	// not guarantee that no pull request was created.
	pr, err := r.gh.CreatePullRequest(
		ctx,
		r.cfg.RepositoryOwner,
		r.cfg.Repository,
		r.cfg.PRTitle,
		r.cfg.PRBody,
		r.result.Branch,
		r.cfg.TargetBranch,
	)
	if err != nil {
		return StateFailed, err
	}

	r.result.PullRequest = pr

	logger := r.logger.With(
		logfields.PullRequest(pr.GetNumber()),
		logfields.PullRequestURL(pr.GetHTMLURL()),
	)

	logger.Info(
		fmt.Sprintf("Pull request created: %s", pr.GetHTMLURL()),
		logfields.Event("github_pull_request_created"),
	)

	if r.cfg.AutoMergeMethod != "" {
		r.enableAutoMerge(ctx, logger, pr)
	}

	return StatePRCreated, nil
}

// enableAutoMerge enables auto-merge for the pull request.
// A failure is only logged, the pull request exists and the run continues.
func (r *Runner) enableAutoMerge(ctx context.Context, logger *zap.Logger, pr *github.PullRequest) {
	err := r.retryer.Run(ctx, func(ctx context.Context) error {
		return r.gh.EnableAutoMerge(ctx, pr.GetNodeID(), r.cfg.AutoMergeMethod)
	}, []zap.Field{logfields.PullRequest(pr.GetNumber())})
	if err != nil {
		logger.Warn(
			"enabling auto-merge failed",
			logfields.Event("github_auto_merge_failed"),
			zap.String("merge_method", string(r.cfg.AutoMergeMethod)),
			zap.Error(err),
		)

		return
	}

	logger.Info(
		"auto-merge enabled",
		logfields.Event("github_auto_merge_enabled"),
		zap.String("merge_method", string(r.cfg.AutoMergeMethod)),
	)
}

// supersededPullRequests returns all open pull requests that are superseded
// by the pull request with the number newPRNumber.
// All pages are retrieved before any pull request is closed, closing pull
// requests while paginating would shift the pages.
func (r *Runner) supersededPullRequests(ctx context.Context, newPRNumber int) ([]*github.PullRequest, error) {
	var result []*github.PullRequest

	it := r.gh.ListPullRequests(ctx, r.cfg.RepositoryOwner, r.cfg.Repository, "open", "", "")

	for {
		var pr *github.PullRequest

		err := r.retryer.Run(ctx, func(context.Context) error {
			var err error
			pr, err = it.Next()
			return err
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("listing open pull requests failed: %w", err)
		}

		if pr == nil {
			return result, nil
		}

		match, err := r.matcher.Match(ctx, pr, newPRNumber)
		if err != nil {
			return nil, fmt.Errorf("evaluating if pull request #%d is superseded failed: %w", pr.GetNumber(), err)
		}

		if match {
			result = append(result, pr)
		}
	}
}

func (r *Runner) closeOldPullRequests(ctx context.Context) (State, error) {
	newPRNumber := r.result.PullRequest.GetNumber()

	prs, err := r.supersededPullRequests(ctx, newPRNumber)
	if err != nil {
		return StateFailed, err
	}

	comment := fmt.Sprintf("Closing this PR as a new sync PR has been created: #%d", newPRNumber)

	for _, pr := range prs {
		logF := []zap.Field{logfields.PullRequest(pr.GetNumber())}
		logger := r.logger.With(logF...)

		logger.Info(
			fmt.Sprintf("Closing old PR #%d: %s", pr.GetNumber(), pr.GetTitle()),
			logfields.Event("github_pull_request_closing"),
		)

		// not retried, a retry could post the comment twice
		err := r.gh.CreateIssueComment(ctx, r.cfg.RepositoryOwner, r.cfg.Repository, pr.GetNumber(), comment)
		if err != nil {
			return StateFailed, fmt.Errorf("commenting on pull request #%d failed: %w", pr.GetNumber(), err)
		}

		err = r.retryer.Run(ctx, func(ctx context.Context) error {
			return r.gh.ClosePullRequest(ctx, r.cfg.RepositoryOwner, r.cfg.Repository, pr.GetNumber())
		}, logF)
		if err != nil {
			return StateFailed, fmt.Errorf("closing pull request #%d failed: %w", pr.GetNumber(), err)
		}

		r.result.ClosedPullRequests = append(r.result.ClosedPullRequests, pr.GetNumber())
		r.metrics.PullRequestSuperseded()

		logger.Info(
			fmt.Sprintf("Closed PR #%d", pr.GetNumber()),
			logfields.Event("github_pull_request_closed"),
		)
	}

	return StateOldPRsClosed, nil
}

type nopReporter struct{}

func (nopReporter) Group(string) {}
func (nopReporter) EndGroup()    {}

type nopMetrics struct{}

func (nopMetrics) RunFinished(string)                {}
func (nopMetrics) CommitsBehind(int)                 {}
func (nopMetrics) PullRequestSuperseded()            {}
func (nopMetrics) ObserveStep(string, time.Duration) {}
