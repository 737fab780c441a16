package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sethvargo/go-githubactions"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/upstreamsync/internal/cfg"
	"github.com/simplesurance/upstreamsync/internal/git"
	"github.com/simplesurance/upstreamsync/internal/githubclt"
	"github.com/simplesurance/upstreamsync/internal/logfields"
	"github.com/simplesurance/upstreamsync/internal/metrics"
	"github.com/simplesurance/upstreamsync/internal/retryer"
	"github.com/simplesurance/upstreamsync/internal/syncer"
	"github.com/simplesurance/upstreamsync/internal/syncerr"
)

const appName = "upstreamsync"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const metricsPushTimeout = 30 * time.Second

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
	DryRun      *bool
	WorkDir     *string
}

var args arguments

// newFlagSet defines the command line flags, usage and parse errors are
// written to out.
func newFlagSet(out io.Writer) (*pflag.FlagSet, *arguments) {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(out)

	result := arguments{
		Verbose: fs.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: fs.StringP(
			"cfg-file",
			"c",
			"",
			"path to an optional configuration file, action inputs overwrite its settings",
		),
		ShowVersion: fs.Bool(
			"version",
			false,
			"print the version and exit",
		),
		DryRun: fs.Bool(
			"dry-run",
			false,
			"do not push and do not change anything on GitHub, only simulate it",
		),
		WorkDir: fs.String(
			"workdir",
			"",
			"path to the git working directory of the downstream repository, defaults to the current directory",
		),
	}

	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s [OPTION]\nMerge changes from an upstream repository and open a pull request.\n", appName)
		fmt.Fprintf(out, "\nOptions:\n")
		fs.PrintDefaults()
	}

	return fs, &result
}

func mustParseCommandlineParams() {
	fs, parsedArgs := newFlagSet(os.Stderr)

	err := fs.Parse(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		// the error and the usage were already printed by the FlagSet
		os.Exit(2)
	}

	args = *parsedArgs
}

func mustLoadCfgFile(path string) *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(path)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", path), err)

	return config
}

// mustParseCfg assembles the configuration from the defaults, the optional
// configuration file, the action inputs, the command line flags and the
// GitHub Actions run context, in this order.
func mustParseCfg(action *githubactions.Action) *cfg.Config {
	config := cfg.Default()

	if *args.ConfigFile != "" {
		config.Merge(mustLoadCfgFile(*args.ConfigFile))
	}

	inputCfg, err := cfg.FromInputs(action.GetInput)
	exitOnErr("could not parse action inputs", err)
	config.Merge(inputCfg)

	if *args.DryRun {
		config.DryRun = true
	}

	ghCtx, err := action.Context()
	exitOnErr("could not read github actions run context", err)
	config.ApplyRunContext(ghCtx)

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

// fail reports err as error annotation of the workflow step and terminates
// the process.
func fail(action *githubactions.Action, err error) {
	var stepErr *syncerr.StepError
	if !errors.As(err, &stepErr) {
		// step errors were already logged by the runner
		logger.Error("sync failed", logfields.Event("sync_failed"), zap.Error(err))
	}

	action.Errorf("%s", err.Error())

	goodbye.Exit(context.Background(), 1)
}

func mustNewGithubClient(config *cfg.Config) *githubclt.Client {
	clt, err := githubclt.New(
		config.GithubAPIToken,
		githubclt.WithEnterpriseURLs(config.GithubAPIURL, config.GithubGraphQLURL),
	)
	if err != nil {
		logger.Fatal("could not create github client", zap.Error(err))
	}

	return clt
}

func pushMetrics(collector *metrics.Collector, config *cfg.Config) {
	if config.MetricsPushgatewayURL == "" {
		return
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), metricsPushTimeout)
	defer cancelFn()

	err := collector.Push(ctx, config.MetricsPushgatewayURL, appName, config.Repository)
	if err != nil {
		logger.Warn(
			"pushing metrics to pushgateway failed",
			logfields.Event("metrics_push_failed"),
			zap.String("pushgateway_url", config.MetricsPushgatewayURL),
			zap.Error(err),
		)

		return
	}

	logger.Debug(
		"metrics pushed to pushgateway",
		logfields.Event("metrics_pushed"),
		zap.String("pushgateway_url", config.MetricsPushgatewayURL),
	)
}

func main() {
	defer panicHandler()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	action := githubactions.New()

	config := mustParseCfg(action)
	if config.GithubAPIToken != "" {
		action.AddMask(config.GithubAPIToken)
	}

	mustInitLogger(config)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		if sig == nil {
			return
		}

		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
		cancelFn()
	})

	if err := config.Validate(); err != nil {
		fail(action, fmt.Errorf("invalid configuration: %w", err))
	}

	retryTimeout, err := config.RetryTimeoutDuration()
	if err != nil {
		fail(action, err)
	}

	logger.Info(
		"configuration loaded",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("upstream_url", config.UpstreamURL),
		zap.String("upstream_branch", config.UpstreamBranch),
		zap.String("target_branch", config.TargetBranch),
		zap.String("pr_branch_prefix", config.PRBranchPrefix),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.Bool("dry_run", config.DryRun),
		zap.String("auto_merge", config.AutoMerge),
		zap.String("supersede_filter", config.SupersedeFilter),
		zap.Duration("retry_timeout", retryTimeout),
		zap.String("metrics_pushgateway_url", config.MetricsPushgatewayURL),
		zap.String("log_format", config.LogFormat),
		zap.String("log_level", config.LogLevel),
		logfields.RunID(config.RunID),
		logfields.Repository(config.Repository),
	)

	syncCfg, err := syncer.ConfigFromCfg(config)
	if err != nil {
		fail(action, err)
	}

	var gitClt syncer.GitClient = git.New(*args.WorkDir)
	var ghClt syncer.GithubClient = mustNewGithubClient(config)

	if config.DryRun {
		logger.Info("dry run enabled, nothing is pushed and nothing is changed on GitHub")

		gitClt = syncer.NewDryGitClient(gitClt, logger)
		ghClt = syncer.NewDryGithubClient(ghClt, logger)
	}

	collector := metrics.New()

	runner, err := syncer.NewRunner(
		syncCfg,
		gitClt,
		ghClt,
		syncer.WithReporter(action),
		syncer.WithRetryer(retryer.New(retryTimeout)),
		syncer.WithMetrics(collector),
	)
	if err != nil {
		fail(action, err)
	}

	result, err := runner.Run(ctx)
	if result != nil {
		setOutputs(action, result, config.DryRun)
	}

	pushMetrics(collector, config)

	if err != nil {
		fail(action, err)
	}

	goodbye.Exit(context.Background(), 0)
}
