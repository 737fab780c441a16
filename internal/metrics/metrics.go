// Package metrics records Prometheus metrics about a sync run and pushes them
// to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/simplesurance/upstreamsync/internal/logfields"
)

const loggerName = "metrics"

const metricNamespace = "upstreamsync"

const (
	runsMetricName             = "runs_total"
	commitsBehindMetricName    = "upstream_commits_behind"
	supersededPRsMetricName    = "superseded_pull_requests_total"
	stepDurationMetricName     = "step_duration_seconds"
	lastRunTimestampMetricName = "last_run_timestamp_seconds"
)

const (
	stateLabel = "state"
	stepLabel  = "step"
)

// Collector holds the metrics of a single run in its own registry.
type Collector struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	commitsBehind prometheus.Gauge
	supersededPRs prometheus.Counter
	stepDuration  *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		logger:   zap.L().Named(loggerName),
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      runsMetricName,
				Help:      "count of sync runs by terminal state",
			},
			[]string{stateLabel},
		),
		commitsBehind: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      commitsBehindMetricName,
				Help:      "count of upstream commits that were missing in the target branch",
			},
		),
		supersededPRs: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      supersededPRsMetricName,
				Help:      "count of old sync pull requests that were closed",
			},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      stepDurationMetricName,
				Help:      "duration of pipeline steps",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{stepLabel},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      lastRunTimestampMetricName,
				Help:      "unix timestamp when the last run finished",
			},
		),
	}
}

func (c *Collector) logGetMetricFailed(metricName string, err error) {
	c.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

// RunFinished records the terminal state of a run.
func (c *Collector) RunFinished(state string) {
	cnt, err := c.runs.GetMetricWith(prometheus.Labels{stateLabel: state})
	if err != nil {
		c.logGetMetricFailed(runsMetricName, err)
		return
	}

	cnt.Inc()
	c.lastRun.SetToCurrentTime()
}

func (c *Collector) CommitsBehind(cnt int) {
	c.commitsBehind.Set(float64(cnt))
}

func (c *Collector) PullRequestSuperseded() {
	c.supersededPRs.Inc()
}

func (c *Collector) ObserveStep(step string, d time.Duration) {
	obs, err := c.stepDuration.GetMetricWith(prometheus.Labels{stepLabel: step})
	if err != nil {
		c.logGetMetricFailed(stepDurationMetricName, err)
		return
	}

	obs.Observe(d.Seconds())
}

// Push sends all recorded metrics to the Pushgateway at url.
// Metrics are grouped by the repository, they replace the metrics of
// previous runs for the same repository.
func (c *Collector) Push(ctx context.Context, url, job, repository string) error {
	return push.New(url, job).
		Gatherer(c.registry).
		Grouping("repository", repository).
		PushContext(ctx)
}
