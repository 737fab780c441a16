// Package retryer provides repeated execution of operations that failed with
// a transient error.
package retryer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/upstreamsync/internal/logfields"
	"github.com/simplesurance/upstreamsync/internal/syncerr"
)

const loggerName = "retryer"

const (
	defBackoffInitialInterval     = 5 * time.Second
	defBackoffRandomizationFactor = 0.5
)

// Retryer executes a function repeatedly until it was successful, it failed
// with an error that is not retryable or the retry timeout expired.
type Retryer struct {
	logger          *zap.Logger
	maxRetryTimeout time.Duration

	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
}

// New returns a Retryer that gives up when an operation did not succeed
// after maxRetryTimeout.
// When maxRetryTimeout is <=0, operations are executed exactly once.
func New(maxRetryTimeout time.Duration) *Retryer {
	return &Retryer{
		logger:                     zap.L().Named(loggerName),
		maxRetryTimeout:            maxRetryTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: defBackoffRandomizationFactor,
	}
}

// Run executes fn until it was successful, it returned an error that
// does not wrap syncerr.RetryableError, the retry timeout expired or the
// context was cancelled.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	if r.maxRetryTimeout <= 0 {
		return fn(ctx)
	}

	deadline := time.Now().Add(r.maxRetryTimeout)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()

	var tryCnt uint

	for {
		tryCnt++
		logger := r.logger.With(logF...).With(zap.Uint("try_count", tryCnt))

		err := fn(ctx)
		if err == nil {
			if tryCnt > 1 {
				logger.Info(
					"operation succeeded after retrying",
					logfields.Event("retry_succeeded"),
				)
			}

			return nil
		}

		logger = logger.With(zap.Error(err))

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var retryErr *syncerr.RetryableError
		if !errors.As(err, &retryErr) {
			return err
		}

		retryIn := bo.NextBackOff()
		if until := time.Until(retryErr.After); until > retryIn {
			retryIn = until
		}

		if time.Now().Add(retryIn).After(deadline) {
			logger.Warn(
				"giving up retrying operation, retry timeout expires before next try",
				logfields.Event("retry_timeout"),
				zap.Duration("retry_timeout", r.maxRetryTimeout),
				zap.Duration("retry_in", retryIn),
			)

			return fmt.Errorf("giving up after %d tries, retry timeout of %s expired: %w", tryCnt, r.maxRetryTimeout, err)
		}

		logger.Info(
			"operation failed, retry scheduled",
			logfields.Event("retry_scheduled"),
			zap.Duration("retry_in", retryIn),
		)

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for retry aborted: %w, last error: %s", ctx.Err(), err)

		case <-timer.C:
		}
	}
}
