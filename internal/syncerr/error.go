// Package syncerr provides the error types shared by the sync pipeline.
package syncerr

import (
	"fmt"
	"time"
)

// RetryableError marks a failed operation as transient.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time that the operation can be retried.
	// A zero value means it can be retried immediately.
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}

// StepError is a fatal failure of a pipeline step.
// Its message is the one failure message that is reported for a run.
type StepError struct {
	// Step is the name of the step that failed.
	Step string
	// Msg describes the failure, the error message of Err is appended to it.
	Msg string
	Err error
}

func NewStepError(step, msg string, err error) *StepError {
	return &StepError{
		Step: step,
		Msg:  msg,
		Err:  err,
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Msg
	}

	return fmt.Sprintf("%s: %s", e.Msg, e.Err)
}
