// Package vterrors defines the error taxonomy shared across the search
// service: queue, pipeline, filter, and the engine facade all wrap one of
// these sentinels so callers can branch with errors.Is instead of string
// matching.
package vterrors

import "errors"

var (
	// ErrConfiguration indicates an invalid or missing configuration value.
	ErrConfiguration = errors.New("configuration invalid")

	// ErrQueueOverloaded indicates the job stream is at or above its
	// rejection threshold and cannot accept new submissions.
	ErrQueueOverloaded = errors.New("queue overloaded")

	// ErrJobNotFound indicates the given job_id has no state record, either
	// because it never existed or its record already expired.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExpired indicates a result was requested for a job with no
	// state record: its TTL has elapsed, or it never existed.
	ErrJobExpired = errors.New("job result expired")

	// ErrJobFailed indicates the job did not reach SUCCEEDED: it either
	// reached the FAILED terminal state or was CANCELED before completing.
	ErrJobFailed = errors.New("job failed")

	// ErrJobCanceled indicates cooperative cancellation was observed while
	// the job was executing; the worker stops the pipeline and marks the
	// job CANCELED instead of retrying.
	ErrJobCanceled = errors.New("job canceled")

	// ErrDependencyUnavailable indicates a required external dependency
	// (Redis, Postgres) could not be reached. Relevance filter failures are
	// reported as ErrRetriablePipeline instead.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrRetriablePipeline wraps a pipeline failure that the worker should
	// retry with backoff rather than dead-letter immediately.
	ErrRetriablePipeline = errors.New("pipeline execution failed")
)

// Wrap attaches msg as context to a sentinel, preserving errors.Is matching.
func Wrap(sentinel error, msg string) error {
	return &wrapped{sentinel: sentinel, msg: msg}
}

// Wrapf is Wrap with an additional wrapped cause.
func Wrapf(sentinel error, msg string, cause error) error {
	return &wrapped{sentinel: sentinel, msg: msg, cause: cause}
}

type wrapped struct {
	sentinel error
	msg      string
	cause    error
}

func (w *wrapped) Error() string {
	if w.cause != nil {
		return w.msg + ": " + w.cause.Error()
	}
	return w.msg
}

func (w *wrapped) Unwrap() error {
	return w.sentinel
}

// Is reports whether this wrapped error, or its cause chain, matches target.
func (w *wrapped) Is(target error) bool {
	if target == w.sentinel {
		return true
	}
	if w.cause != nil {
		return errors.Is(w.cause, target)
	}
	return false
}
