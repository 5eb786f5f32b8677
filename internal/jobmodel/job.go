// Package jobmodel defines the job state record that tracks a search job
// from submission through a terminal state, the same shape that lives in
// the Redis job:<job_id> hash.
package jobmodel

import "time"

// State is one of the five lifecycle states a search job moves through.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
)

// IsTerminal reports whether a job in this state will never transition again.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Record is the job state-hash stored at job:<job_id>. Every mutation goes
// through a single update path that also refreshes the record's TTL.
type Record struct {
	JobID       string
	State       State
	Retries     int
	Canceled    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
	PayloadJSON string
	ResultJSON  string
	LastError   string
	ModuleName  string
}

// NewRecord builds the initial PENDING record for a freshly submitted job.
func NewRecord(jobID, payloadJSON, moduleName string, now time.Time) *Record {
	return &Record{
		JobID:       jobID,
		State:       StatePending,
		Retries:     0,
		Canceled:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
		PayloadJSON: payloadJSON,
		ModuleName:  moduleName,
	}
}

// CancelRequested reports whether a cancellation has been flagged but the
// job has not yet reached a terminal state, i.e. cooperative cancellation
// is still pending a worker observing the flag.
func (r *Record) CancelRequested() bool {
	return r.Canceled && !r.State.IsTerminal()
}
