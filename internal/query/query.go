// Package query implements the Query Surface: status lookup,
// result retrieval, and cancellation requests against the job state hash.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/queue"
	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

// Service implements get_job, fetch_result, and cancel_job.
type Service struct {
	queue *queue.Queue
	log   logger.Logger
}

// New builds a query Service over the given queue adapter.
func New(q *queue.Queue, log logger.Logger) *Service {
	return &Service{queue: q, log: log.WithComponent(logger.ComponentQuery)}
}

// GetJob returns the point-in-time status of a job. ErrJobNotFound if the
// record is missing or has already expired.
func (s *Service) GetJob(ctx context.Context, jobID string) (*searchmodel.Status, error) {
	record, err := s.queue.GetJobRecord(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &searchmodel.Status{
		JobID:     record.JobID,
		State:     record.State,
		Retries:   record.Retries,
		Canceled:  record.Canceled,
		UpdatedAt: record.UpdatedAt.Format(timeLayout),
		LastError: record.LastError,
	}, nil
}

// FetchResult returns the terminal result for a SUCCEEDED job.
// ErrJobExpired if the record is gone, ErrJobFailed if the job reached
// FAILED (carrying last_error) or CANCELED (carrying a "was canceled"
// message), and
// a configuration error if it has not yet reached a terminal state.
func (s *Service) FetchResult(ctx context.Context, jobID string) (*searchmodel.Result, error) {
	record, err := s.queue.GetJobRecord(ctx, jobID)
	if err != nil {
		if errors.Is(err, vterrors.ErrJobNotFound) {
			return nil, vterrors.Wrap(vterrors.ErrJobExpired, "job "+jobID+" expired or never existed")
		}
		return nil, err
	}

	switch record.State {
	case jobmodel.StateFailed:
		return nil, vterrors.Wrap(vterrors.ErrJobFailed, record.LastError)
	case jobmodel.StateCanceled:
		return nil, vterrors.Wrap(vterrors.ErrJobFailed, "job "+jobID+" was canceled")
	case jobmodel.StateSucceeded:
		var result searchmodel.Result
		if err := json.Unmarshal([]byte(record.ResultJSON), &result); err != nil {
			return nil, fmt.Errorf("decode result_json for job %s: %w", jobID, err)
		}
		result.State = jobmodel.StateSucceeded
		result.CompletedAt = record.CompletedAt.Format(timeLayout)
		return &result, nil
	default:
		return nil, vterrors.Wrap(vterrors.ErrConfiguration,
			fmt.Sprintf("job %s not ready: state=%s", jobID, record.State))
	}
}

// CancelJob requests cancellation. A terminal job returns a no-op
// canceled view describing its actual state; a PENDING job is marked
// CANCELED immediately; a RUNNING job has its canceled flag set for the
// worker to observe cooperatively at its next checkpoint.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*searchmodel.Canceled, error) {
	record, err := s.queue.GetJobRecord(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if record.State.IsTerminal() {
		return &searchmodel.Canceled{
			JobID:   jobID,
			State:   record.State,
			Message: "job already reached a terminal state",
		}, nil
	}

	if record.State == jobmodel.StatePending {
		if err := s.queue.MarkCanceled(ctx, jobID); err != nil {
			return nil, err
		}
		return &searchmodel.Canceled{JobID: jobID, State: jobmodel.StateCanceled, Message: "canceled before it started running"}, nil
	}

	if err := s.queue.MarkCancelRequested(ctx, jobID); err != nil {
		return nil, err
	}
	return &searchmodel.Canceled{
		JobID:   jobID,
		State:   record.State,
		Message: "cancellation requested; the worker will observe it cooperatively",
	}, nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"
