package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/queue"
	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

// processMessage runs one dequeued message through the job state machine:
//
//	dequeue -> if no job_id/payload_json -> DLQ (which ACKs)
//	         -> if job record missing    -> ACK, skip
//	         -> if canceled flag set     -> mark CANCELED, ACK
//	         -> mark RUNNING(retries)
//	         -> execute pipeline + filter
//	            success -> mark SUCCEEDED(result), ACK
//	            failure -> retry with backoff, or FAILED + DLQ
//
// The original stream message is ACKed on every path so a single
// message is never redelivered by the consumer group after this
// function returns (no poison-pill loops).
func (p *Pool) processMessage(ctx context.Context, msg queue.Message) {
	if msg.JobID != "" {
		ctx = logger.ContextWithJobID(ctx, msg.JobID)
	}

	if msg.JobID == "" || msg.PayloadJSON == "" {
		p.log.WarnContext(ctx, "message missing job_id or payload_json; dead-lettering", "message_id", msg.ID)
		_ = p.queue.MoveToDLQ(ctx, msg, "message missing job_id or payload_json")
		return
	}

	record, err := p.queue.GetJobRecord(ctx, msg.JobID)
	if err != nil {
		p.log.WarnContext(ctx, "job record missing for dequeued message; acking and skipping", "job_id", msg.JobID, "error", err)
		_ = p.queue.Ack(ctx, msg.ID)
		return
	}

	if record.Canceled {
		if err := p.queue.MarkCanceled(ctx, msg.JobID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark canceled job", "job_id", msg.JobID, "error", err)
		}
		_ = p.queue.Ack(ctx, msg.ID)
		p.collector.RecordJobOutcome(jobmodel.StateCanceled, 0, 0, 0, 0)
		p.log.InfoContext(ctx, "job canceled before processing", "job_id", msg.JobID)
		return
	}

	var sub searchmodel.Submission
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &sub); err != nil {
		p.log.ErrorContext(ctx, "payload_json decode failed; dead-lettering", "job_id", msg.JobID, "error", err)
		errMsg := "payload_json decode failed: " + err.Error()
		if err := p.queue.MarkFailed(ctx, msg.JobID, errMsg, msg.Retries); err != nil {
			p.log.ErrorContext(ctx, "failed to mark failed", "job_id", msg.JobID, "error", err)
		}
		_ = p.queue.MoveToDLQ(ctx, msg, errMsg)
		return
	}
	sub.JobID = msg.JobID

	if err := p.queue.MarkRunning(ctx, msg.JobID, msg.Retries); err != nil {
		p.log.ErrorContext(ctx, "failed to mark running", "job_id", msg.JobID, "error", err)
	}

	start := time.Now()
	resultJSON, execErr := p.executor.ExecuteSearchJob(ctx, &sub)
	elapsed := time.Since(start)

	if execErr == nil {
		p.handleSuccess(ctx, msg, resultJSON, elapsed)
		return
	}
	if errors.Is(execErr, vterrors.ErrJobCanceled) {
		if err := p.queue.MarkCanceled(ctx, msg.JobID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark canceled job", "job_id", msg.JobID, "error", err)
		}
		_ = p.queue.Ack(ctx, msg.ID)
		p.collector.RecordJobOutcome(jobmodel.StateCanceled, 0, 0, 0, 0)
		p.log.InfoContext(ctx, "job canceled during execution", "job_id", msg.JobID)
		return
	}
	p.handleFailure(ctx, msg, execErr)
}

func (p *Pool) handleSuccess(ctx context.Context, msg queue.Message, resultJSON string, elapsed time.Duration) {
	if err := p.queue.MarkSucceeded(ctx, msg.JobID, resultJSON); err != nil {
		p.log.ErrorContext(ctx, "failed to mark succeeded", "job_id", msg.JobID, "error", err)
	}
	if err := p.queue.Ack(ctx, msg.ID); err != nil {
		p.log.ErrorContext(ctx, "failed to ack succeeded message", "job_id", msg.JobID, "error", err)
	}

	entries, pages, kept := resultCounts(resultJSON)
	p.collector.RecordJobOutcome(jobmodel.StateSucceeded, elapsed, entries, pages, kept)
	p.log.InfoContext(ctx, "search job succeeded", "job_id", msg.JobID, "elapsed_ms", elapsed.Milliseconds(),
		"entry_count", entries, "page_count", pages, "kept_count", kept)
}

func (p *Pool) handleFailure(ctx context.Context, msg queue.Message, execErr error) {
	next := msg.Retries + 1
	errMsg := execErr.Error()

	if next <= p.searchCfg.MaxRetries {
		if err := p.queue.MarkPendingRetry(ctx, msg.JobID, errMsg, next); err != nil {
			p.log.ErrorContext(ctx, "failed to mark pending retry", "job_id", msg.JobID, "error", err)
		}
		if _, err := p.queue.Enqueue(ctx, msg.JobID, msg.PayloadJSON, next, msg.ModuleName); err != nil {
			p.log.ErrorContext(ctx, "failed to re-enqueue retry", "job_id", msg.JobID, "error", err)
		}
		if err := p.queue.Ack(ctx, msg.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to ack retried message", "job_id", msg.JobID, "error", err)
		}
		p.log.WarnContext(ctx, "search job failed, scheduling retry", "job_id", msg.JobID, "retry", next, "error", errMsg)

		time.Sleep(computeBackoff(next, p.searchCfg.RetryBaseMS, p.searchCfg.RetryMaxMS))
		return
	}

	// retries counts re-enqueues, and this final attempt is not re-enqueued.
	if err := p.queue.MarkFailed(ctx, msg.JobID, errMsg, msg.Retries); err != nil {
		p.log.ErrorContext(ctx, "failed to mark failed", "job_id", msg.JobID, "error", err)
	}
	if err := p.queue.MoveToDLQ(ctx, msg, errMsg); err != nil {
		p.log.ErrorContext(ctx, "failed to dead-letter message", "job_id", msg.JobID, "error", err)
	}
	p.collector.RecordJobOutcome(jobmodel.StateFailed, 0, 0, 0, 0)
	p.log.ErrorContext(ctx, "search job failed permanently", "job_id", msg.JobID, "retries", msg.Retries, "error", errMsg)
}

// computeBackoff returns the deterministic retry delay:
// min(retry_base_ms * 2^(next-1), retry_max_ms). No jitter.
func computeBackoff(next int, base, max time.Duration) time.Duration {
	shifted := base * time.Duration(uint64(1)<<uint(next-1))
	if shifted <= 0 || shifted > max {
		return max
	}
	return shifted
}

func resultCounts(resultJSON string) (entries, pages, kept int) {
	var result searchmodel.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return 0, 0, 0
	}
	return result.Metrics.EntryCount, result.Metrics.PageCount, result.Metrics.KeptCount
}
