// Package worker implements the Worker Loop: a consumer-group reader
// that dequeues search jobs, drives them through the retrieval pipeline
// and relevance filter, and applies the retry/dead-letter state machine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vtreesearch/vtreesearch/internal/filter"
	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/pipeline"
	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
	"github.com/vtreesearch/vtreesearch/internal/vtpanic"
)

// CancelCheck reports whether cancellation has been requested for jobID.
// Cancellation is cooperative: the executor consults it once, after the
// retrieval pipeline returns and before the relevance filter, never
// mid-query; no check is made between the summary and page stages.
type CancelCheck func(ctx context.Context, jobID string) bool

// Executor runs the two-stage retrieval pipeline and the relevance
// filter for a single dequeued search job, producing the SUCCEEDED
// result_json the state machine writes back, or an error the caller
// turns into a retry or dead-letter decision.
type Executor struct {
	pipeline    *pipeline.Pipeline
	judge       filter.Judge
	cancelCheck CancelCheck
	log         logger.Logger
}

// NewExecutor builds an Executor over the given pipeline and relevance
// judge. judge may be an HTTPJudge, a StaticJudge, or any function
// matching filter.Judge. cancelCheck may be nil, disabling the
// mid-execution cancellation checkpoint.
func NewExecutor(p *pipeline.Pipeline, judge filter.Judge, cancelCheck CancelCheck, log logger.Logger) *Executor {
	return &Executor{pipeline: p, judge: judge, cancelCheck: cancelCheck, log: log.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceJob)}
}

// ExecuteSearchJob runs the pipeline, then the relevance filter, for
// sub, recovering from any panic raised on the calling goroutine so one
// bad job does not take down the worker loop — the panic is surfaced as
// an ordinary error, which the caller's retry/DLQ logic handles like any
// other pipeline failure. A panic inside the pipeline's concurrent page
// fetches runs on an errgroup goroutine and is not recovered here.
func (e *Executor) ExecuteSearchJob(ctx context.Context, sub *searchmodel.Submission) (resultJSON string, err error) {
	defer func() {
		if recErr := vtpanic.Recover(recover()); recErr != nil {
			if rec, ok := recErr.(*vtpanic.Recovered); ok {
				e.log.ErrorContext(ctx, "pipeline panic recovered", "job_id", sub.JobID, "panic", vtpanic.FormatForLog(rec))
			}
			err = fmt.Errorf("pipeline panic: %w", recErr)
		}
	}()

	candidates, m, err := e.pipeline.Run(ctx, sub)
	if err != nil {
		return "", err
	}

	// Checkpoint before the relevance call, so a cancellation requested
	// while the retrieval stages ran skips the most expensive stage.
	if e.cancelCheck != nil && e.cancelCheck(ctx, sub.JobID) {
		return "", vterrors.Wrap(vterrors.ErrJobCanceled, "cancellation observed before relevance filter")
	}

	kept, err := filter.Run(ctx, e.judge, sub.QueryText, candidates, sub.TopK)
	if err != nil {
		return "", err
	}
	m.KeptCount = len(kept)

	result := searchmodel.Result{
		JobID:      sub.JobID,
		State:      jobmodel.StateSucceeded,
		Candidates: kept,
		Metrics:    m,
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(payload), nil
}
