// Package engine wires the submission, query, pipeline, filter, and
// worker components into a single public facade: SubmitSearch, GetJob,
// FetchResult, CancelJob, RunWorkerOnce, and RunWorkerForever.
package engine

import (
	"context"
	"fmt"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/filter"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/metrics"
	"github.com/vtreesearch/vtreesearch/internal/pipeline"
	"github.com/vtreesearch/vtreesearch/internal/postgres"
	"github.com/vtreesearch/vtreesearch/internal/query"
	"github.com/vtreesearch/vtreesearch/internal/queue"
	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
	"github.com/vtreesearch/vtreesearch/internal/submission"
	"github.com/vtreesearch/vtreesearch/internal/worker"
)

// Engine is the wire-agnostic public programmatic surface of the service.
type Engine struct {
	cfg        *config.Config
	q          *queue.Queue
	store      *postgres.Store
	submission *submission.Service
	query      *query.Service
	pool       *worker.Pool
	collector  *metrics.Collector
	log        logger.Logger
}

// New opens the Redis queue and Postgres pool, builds the pipeline and
// relevance judge, and assembles the submission/query services and the
// worker pool.
func New(cfg *config.Config, log logger.Logger) (*Engine, error) {
	q, err := queue.New(cfg.Queue)
	if err != nil {
		return nil, err
	}

	store, err := postgres.Open(cfg.Postgres, log)
	if err != nil {
		return nil, err
	}

	collector := metrics.Default()

	judge := buildJudge(cfg.Filter)
	pl := pipeline.New(store, log)
	cancelCheck := func(ctx context.Context, jobID string) bool {
		record, err := q.GetJobRecord(ctx, jobID)
		return err == nil && record.Canceled
	}
	executor := worker.NewExecutor(pl, judge, cancelCheck, log)
	pool := worker.NewPool(executor, q, cfg.Search, collector, log)

	sub := submission.New(q, cfg.Postgres, cfg.Search, cfg.Postgres.EmbeddingDim, cfg.Queue.ModuleName, collector, log)
	qy := query.New(q, log)

	return &Engine{
		cfg:        cfg,
		q:          q,
		store:      store,
		submission: sub,
		query:      qy,
		pool:       pool,
		collector:  collector,
		log:        log,
	}, nil
}

func buildJudge(cfg config.FilterConfig) filter.Judge {
	if !cfg.Enabled {
		return filter.KeepAllJudge
	}
	return filter.NewHTTPJudge(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout).Judge
}

// EnsureConsumerGroup creates the consumer group on the search stream if
// it does not already exist. Call once at startup before RunWorkerOnce
// or RunWorkerForever.
func (e *Engine) EnsureConsumerGroup(ctx context.Context) error {
	return e.q.EnsureConsumerGroup(ctx)
}

// Close releases the Postgres pool and Redis connection.
func (e *Engine) Close() error {
	storeErr := e.store.Close()
	queueErr := e.q.Close()
	if storeErr != nil {
		return fmt.Errorf("close postgres: %w", storeErr)
	}
	if queueErr != nil {
		return fmt.Errorf("close redis: %w", queueErr)
	}
	return nil
}

// Pool exposes the underlying worker pool so the sweeper can drive
// pending-entry reclamation against it.
func (e *Engine) Pool() *worker.Pool {
	return e.pool
}

// SubmitSearch validates and enqueues a new search job.
func (e *Engine) SubmitSearch(ctx context.Context, questionText string, queryEmbedding []float32, topK int, metadata map[string]interface{}) (*searchmodel.Accepted, error) {
	return e.submission.SubmitSearch(ctx, questionText, queryEmbedding, topK, metadata)
}

// GetJob returns the point-in-time status of a job.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*searchmodel.Status, error) {
	return e.query.GetJob(ctx, jobID)
}

// FetchResult returns the decoded result of a SUCCEEDED job.
func (e *Engine) FetchResult(ctx context.Context, jobID string) (*searchmodel.Result, error) {
	return e.query.FetchResult(ctx, jobID)
}

// CancelJob requests cancellation of a job.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (*searchmodel.Canceled, error) {
	return e.query.CancelJob(ctx, jobID)
}

// RunWorkerOnce processes up to maxItems messages and returns the count.
func (e *Engine) RunWorkerOnce(ctx context.Context, consumerName string, maxItems int) (int, error) {
	return e.pool.RunOnce(ctx, consumerName, maxItems)
}

// RunWorkerForever loops the worker until ctx is canceled.
func (e *Engine) RunWorkerForever(ctx context.Context, consumerName string) {
	e.pool.RunForever(ctx, consumerName)
}
