package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

func testConfig(addr string) *config.Config {
	return &config.Config{
		APIPort: "8080",
		Postgres: config.PostgresConfig{
			Host:             "localhost",
			Port:             5432,
			User:             "vtreesearch",
			Database:         "vtreesearch",
			SummaryTable:     "summary_nodes",
			PageTable:        "page_nodes",
			EmbeddingDim:     3,
			PoolMin:          1,
			PoolMax:          4,
			ConnectTimeout:   time.Second,
			StatementTimeout: time.Second,
		},
		Queue: config.QueueConfig{
			RedisURL:        "redis://" + addr,
			StreamSearch:    "search:stream",
			StreamSearchDLQ: "search:dlq",
			ConsumerGroup:   "search-workers",
			QueueMaxLen:     1000,
			QueueRejectAt:   900,
			ResultTTL:       time.Hour,
			WorkerBlock:     20 * time.Millisecond,
			ModuleName:      "VtreeSearch",
		},
		Search: config.SearchConfig{
			WorkerConcurrency: 2,
			MaxRetries:        1,
			RetryBaseMS:       time.Millisecond,
			RetryMaxMS:        5 * time.Millisecond,
			EntryLimit:        5,
			PageLimit:         10,
		},
		Filter:  config.FilterConfig{Enabled: false},
		Logging: logger.DefaultConfig(),
	}
}

func newTestEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	eng, err := New(testConfig(mr.Addr()), &logger.NoOpLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng, mr
}

func TestSubmitThenGetJob(t *testing.T) {
	eng, mr := newTestEngine(t)
	defer mr.Close()
	ctx := context.Background()

	accepted, err := eng.SubmitSearch(ctx, "battery life", []float32{0.1, 0.2, 0.3}, 3, nil)
	if err != nil {
		t.Fatalf("SubmitSearch: %v", err)
	}
	if accepted.State != jobmodel.StatePending {
		t.Fatalf("expected PENDING, got %s", accepted.State)
	}

	status, err := eng.GetJob(ctx, accepted.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if status.State != jobmodel.StatePending || status.Retries != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestDistinctSubmissionsMintDistinctJobIDs(t *testing.T) {
	eng, mr := newTestEngine(t)
	defer mr.Close()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		accepted, err := eng.SubmitSearch(ctx, "q", []float32{0.1, 0.2, 0.3}, 1, nil)
		if err != nil {
			t.Fatalf("SubmitSearch %d: %v", i, err)
		}
		if seen[accepted.JobID] {
			t.Fatalf("duplicate job_id minted: %s", accepted.JobID)
		}
		seen[accepted.JobID] = true
	}
}

func TestCancelPendingThenFetchResultFails(t *testing.T) {
	eng, mr := newTestEngine(t)
	defer mr.Close()
	ctx := context.Background()

	accepted, err := eng.SubmitSearch(ctx, "q", []float32{0.1, 0.2, 0.3}, 1, nil)
	if err != nil {
		t.Fatalf("SubmitSearch: %v", err)
	}

	canceled, err := eng.CancelJob(ctx, accepted.JobID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if canceled.State != jobmodel.StateCanceled {
		t.Fatalf("expected CANCELED, got %s", canceled.State)
	}

	if _, err := eng.FetchResult(ctx, accepted.JobID); !errors.Is(err, vterrors.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed for a canceled job, got %v", err)
	}
}

func TestWorkerDoesNotOverwriteCanceledJob(t *testing.T) {
	eng, mr := newTestEngine(t)
	defer mr.Close()
	ctx := context.Background()

	if err := eng.EnsureConsumerGroup(ctx); err != nil {
		t.Fatalf("EnsureConsumerGroup: %v", err)
	}

	accepted, err := eng.SubmitSearch(ctx, "q", []float32{0.1, 0.2, 0.3}, 1, nil)
	if err != nil {
		t.Fatalf("SubmitSearch: %v", err)
	}
	if _, err := eng.CancelJob(ctx, accepted.JobID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	if _, err := eng.RunWorkerOnce(ctx, "consumer-a", 1); err != nil {
		t.Fatalf("RunWorkerOnce: %v", err)
	}

	status, err := eng.GetJob(ctx, accepted.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if status.State != jobmodel.StateCanceled {
		t.Fatalf("expected CANCELED to stick after the worker dequeued the message, got %s", status.State)
	}
}
