package submission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/metrics"
	"github.com/vtreesearch/vtreesearch/internal/queue"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

func testQueueConfig(addr string) config.QueueConfig {
	return config.QueueConfig{
		RedisURL:        "redis://" + addr,
		StreamSearch:    "search:stream",
		StreamSearchDLQ: "search:dlq",
		ConsumerGroup:   "search-workers",
		QueueMaxLen:     1000,
		QueueRejectAt:   900,
		ResultTTL:       time.Hour,
		WorkerBlock:     50 * time.Millisecond,
		ModuleName:      "VtreeSearch",
	}
}

func newTestService(t *testing.T) (*Service, *queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := testQueueConfig(mr.Addr())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewWithClient(client, cfg)

	pg := config.PostgresConfig{
		SummaryTable: "summary_nodes",
		PageTable:    "page_nodes",
		PoolMin:      1,
		PoolMax:      4,
	}
	search := config.SearchConfig{
		WorkerConcurrency: 4,
		MaxRetries:        3,
		EntryLimit:        10,
		PageLimit:         10,
	}
	svc := New(q, pg, search, 3, cfg.ModuleName, metrics.NewCollector(), &logger.NoOpLogger{})
	return svc, q, mr
}

func TestSubmitSearchHappyPath(t *testing.T) {
	svc, q, mr := newTestService(t)
	defer mr.Close()
	ctx := context.Background()

	accepted, err := svc.SubmitSearch(ctx, "what is the refund window", []float32{0.1, 0.2, 0.3}, 5, nil)
	if err != nil {
		t.Fatalf("SubmitSearch() error = %v", err)
	}
	if accepted.State != jobmodel.StatePending {
		t.Fatalf("expected PENDING, got %s", accepted.State)
	}
	if accepted.JobID == "" {
		t.Fatal("expected a non-empty job_id")
	}

	record, err := q.GetJobRecord(ctx, accepted.JobID)
	if err != nil {
		t.Fatalf("GetJobRecord: %v", err)
	}
	if record.State != jobmodel.StatePending {
		t.Fatalf("expected job record PENDING, got %s", record.State)
	}
}

func TestSubmitSearchRejectsEmptyEmbedding(t *testing.T) {
	svc, _, mr := newTestService(t)
	defer mr.Close()

	_, err := svc.SubmitSearch(context.Background(), "question", nil, 5, nil)
	if err == nil {
		t.Fatal("expected validation error for empty embedding")
	}
	if !strings.Contains(err.Error(), "invalid submission") {
		t.Fatalf("expected wrapped configuration error, got %v", err)
	}
}

func TestSubmitSearchRejectsDimensionMismatch(t *testing.T) {
	svc, _, mr := newTestService(t)
	defer mr.Close()

	_, err := svc.SubmitSearch(context.Background(), "question", []float32{0.1, 0.2}, 5, nil)
	if err == nil {
		t.Fatal("expected embedding dimension mismatch to be rejected")
	}
}

func TestSubmitSearchRejectsInvalidTopK(t *testing.T) {
	svc, _, mr := newTestService(t)
	defer mr.Close()

	_, err := svc.SubmitSearch(context.Background(), "question", []float32{0.1, 0.2, 0.3}, 0, nil)
	if err == nil {
		t.Fatal("expected top_k < 1 to be rejected")
	}
}

func TestSubmitSearchRejectsWhenQueueOverloaded(t *testing.T) {
	svc, _, mr := newTestService(t)
	defer mr.Close()
	svc.queue = queue.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), func() config.QueueConfig {
		cfg := testQueueConfig(mr.Addr())
		cfg.QueueRejectAt = 0
		return cfg
	}())

	_, err := svc.SubmitSearch(context.Background(), "question", []float32{0.1, 0.2, 0.3}, 5, nil)
	if err == nil {
		t.Fatal("expected queue overload rejection")
	}
	if !errors.Is(err, vterrors.ErrQueueOverloaded) {
		t.Fatalf("expected ErrQueueOverloaded, got %v", err)
	}
}
