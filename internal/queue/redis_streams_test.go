package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
)

func testConfig(addr string) config.QueueConfig {
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

func setupTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewWithClient(client, cfg)
	return q, mr
}

func TestEnsureConsumerGroupIsIdempotent(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.EnsureConsumerGroup(ctx); err != nil {
		t.Fatalf("first EnsureConsumerGroup: %v", err)
	}
	if err := q.EnsureConsumerGroup(ctx); err != nil {
		t.Fatalf("second EnsureConsumerGroup should tolerate BUSYGROUP: %v", err)
	}
}

func TestCreateJobRecordAndGet(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.CreateJobRecord(ctx, "job-1", `{"job_id":"job-1"}`, "VtreeSearch"); err != nil {
		t.Fatalf("CreateJobRecord: %v", err)
	}

	record, err := q.GetJobRecord(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJobRecord: %v", err)
	}
	if record.State != jobmodel.StatePending {
		t.Fatalf("expected PENDING, got %s", record.State)
	}
	if record.Canceled {
		t.Fatal("expected new record to not be canceled")
	}
	if record.ModuleName != "VtreeSearch" {
		t.Fatalf("expected module_name VtreeSearch, got %s", record.ModuleName)
	}
}

func TestGetJobRecordMissingReturnsNotFound(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()

	if _, err := q.GetJobRecord(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for missing job record")
	}
}

func TestEnqueueAndReadRoundTrip(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.EnsureConsumerGroup(ctx); err != nil {
		t.Fatalf("EnsureConsumerGroup: %v", err)
	}
	if _, err := q.Enqueue(ctx, "job-1", `{"job_id":"job-1"}`, 0, "VtreeSearch"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	messages, err := q.Read(ctx, "consumer-a", 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].JobID != "job-1" {
		t.Fatalf("expected job-1, got %s", messages[0].JobID)
	}
	if messages[0].ModuleName != "VtreeSearch" {
		t.Fatalf("expected module_name VtreeSearch, got %s", messages[0].ModuleName)
	}

	if err := q.Ack(ctx, messages[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestReadEmptyStreamReturnsNoMessages(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.EnsureConsumerGroup(ctx); err != nil {
		t.Fatalf("EnsureConsumerGroup: %v", err)
	}
	messages, err := q.Read(ctx, "consumer-a", 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
}

func TestGuardCapacityRejectsAtThreshold(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()
	q.cfg.QueueRejectAt = 0

	if err := q.GuardCapacity(ctx); err == nil {
		t.Fatal("expected capacity guard to reject when reject_at is 0")
	}
}

func TestMarkSucceededUpdatesRecord(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.CreateJobRecord(ctx, "job-1", `{}`, "VtreeSearch"); err != nil {
		t.Fatalf("CreateJobRecord: %v", err)
	}
	if err := q.MarkSucceeded(ctx, "job-1", `{"job_id":"job-1"}`); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	record, err := q.GetJobRecord(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJobRecord: %v", err)
	}
	if record.State != jobmodel.StateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", record.State)
	}
	if record.ResultJSON == "" {
		t.Fatal("expected result_json to be populated")
	}
}

func TestMarkCanceledFromPending(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.CreateJobRecord(ctx, "job-1", `{}`, "VtreeSearch"); err != nil {
		t.Fatalf("CreateJobRecord: %v", err)
	}
	if err := q.MarkCanceled(ctx, "job-1"); err != nil {
		t.Fatalf("MarkCanceled: %v", err)
	}

	record, err := q.GetJobRecord(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJobRecord: %v", err)
	}
	if record.State != jobmodel.StateCanceled {
		t.Fatalf("expected CANCELED, got %s", record.State)
	}
}

func TestUpdateJobRecordRefreshesTTL(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.CreateJobRecord(ctx, "job-1", `{}`, "VtreeSearch"); err != nil {
		t.Fatalf("CreateJobRecord: %v", err)
	}

	// Advance most of the TTL, then mutate; the mutation must re-arm the
	// TTL so an active job never expires mid-processing.
	mr.FastForward(45 * time.Minute)
	if err := q.MarkRunning(ctx, "job-1", 0); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	mr.FastForward(45 * time.Minute)

	record, err := q.GetJobRecord(ctx, "job-1")
	if err != nil {
		t.Fatalf("expected record to survive past the original TTL window: %v", err)
	}
	if record.State != jobmodel.StateRunning {
		t.Fatalf("expected RUNNING, got %s", record.State)
	}

	// With no further mutation the record expires once the refreshed TTL
	// elapses.
	mr.FastForward(2 * time.Hour)
	if _, err := q.GetJobRecord(ctx, "job-1"); err == nil {
		t.Fatal("expected record to expire after the refreshed TTL elapsed")
	}
}

func TestDeadLetterLenAndEntries(t *testing.T) {
	q, mr := setupTestQueue(t)
	defer mr.Close()
	ctx := context.Background()

	if err := q.EnsureConsumerGroup(ctx); err != nil {
		t.Fatalf("EnsureConsumerGroup: %v", err)
	}
	if _, err := q.Enqueue(ctx, "job-1", `{"job_id":"job-1"}`, 0, "VtreeSearch"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	messages, err := q.Read(ctx, "consumer-a", 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := q.MoveToDLQ(ctx, messages[0], "retries exhausted"); err != nil {
		t.Fatalf("MoveToDLQ: %v", err)
	}

	depth, err := q.DeadLetterLen(ctx)
	if err != nil {
		t.Fatalf("DeadLetterLen: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected DLQ depth 1, got %d", depth)
	}

	entries, err := q.DeadLetterEntries(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetterEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != "job-1" || entries[0].Error != "retries exhausted" {
		t.Fatalf("unexpected DLQ entries: %+v", entries)
	}
}
