// Package queue implements the Redis Streams-backed job queue: consumer
// group delivery for the search stream, a dead-letter stream for exhausted
// retries, and the job:<job_id> state hash that tracks a job from
// submission through a terminal state.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

// Message is a single entry read off the search stream via the consumer
// group, carrying enough of the job to run the pipeline and to ack/DLQ it.
type Message struct {
	ID          string
	JobID       string
	PayloadJSON string
	Retries     int
	ModuleName  string
}

// Queue is the Redis Streams adapter for search jobs.
type Queue struct {
	client *redis.Client
	cfg    config.QueueConfig
}

// New connects to Redis and returns a Queue. It does not ensure the
// consumer group exists; call EnsureConsumerGroup once at startup.
func New(cfg config.QueueConfig) (*Queue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrConfiguration, "parse REDIS_URL", err)
	}

	// Tuned pool sizing mirrors a long-lived worker process: enough
	// connections to cover concurrent XREADGROUP/XADD/HSET traffic without
	// starving the client under load spikes.
	opts.PoolSize = 20
	opts.MinIdleConns = 5
	opts.PoolTimeout = 4 * time.Second
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.WorkerBlock + 5*time.Second

	client := redis.NewClient(opts)

	return &Queue{client: client, cfg: cfg}, nil
}

// NewWithClient wraps an existing redis.Client, used by tests against miniredis.
func NewWithClient(client *redis.Client, cfg config.QueueConfig) *Queue {
	return &Queue{client: client, cfg: cfg}
}

// Close releases the underlying Redis connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

// EnsureConsumerGroup creates the consumer group on the search stream if it
// does not already exist, tolerating the BUSYGROUP race between concurrent
// worker startups.
func (q *Queue) EnsureConsumerGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.StreamSearch, q.cfg.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return vterrors.Wrapf(vterrors.ErrConfiguration, "create consumer group", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// QueueDepth returns the current length of the search stream.
func (q *Queue) QueueDepth(ctx context.Context) (int64, error) {
	depth, err := q.client.XLen(ctx, q.cfg.StreamSearch).Result()
	if err != nil {
		return 0, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xlen", err)
	}
	return depth, nil
}

// DeadLetterLen returns the current length of the dead-letter stream.
func (q *Queue) DeadLetterLen(ctx context.Context) (int64, error) {
	depth, err := q.client.XLen(ctx, q.cfg.StreamSearchDLQ).Result()
	if err != nil {
		return 0, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xlen dlq", err)
	}
	return depth, nil
}

// DeadLetterEntry is one dead-lettered job as recorded on the DLQ stream.
type DeadLetterEntry struct {
	MessageID string
	JobID     string
	Error     string
	Payload   string
}

// DeadLetterEntries returns up to count of the oldest dead-lettered jobs,
// for out-of-band inspection or manual replay tooling. There is no
// automatic re-drive: an operator decides whether a dead-lettered job is
// worth resubmitting.
func (q *Queue) DeadLetterEntries(ctx context.Context, count int64) ([]DeadLetterEntry, error) {
	msgs, err := q.client.XRangeN(ctx, q.cfg.StreamSearchDLQ, "-", "+", count).Result()
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xrange dlq", err)
	}

	entries := make([]DeadLetterEntry, 0, len(msgs))
	for _, m := range msgs {
		entry := DeadLetterEntry{MessageID: m.ID}
		if v, ok := m.Values["job_id"].(string); ok {
			entry.JobID = v
		}
		if v, ok := m.Values["error"].(string); ok {
			entry.Error = v
		}
		if v, ok := m.Values["payload_json"].(string); ok {
			entry.Payload = v
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GuardCapacity rejects new submissions once the queue depth reaches the
// configured rejection threshold, giving callers a fast failure instead of
// an unbounded backlog.
func (q *Queue) GuardCapacity(ctx context.Context) error {
	depth, err := q.QueueDepth(ctx)
	if err != nil {
		return err
	}
	if depth >= q.cfg.QueueRejectAt {
		return vterrors.Wrap(vterrors.ErrQueueOverloaded,
			fmt.Sprintf("queue saturated: depth=%d reject_at=%d", depth, q.cfg.QueueRejectAt))
	}
	return nil
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

// CreateJobRecord initializes the PENDING job state hash and sets its TTL.
func (q *Queue) CreateJobRecord(ctx context.Context, jobID, payloadJSON, moduleName string) error {
	now := nowISO()
	key := jobKey(jobID)

	mapping := map[string]interface{}{
		"job_id":       jobID,
		"state":        string(jobmodel.StatePending),
		"retries":      "0",
		"canceled":     "0",
		"created_at":   now,
		"updated_at":   now,
		"module_name":  moduleName,
		"payload_json": payloadJSON,
		"last_error":   "",
		"result_json":  "",
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, mapping)
	pipe.Expire(ctx, key, q.cfg.ResultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "create job record", err)
	}
	return nil
}

// Enqueue appends the job onto the search stream, trimming the stream first
// if it has grown past QueueMaxLen. Returns the stream message ID.
func (q *Queue) Enqueue(ctx context.Context, jobID, payloadJSON string, retries int, moduleName string) (string, error) {
	if err := q.truncateIfNeeded(ctx); err != nil {
		return "", err
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.StreamSearch,
		Values: map[string]interface{}{
			"job_id":       jobID,
			"payload_json": payloadJSON,
			"retries":      strconv.Itoa(retries),
			"module_name":  moduleName,
			"enqueued_at":  nowISO(),
		},
	}).Result()
	if err != nil {
		return "", vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xadd", err)
	}
	return id, nil
}

func (q *Queue) truncateIfNeeded(ctx context.Context) error {
	depth, err := q.QueueDepth(ctx)
	if err != nil {
		return err
	}
	if depth <= q.cfg.QueueMaxLen {
		return nil
	}
	if err := q.client.XTrimMaxLenApprox(ctx, q.cfg.StreamSearch, q.cfg.QueueMaxLen, 0).Err(); err != nil {
		return vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xtrim", err)
	}
	return nil
}

// Read blocks for up to WorkerBlock waiting for new messages assigned to
// this consumer within the consumer group.
func (q *Queue) Read(ctx context.Context, consumerName string, count int64) ([]Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.ConsumerGroup,
		Consumer: consumerName,
		Streams:  []string{q.cfg.StreamSearch, ">"},
		Count:    count,
		Block:    q.cfg.WorkerBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xreadgroup", err)
	}

	var messages []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			messages = append(messages, messageFromEntry(entry))
		}
	}
	return messages, nil
}

func messageFromEntry(entry redis.XMessage) Message {
	msg := Message{ID: entry.ID}
	if v, ok := entry.Values["job_id"].(string); ok {
		msg.JobID = v
	}
	if v, ok := entry.Values["payload_json"].(string); ok {
		msg.PayloadJSON = v
	}
	if v, ok := entry.Values["retries"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.Retries = n
		}
	}
	if v, ok := entry.Values["module_name"].(string); ok {
		msg.ModuleName = v
	}
	return msg
}

// Ack acknowledges a processed message, removing it from the pending
// entries list for this consumer group.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	if err := q.client.XAck(ctx, q.cfg.StreamSearch, q.cfg.ConsumerGroup, messageID).Err(); err != nil {
		return vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xack", err)
	}
	return nil
}

// MoveToDLQ appends the message to the dead-letter stream with the error
// that exhausted its retries, then acks the original.
func (q *Queue) MoveToDLQ(ctx context.Context, msg Message, errMessage string) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.StreamSearchDLQ,
		Values: map[string]interface{}{
			"job_id":       msg.JobID,
			"payload_json": msg.PayloadJSON,
			"retries":      strconv.Itoa(msg.Retries),
			"module_name":  msg.ModuleName,
			"moved_at":     nowISO(),
			"error":        errMessage,
		},
	}).Result()
	if err != nil {
		return vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xadd dlq", err)
	}
	return q.Ack(ctx, msg.ID)
}

// GetJobRecord reads the job state hash. Returns vterrors.ErrJobNotFound if
// the hash is missing or has already expired.
func (q *Queue) GetJobRecord(ctx context.Context, jobID string) (*jobmodel.Record, error) {
	values, err := q.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "hgetall", err)
	}
	if len(values) == 0 {
		return nil, vterrors.Wrap(vterrors.ErrJobNotFound, "job "+jobID+" not found")
	}
	return recordFromHash(jobID, values), nil
}

func recordFromHash(jobID string, values map[string]string) *jobmodel.Record {
	r := &jobmodel.Record{
		JobID:       jobID,
		State:       jobmodel.State(values["state"]),
		PayloadJSON: values["payload_json"],
		ResultJSON:  values["result_json"],
		LastError:   values["last_error"],
		ModuleName:  values["module_name"],
	}
	if v, err := strconv.Atoi(values["retries"]); err == nil {
		r.Retries = v
	}
	r.Canceled = values["canceled"] == "1"
	r.CreatedAt = parseISO(values["created_at"])
	r.UpdatedAt = parseISO(values["updated_at"])
	r.CompletedAt = parseISO(values["completed_at"])
	return r
}

// UpdateJobRecord performs a partial update of the job state hash and
// refreshes its TTL. Every state transition in the system goes through this
// one method so the TTL never goes stale while a job is still active.
func (q *Queue) UpdateJobRecord(ctx context.Context, jobID string, fields map[string]string) error {
	key := jobKey(jobID)
	mapping := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		mapping[k] = v
	}
	mapping["updated_at"] = nowISO()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, mapping)
	pipe.Expire(ctx, key, q.cfg.ResultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "update job record", err)
	}
	return nil
}

// MarkRunning transitions a job to RUNNING with its current retry count.
func (q *Queue) MarkRunning(ctx context.Context, jobID string, retries int) error {
	return q.UpdateJobRecord(ctx, jobID, map[string]string{
		"state":   string(jobmodel.StateRunning),
		"retries": strconv.Itoa(retries),
	})
}

// MarkSucceeded transitions a job to SUCCEEDED and stores its result.
func (q *Queue) MarkSucceeded(ctx context.Context, jobID, resultJSON string) error {
	return q.UpdateJobRecord(ctx, jobID, map[string]string{
		"state":        string(jobmodel.StateSucceeded),
		"result_json":  resultJSON,
		"completed_at": nowISO(),
		"last_error":   "",
	})
}

// MarkFailed transitions a job to FAILED after retries are exhausted.
func (q *Queue) MarkFailed(ctx context.Context, jobID, errMessage string, retries int) error {
	return q.UpdateJobRecord(ctx, jobID, map[string]string{
		"state":        string(jobmodel.StateFailed),
		"retries":      strconv.Itoa(retries),
		"last_error":   errMessage,
		"completed_at": nowISO(),
	})
}

// MarkPendingRetry returns a job to PENDING after a retriable failure.
func (q *Queue) MarkPendingRetry(ctx context.Context, jobID, errMessage string, retries int) error {
	return q.UpdateJobRecord(ctx, jobID, map[string]string{
		"state":      string(jobmodel.StatePending),
		"retries":    strconv.Itoa(retries),
		"last_error": errMessage,
	})
}

// MarkCanceled transitions a job to CANCELED immediately (used by CancelJob
// for a job still PENDING, and by the worker when it observes the cancel
// flag).
func (q *Queue) MarkCanceled(ctx context.Context, jobID string) error {
	return q.UpdateJobRecord(ctx, jobID, map[string]string{
		"state":        string(jobmodel.StateCanceled),
		"canceled":     "1",
		"completed_at": nowISO(),
	})
}

// MarkCancelRequested flags a RUNNING job for cooperative cancellation
// without changing its state; the worker observes the flag on its next
// checkpoint and transitions it to CANCELED itself.
func (q *Queue) MarkCancelRequested(ctx context.Context, jobID string) error {
	return q.UpdateJobRecord(ctx, jobID, map[string]string{
		"canceled": "1",
	})
}

// Pending describes one entry in the consumer group's pending entries list,
// used by the sweeper to find and reclaim abandoned messages.
type Pending struct {
	MessageID  string
	Idle       time.Duration
	Deliveries int64
}

// PendingOlderThan returns up to count pending entries idle for at least
// minIdle, across all consumers in the group.
func (q *Queue) PendingOlderThan(ctx context.Context, minIdle time.Duration, count int64) ([]Pending, error) {
	res, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.StreamSearch,
		Group:  q.cfg.ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xpending", err)
	}

	var stale []Pending
	for _, p := range res {
		if p.Idle < minIdle {
			continue
		}
		stale = append(stale, Pending{MessageID: p.ID, Idle: p.Idle, Deliveries: p.RetryCount})
	}
	return stale, nil
}

// Claim reassigns the given pending message IDs to consumerName, returning
// the reclaimed messages so the caller can reprocess or dead-letter them.
func (q *Queue) Claim(ctx context.Context, consumerName string, minIdle time.Duration, messageIDs []string) ([]Message, error) {
	entries, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.StreamSearch,
		Group:    q.cfg.ConsumerGroup,
		Consumer: consumerName,
		MinIdle:  minIdle,
		Messages: messageIDs,
	}).Result()
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "xclaim", err)
	}

	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		messages = append(messages, messageFromEntry(entry))
	}
	return messages, nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseISO(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MarshalPayload is a convenience wrapper shared by submission and worker
// retry paths, kept here so both sides serialize payloads identically.
func MarshalPayload(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}
