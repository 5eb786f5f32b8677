package worker

import (
	"context"
	"time"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/metrics"
	"github.com/vtreesearch/vtreesearch/internal/queue"
)

// idlePoll is how long RunForever sleeps after a blocking read yields
// nothing, to avoid tight-polling the consumer group.
const idlePoll = 50 * time.Millisecond

// Pool drives a consumer-group reader against the search stream,
// running each dequeued message through processMessage. Multiple Pool
// instances, in the same or different processes, may share a consumer
// group: Redis Streams guarantees each message is delivered to at most
// one consumer in the group, so no additional coordination is needed
// here. Each RunOnce/RunForever call processes its messages strictly
// sequentially; cmd/worker runs several such loops concurrently against
// one Pool, each under its own consumer name. worker_concurrency in the
// submission governs intra-pipeline parallelism inside Executor.
type Pool struct {
	executor  *Executor
	queue     *queue.Queue
	searchCfg config.SearchConfig
	collector *metrics.Collector
	log       logger.Logger
}

// NewPool builds a Pool over the given executor and queue adapter.
func NewPool(executor *Executor, q *queue.Queue, searchCfg config.SearchConfig, collector *metrics.Collector, log logger.Logger) *Pool {
	return &Pool{
		executor:  executor,
		queue:     q,
		searchCfg: searchCfg,
		collector: collector,
		log:       log.WithComponent(logger.ComponentWorker),
	}
}

// RunOnce implements run_worker_once: it processes up to maxItems
// messages read under consumerName and returns the count actually
// processed. Reading an empty stream returns 0 with Redis unchanged.
func (p *Pool) RunOnce(ctx context.Context, consumerName string, maxItems int) (int, error) {
	ctx = logger.ContextWithWorkerID(ctx, consumerName)
	processed := 0
	for processed < maxItems {
		messages, err := p.queue.Read(ctx, consumerName, 1)
		if err != nil {
			return processed, err
		}
		if len(messages) == 0 {
			return processed, nil
		}
		for _, msg := range messages {
			p.processMessage(ctx, msg)
			processed++
			if processed >= maxItems {
				break
			}
		}
	}
	return processed, nil
}

// RunForever implements run_worker_forever: it loops RunOnce until ctx
// is canceled, sleeping idlePoll whenever the stream yields nothing.
func (p *Pool) RunForever(ctx context.Context, consumerName string) {
	p.log.InfoContext(ctx, "worker loop starting", "consumer", consumerName)
	for {
		select {
		case <-ctx.Done():
			p.log.InfoContext(ctx, "worker loop stopping", "consumer", consumerName)
			return
		default:
		}

		n, err := p.RunOnce(ctx, consumerName, 1)
		if err != nil {
			p.log.ErrorContext(ctx, "worker read failed", "consumer", consumerName, "error", err)
			time.Sleep(idlePoll)
			continue
		}
		if n == 0 {
			time.Sleep(idlePoll)
		}
	}
}

// ReclaimStale finds pending entries idle for at least minIdle, claims
// up to count of them under consumerName, and folds each back through
// the normal processMessage state machine. This is the sweeper's
// reclamation primitive (internal/sweeper), a safeguard against a
// worker that died mid-job without ACKing.
func (p *Pool) ReclaimStale(ctx context.Context, consumerName string, minIdle time.Duration, count int64) (int, error) {
	ctx = logger.ContextWithWorkerID(ctx, consumerName)
	stale, err := p.queue.PendingOlderThan(ctx, minIdle, count)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, entry := range stale {
		ids[i] = entry.MessageID
	}

	messages, err := p.queue.Claim(ctx, consumerName, minIdle, ids)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		p.log.WarnContext(ctx, "reclaiming stale pending message", "job_id", msg.JobID, "message_id", msg.ID)
		p.processMessage(ctx, msg)
	}
	return len(messages), nil
}
