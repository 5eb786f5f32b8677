// Package sweeper runs a cron-ticked background reclaim of stream
// entries stuck in a consumer's pending-entries list beyond a claim
// timeout, folding them back through the worker loop's normal
// retry/DLQ decision. It is additive operational tooling: it never
// changes a state transition itself, it just recovers messages a dead
// consumer left pending.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vtreesearch/vtreesearch/internal/logger"
)

// Reclaimer is the subset of *worker.Pool the sweeper needs.
type Reclaimer interface {
	ReclaimStale(ctx context.Context, consumerName string, minIdle time.Duration, count int64) (int, error)
}

// Sweeper periodically reclaims stale pending stream entries on a cron
// schedule.
type Sweeper struct {
	reclaimer    Reclaimer
	consumerName string
	minIdle      time.Duration
	batchSize    int64
	log          logger.Logger

	cron *cron.Cron
}

// New builds a Sweeper that reclaims entries idle for at least minIdle,
// in batches of batchSize, under consumerName.
func New(reclaimer Reclaimer, consumerName string, minIdle time.Duration, batchSize int64, log logger.Logger) *Sweeper {
	return &Sweeper{
		reclaimer:    reclaimer,
		consumerName: consumerName,
		minIdle:      minIdle,
		batchSize:    batchSize,
		log:          log.WithComponent(logger.ComponentSweeper),
		cron:         cron.New(),
	}
}

// Start schedules the reclaim sweep to run every interval (robfig/cron's
// "@every" spec) and begins running it in the background. Call Stop to
// end the schedule.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) error {
	spec := fmt.Sprintf("@every %s", interval)
	_, err := s.cron.AddFunc(spec, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.reclaimer.ReclaimStale(ctx, s.consumerName, s.minIdle, s.batchSize)
	if err != nil {
		s.log.ErrorContext(ctx, "sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.InfoContext(ctx, "reclaimed stale pending messages", "count", n)
	}
}
