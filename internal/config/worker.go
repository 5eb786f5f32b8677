package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// WorkerConfig holds worker-process configuration: how many consumer
// goroutines to run against the search stream and under what consumer name.
type WorkerConfig struct {
	// ConsumerName identifies this worker process within the consumer group.
	// Defaults to "worker-<pid>-<first 8 hex chars of a random uuid>" so that
	// two processes with the same pid (common across containers, each in its
	// own pid namespace) do not collide.
	ConsumerName string

	// Concurrency is the number of concurrent consumer goroutines.
	Concurrency int

	// SweepInterval is how often the stale-PEL sweeper runs.
	SweepInterval time.Duration

	// SweepMinIdle is the minimum idle time before a pending message is
	// considered abandoned and eligible for reclaim.
	SweepMinIdle time.Duration
}

// LoadWorkerConfig loads worker configuration from environment variables,
// falling back to the Concurrency in the already-loaded SearchConfig when
// WORKER_CONCURRENCY is not set.
func LoadWorkerConfig(search SearchConfig) (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		ConsumerName:  getEnv("WORKER_CONSUMER_NAME", defaultConsumerName()),
		Concurrency:   getEnvAsInt("WORKER_CONCURRENCY", search.WorkerConcurrency),
		SweepInterval: getEnvAsDuration("WORKER_SWEEP_INTERVAL", 30*time.Second),
		SweepMinIdle:  getEnvAsDuration("WORKER_SWEEP_MIN_IDLE", 60*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the worker configuration is valid.
func (c *WorkerConfig) Validate() error {
	if c.ConsumerName == "" {
		return fmt.Errorf("worker consumer name cannot be empty")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1 (got %d)", c.Concurrency)
	}
	if c.Concurrency > 1000 {
		return fmt.Errorf("worker concurrency too high: %d (maximum 1000)", c.Concurrency)
	}
	if c.SweepInterval < 1*time.Second {
		return fmt.Errorf("sweep interval too short: %v (minimum 1s)", c.SweepInterval)
	}
	return nil
}

// defaultConsumerName mints a process-unique consumer name so two worker
// processes never collide inside the consumer group.
func defaultConsumerName() string {
	return fmt.Sprintf("worker-%d-%s", os.Getpid(), uuid.New().String()[:8])
}

// String returns a human-readable description of the worker config.
func (c *WorkerConfig) String() string {
	return fmt.Sprintf(
		"WorkerConfig{consumer=%s, concurrency=%d, sweep_interval=%v, sweep_min_idle=%v}",
		c.ConsumerName, c.Concurrency, c.SweepInterval, c.SweepMinIdle,
	)
}
