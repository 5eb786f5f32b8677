// Package metrics tracks in-memory counters for the search service: job
// outcomes by state, queue depth, worker utilization, and pipeline
// retrieval shape (entries scanned, pages scanned, candidates kept).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
)

var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks system-wide metrics in memory.
type Collector struct {
	totalJobsSubmitted atomic.Int64
	totalJobsSucceeded atomic.Int64
	totalJobsFailed    atomic.Int64
	totalJobsCanceled  atomic.Int64

	mu              sync.RWMutex
	jobsByState     map[jobmodel.State]int64
	queueDepth      int64
	deadLetterDepth int64
	totalElapsed    time.Duration
	totalEntries    int64
	totalPages      int64
	totalKept       int64
	pipelineRuns    int64
	startTime       time.Time
	activeWorkers   int64
	totalWorkers    int64
	errorCount      int64
	operationCount  int64
}

// Metrics is a snapshot of current system metrics.
type Metrics struct {
	TotalJobsSubmitted int64                    `json:"total_jobs_submitted"`
	TotalJobsSucceeded int64                    `json:"total_jobs_succeeded"`
	TotalJobsFailed    int64                    `json:"total_jobs_failed"`
	TotalJobsCanceled  int64                    `json:"total_jobs_canceled"`
	JobsByState        map[jobmodel.State]int64 `json:"jobs_by_state"`
	QueueDepth         int64                    `json:"queue_depth"`
	DeadLetterDepth    int64                    `json:"dead_letter_depth"`
	AvgElapsedMS       int64                    `json:"avg_elapsed_ms"`
	AvgEntryCount      float64                  `json:"avg_entry_count"`
	AvgPageCount       float64                  `json:"avg_page_count"`
	AvgKeptCount       float64                  `json:"avg_kept_count"`
	WorkerUtilization  float64                  `json:"worker_utilization"`
	ErrorRate          float64                  `json:"error_rate"`
	Uptime             time.Duration            `json:"uptime"`
}

// Default returns the global metrics collector instance.
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		jobsByState: make(map[jobmodel.State]int64),
		startTime:   time.Now(),
	}
}

// RecordJobSubmitted increments the submission counter.
func (c *Collector) RecordJobSubmitted() {
	c.totalJobsSubmitted.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByState[jobmodel.StatePending]++
}

// RecordJobOutcome records a job reaching a terminal state, along with the
// pipeline metrics that produced it (zero metrics for non-SUCCEEDED jobs).
func (c *Collector) RecordJobOutcome(state jobmodel.State, elapsed time.Duration, entryCount, pageCount, keptCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobsByState[state]++
	c.operationCount++

	switch state {
	case jobmodel.StateSucceeded:
		c.totalJobsSucceeded.Add(1)
		c.totalElapsed += elapsed
		c.totalEntries += int64(entryCount)
		c.totalPages += int64(pageCount)
		c.totalKept += int64(keptCount)
		c.pipelineRuns++
	case jobmodel.StateFailed:
		c.totalJobsFailed.Add(1)
		c.errorCount++
	case jobmodel.StateCanceled:
		c.totalJobsCanceled.Add(1)
	}
}

// RecordQueueDepth updates the current search-stream queue depth.
func (c *Collector) RecordQueueDepth(depth int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth = depth
}

// RecordDeadLetterDepth updates the current dead-letter stream depth.
func (c *Collector) RecordDeadLetterDepth(depth int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLetterDepth = depth
}

// RecordWorkerActivity updates worker utilization metrics.
func (c *Collector) RecordWorkerActivity(active, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeWorkers = active
	c.totalWorkers = total
}

// GetMetrics returns a snapshot of current metrics.
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobsByState := make(map[jobmodel.State]int64, len(c.jobsByState))
	for k, v := range c.jobsByState {
		jobsByState[k] = v
	}

	var avgElapsed time.Duration
	var avgEntries, avgPages, avgKept float64
	if c.pipelineRuns > 0 {
		avgElapsed = c.totalElapsed / time.Duration(c.pipelineRuns)
		avgEntries = float64(c.totalEntries) / float64(c.pipelineRuns)
		avgPages = float64(c.totalPages) / float64(c.pipelineRuns)
		avgKept = float64(c.totalKept) / float64(c.pipelineRuns)
	}

	var utilization float64
	if c.totalWorkers > 0 {
		utilization = float64(c.activeWorkers) / float64(c.totalWorkers) * 100
	}

	var errorRate float64
	if c.operationCount > 0 {
		errorRate = float64(c.errorCount) / float64(c.operationCount) * 100
	}

	return Metrics{
		TotalJobsSubmitted: c.totalJobsSubmitted.Load(),
		TotalJobsSucceeded: c.totalJobsSucceeded.Load(),
		TotalJobsFailed:    c.totalJobsFailed.Load(),
		TotalJobsCanceled:  c.totalJobsCanceled.Load(),
		JobsByState:        jobsByState,
		QueueDepth:         c.queueDepth,
		DeadLetterDepth:    c.deadLetterDepth,
		AvgElapsedMS:       avgElapsed.Milliseconds(),
		AvgEntryCount:      avgEntries,
		AvgPageCount:       avgPages,
		AvgKeptCount:       avgKept,
		WorkerUtilization:  utilization,
		ErrorRate:          errorRate,
		Uptime:             time.Since(c.startTime),
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	c.totalJobsSubmitted.Store(0)
	c.totalJobsSucceeded.Store(0)
	c.totalJobsFailed.Store(0)
	c.totalJobsCanceled.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByState = make(map[jobmodel.State]int64)
	c.queueDepth = 0
	c.deadLetterDepth = 0
	c.totalElapsed = 0
	c.totalEntries = 0
	c.totalPages = 0
	c.totalKept = 0
	c.pipelineRuns = 0
	c.startTime = time.Now()
	c.activeWorkers = 0
	c.totalWorkers = 0
	c.errorCount = 0
	c.operationCount = 0
}

// GetMetrics returns metrics from the global collector.
func GetMetrics() Metrics {
	return Default().GetMetrics()
}

// ResetMetrics resets the global collector.
func ResetMetrics() {
	Default().Reset()
}
