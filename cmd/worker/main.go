// Package main provides the vtreesearch worker process: it drains the
// search stream, runs the retrieval/filter pipeline per job, and sweeps
// stale pending entries back in for retry.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/engine"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/metrics"
	"github.com/vtreesearch/vtreesearch/internal/sweeper"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	workerCfg, err := config.LoadWorkerConfig(cfg.Search)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load worker config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	workerLog := log.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceInternal)
	workerLog.Info("Worker starting", "config", workerCfg.String())

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	go func() {
		workerLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			workerLog.Error("pprof server failed", "error", err)
		}
	}()

	eng, err := engine.New(cfg, log)
	if err != nil {
		workerLog.Error("Failed to wire engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			workerLog.Error("Failed to close engine", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.EnsureConsumerGroup(ctx); err != nil {
		workerLog.Error("Failed to ensure consumer group", "error", err)
		os.Exit(1)
	}

	sweep := sweeper.New(eng.Pool(), workerCfg.ConsumerName, workerCfg.SweepMinIdle, int64(workerCfg.Concurrency*2), log)
	if err := sweep.Start(ctx, workerCfg.SweepInterval); err != nil {
		workerLog.Error("Failed to start sweeper", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCfg.Concurrency; i++ {
		consumerName := fmt.Sprintf("%s-%d", workerCfg.ConsumerName, i)
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			eng.RunWorkerForever(ctx, name)
		}(consumerName)
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := metrics.GetMetrics()
				workerLog.Info("System metrics",
					"jobs_submitted", m.TotalJobsSubmitted,
					"jobs_succeeded", m.TotalJobsSucceeded,
					"jobs_failed", m.TotalJobsFailed,
					"jobs_canceled", m.TotalJobsCanceled,
					"queue_depth", m.QueueDepth,
					"dead_letter_depth", m.DeadLetterDepth,
					"avg_elapsed_ms", m.AvgElapsedMS,
					"avg_entry_count", fmt.Sprintf("%.1f", m.AvgEntryCount),
					"avg_page_count", fmt.Sprintf("%.1f", m.AvgPageCount),
					"avg_kept_count", fmt.Sprintf("%.1f", m.AvgKeptCount),
					"error_rate", fmt.Sprintf("%.2f%%", m.ErrorRate),
					"uptime", m.Uptime.String(),
				)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	workerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)

	sweep.Stop()
	cancel()
	wg.Wait()

	workerLog.Info("Worker shut down successfully")
}
