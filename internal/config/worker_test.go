package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadWorkerConfigDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := LoadWorkerConfig(SearchConfig{WorkerConcurrency: 4})
	if err != nil {
		t.Fatalf("LoadWorkerConfig: %v", err)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("expected concurrency to fall back to search.WorkerConcurrency=4, got %d", cfg.Concurrency)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("expected default sweep interval 30s, got %v", cfg.SweepInterval)
	}
	if cfg.SweepMinIdle != 60*time.Second {
		t.Errorf("expected default sweep min idle 60s, got %v", cfg.SweepMinIdle)
	}
	if cfg.ConsumerName == "" {
		t.Error("expected a non-empty default consumer name")
	}
}

func TestLoadWorkerConfigOverridesConcurrency(t *testing.T) {
	os.Clearenv()
	os.Setenv("WORKER_CONCURRENCY", "16")
	os.Setenv("WORKER_CONSUMER_NAME", "worker-a")

	cfg, err := LoadWorkerConfig(SearchConfig{WorkerConcurrency: 4})
	if err != nil {
		t.Fatalf("LoadWorkerConfig: %v", err)
	}
	if cfg.Concurrency != 16 {
		t.Errorf("expected WORKER_CONCURRENCY to override search default, got %d", cfg.Concurrency)
	}
	if cfg.ConsumerName != "worker-a" {
		t.Errorf("expected consumer name worker-a, got %s", cfg.ConsumerName)
	}
}

func TestLoadWorkerConfigRejectsInvalidConcurrency(t *testing.T) {
	os.Clearenv()
	os.Setenv("WORKER_CONCURRENCY", "0")

	if _, err := LoadWorkerConfig(SearchConfig{WorkerConcurrency: 4}); err == nil {
		t.Fatal("expected an error for zero concurrency")
	}
}

func TestWorkerConfigValidateEmptyConsumerName(t *testing.T) {
	cfg := &WorkerConfig{ConsumerName: "", Concurrency: 1, SweepInterval: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty consumer name")
	}
}

func TestWorkerConfigValidateConcurrencyTooLow(t *testing.T) {
	cfg := &WorkerConfig{ConsumerName: "w", Concurrency: 0, SweepInterval: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for concurrency < 1")
	}
}

func TestWorkerConfigValidateConcurrencyTooHigh(t *testing.T) {
	cfg := &WorkerConfig{ConsumerName: "w", Concurrency: 1001, SweepInterval: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for concurrency > 1000")
	}
}

func TestWorkerConfigValidateSweepIntervalTooShort(t *testing.T) {
	cfg := &WorkerConfig{ConsumerName: "w", Concurrency: 1, SweepInterval: 500 * time.Millisecond}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for sweep interval under 1s")
	}
}

func TestWorkerConfigValidateAccepts(t *testing.T) {
	cfg := &WorkerConfig{ConsumerName: "w", Concurrency: 8, SweepInterval: 30 * time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestWorkerConfigString(t *testing.T) {
	cfg := &WorkerConfig{ConsumerName: "worker-9", Concurrency: 8, SweepInterval: 30 * time.Second, SweepMinIdle: 60 * time.Second}
	s := cfg.String()
	if s == "" {
		t.Fatal("expected a non-empty string representation")
	}
}
