package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config failed validation: %v", err)
	}
}

func TestValidate_WorkerSize(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Concurrency.WorkerSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero worker_size")
	}
}

func TestValidate_VersioningAndPointInTimeExclusive(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Versioning.EnableVersioning = true
	pit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.Versioning.PointInTime = &pit

	if err := cfg.Validate(); err == nil {
		t.Error("expected error when both enable_versioning and point_in_time are set")
	}
}

func TestValidate_UnknownChecksumAlgorithm(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Checksum.Algorithm = ChecksumAlgorithm("MD5")
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown checksum algorithm")
	}
}

func TestValidate_MaxDeleteNegative(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Delete.MaxDelete = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative max_delete")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Monitoring.LogLevel = "TRACE"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestValidate_CircuitBreakerEnabledRequiresTimeout(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.Timeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for an enabled circuit breaker with no timeout")
	}
}

func TestValidate_CircuitBreakerDisabledIgnoresZeroTimeout(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.CircuitBreaker.Enabled = false
	cfg.CircuitBreaker.Timeout = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
