package pipeline

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/s3sync-go/engine/internal/circuit"
	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/storage"
)

func bodyOutput() *storage.GetObjectOutput {
	return &storage.GetObjectOutput{Body: io.NopCloser(strings.NewReader("x")), Size: 1}
}

func TestController_Run_SyncsNewKeysToEmptyTarget(t *testing.T) {
	t.Parallel()

	now := time.Now()
	source := &scriptedAdapter{
		fakeAdapter: fakeAdapter{objects: []storage.ObjectDescriptor{
			{Key: "a", Size: 1, LastModified: now},
			{Key: "b", Size: 1, LastModified: now},
		}},
		getObjectOut: bodyOutput(),
	}
	target := &scriptedAdapter{putObjectResult: &storage.PutObjectResult{ETag: "etag"}}

	cfg := config.Default()
	cfg.Checksum.DisableETagVerify = true

	ctrl := &Controller{Source: source, Target: target, Config: cfg}
	outcome, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.Completed != 2 {
		t.Errorf("Completed = %d, want 2", outcome.Completed)
	}
	if target.putObjectCalls != 2 {
		t.Errorf("putObjectCalls = %d, want 2", target.putObjectCalls)
	}
	if outcome.ErrorOccurred {
		t.Error("expected no error")
	}
}

func TestController_Run_DeletesTargetOnlyKeys(t *testing.T) {
	t.Parallel()

	now := time.Now()
	source := &scriptedAdapter{
		fakeAdapter: fakeAdapter{objects: []storage.ObjectDescriptor{
			{Key: "keep", Size: 1, LastModified: now},
		}},
		getObjectOut: bodyOutput(),
	}
	target := &scriptedAdapter{
		fakeAdapter: fakeAdapter{objects: []storage.ObjectDescriptor{
			{Key: "keep", Size: 1, LastModified: now},
			{Key: "stale", Size: 1, LastModified: now},
		}},
		putObjectResult: &storage.PutObjectResult{ETag: "etag"},
	}

	cfg := config.Default()
	cfg.Checksum.DisableETagVerify = true
	cfg.Delete.Enabled = true

	ctrl := &Controller{Source: source, Target: target, Config: cfg}
	outcome, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", outcome.Deleted)
	}
	// "keep" already matches the target's recorded mtime, so the
	// target-modified filter should have dropped it before it ever
	// reached the syncer.
	if target.putObjectCalls != 0 {
		t.Errorf("putObjectCalls = %d, want 0", target.putObjectCalls)
	}
}

func TestController_Run_FiresLifecycleInOrder(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{
		fakeAdapter:  fakeAdapter{objects: []storage.ObjectDescriptor{{Key: "a", Size: 1, LastModified: time.Now()}}},
		getObjectOut: bodyOutput(),
	}
	target := &scriptedAdapter{putObjectResult: &storage.PutObjectResult{ETag: "etag"}}

	cfg := config.Default()
	cfg.Checksum.DisableETagVerify = true

	var stages []LifecycleStage
	ctrl := &Controller{
		Source: source, Target: target, Config: cfg,
		Lifecycle: func(s LifecycleStage) { stages = append(stages, s) },
	}
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(stages) != 2 || stages[0] != StagePipelineStart || stages[1] != StagePipelineEnd {
		t.Errorf("got %v, want [PIPELINE_START PIPELINE_END] (no error occurred)", stages)
	}
}

func TestController_Run_ErrorFiresPipelineErrorBeforeEnd(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{
		fakeAdapter:  fakeAdapter{objects: []storage.ObjectDescriptor{{Key: "a", Size: 1, LastModified: time.Now()}}},
		getObjectErr: engineerr.New(engineerr.KindOther, "GetObject", "a", "boom"),
	}
	target := &scriptedAdapter{}

	cfg := config.Default()
	cfg.Checksum.DisableETagVerify = true

	var stages []LifecycleStage
	ctrl := &Controller{
		Source: source, Target: target, Config: cfg,
		Lifecycle: func(s LifecycleStage) { stages = append(stages, s) },
	}
	outcome, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !outcome.ErrorOccurred || outcome.Errors != 1 {
		t.Errorf("got %+v, want exactly one recorded error", outcome)
	}
	if len(stages) != 3 || stages[1] != StagePipelineError || stages[2] != StagePipelineEnd {
		t.Errorf("got %v, want [PIPELINE_START PIPELINE_ERROR PIPELINE_END]", stages)
	}
}

func TestController_Run_WrapsAdaptersInCircuitBreakerWhenEnabled(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{getObjectOut: bodyOutput()}
	target := &scriptedAdapter{putObjectResult: &storage.PutObjectResult{ETag: "etag"}}

	cfg := config.Default()
	cfg.Checksum.DisableETagVerify = true
	cfg.CircuitBreaker.Enabled = true

	ctrl := &Controller{Source: source, Target: target, Config: cfg}
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, ok := ctrl.Source.(*circuit.Adapter); !ok {
		t.Errorf("Source = %T, want *circuit.Adapter after a circuit-breaker-enabled run", ctrl.Source)
	}
	if _, ok := ctrl.Target.(*circuit.Adapter); !ok {
		t.Errorf("Target = %T, want *circuit.Adapter after a circuit-breaker-enabled run", ctrl.Target)
	}
}

func TestController_Run_LeavesAdaptersUnwrappedWhenCircuitBreakerDisabled(t *testing.T) {
	t.Parallel()

	source := &scriptedAdapter{getObjectOut: bodyOutput()}
	target := &scriptedAdapter{putObjectResult: &storage.PutObjectResult{ETag: "etag"}}

	cfg := config.Default()
	cfg.Checksum.DisableETagVerify = true

	ctrl := &Controller{Source: source, Target: target, Config: cfg}
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if ctrl.Source != source {
		t.Error("Source should be left untouched when the circuit breaker is disabled")
	}
	if ctrl.Target != target {
		t.Error("Target should be left untouched when the circuit breaker is disabled")
	}
}

func TestController_Run_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Concurrency.WorkerSize = 0

	ctrl := &Controller{Source: &fakeAdapter{}, Target: &fakeAdapter{}, Config: cfg}
	if _, err := ctrl.Run(context.Background()); err == nil {
		t.Error("expected an error for an invalid configuration")
	}
}
