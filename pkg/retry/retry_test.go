package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/s3sync-go/engine/internal/engineerr"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 3, Interval: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesForceRetryableThenSucceeds(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 3, Interval: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return engineerr.New(engineerr.KindForceRetryable, "op", "k", "dial timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_DoesNotRetryNonForceRetryable(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 5, Interval: time.Millisecond})
	calls := 0
	wantErr := engineerr.New(engineerr.KindAccessDenied, "op", "k", "denied")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 3, Interval: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return engineerr.New(engineerr.KindForceRetryable, "op", "k", "timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_RespectsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Config{MaxAttempts: 3, Interval: time.Millisecond})
	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if engineerr.KindOf(err) != engineerr.KindCancelled {
		t.Errorf("expected KindCancelled, got %v", engineerr.KindOf(err))
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (cancelled before first attempt)", calls)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	t.Parallel()

	var attempts []int
	r := New(Config{
		MaxAttempts: 3,
		Interval:    time.Millisecond,
		OnRetry: func(attempt int, err error) {
			attempts = append(attempts, attempt)
		},
	})
	calls := 0
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return engineerr.New(engineerr.KindForceRetryable, "op", "k", "timeout")
	})
	if len(attempts) != 2 {
		t.Errorf("OnRetry called %d times, want 2 (before attempts 2 and 3)", len(attempts))
	}
}
