// Package retry implements the engine's fixed-interval retry policy: unlike
// a general-purpose backoff library, the spec calls for retrying
// force-retryable errors (network/construction/timeout, never errors the
// remote service actually answered with) a bounded number of times at one
// fixed interval — no exponential growth, no jitter.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/s3sync-go/engine/internal/engineerr"
)

// Config configures the fixed-interval retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first
	// (s3sync calls this force_retry_count, counted as *additional*
	// attempts after the first failure; here it is the total so callers
	// can write `for attempt := 1; attempt <= cfg.MaxAttempts; attempt++`
	// without an off-by-one).
	MaxAttempts int

	// Interval is the fixed delay between attempts.
	Interval time.Duration

	// OnRetry, if set, is invoked before each retry sleep with the
	// 1-indexed attempt number that just failed and the error that
	// caused it — used to emit a per-attempt Warning event.
	OnRetry func(attempt int, err error)
}

// Retryer executes an operation under the fixed-interval policy.
type Retryer struct {
	cfg Config
}

// New creates a Retryer. Zero-value fields are replaced with the spec's
// conservative defaults (5 attempts, 1 second apart).
func New(cfg Config) *Retryer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	return &Retryer{cfg: cfg}
}

// Do runs fn, retrying while fn's error is force-retryable (per
// engineerr.SyncError.Retryable) and attempts remain. It returns
// immediately — without retrying — for any non-force-retryable error, and
// unwinds immediately if ctx is cancelled, per the spec's cancellation
// design: a retry sleep always races the cancellation token.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return engineerr.New(engineerr.KindCancelled, "", "", "retry loop cancelled").WithContext("cause", ctx.Err().Error())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isForceRetryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return engineerr.New(engineerr.KindCancelled, "", "", "retry loop cancelled mid-backoff")
		case <-time.After(r.cfg.Interval):
		}
	}

	return fmt.Errorf("retry: exhausted %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

func isForceRetryable(err error) bool {
	return engineerr.KindOf(err) == engineerr.KindForceRetryable
}
