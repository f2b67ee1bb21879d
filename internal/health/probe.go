// Package health runs the pre-flight checks a sync run performs before
// Controller.Run starts: can both endpoints be reached, and if versioned
// replication was requested, does the target bucket actually have
// versioning enabled.
package health

import (
	"context"
	"time"

	"github.com/s3sync-go/engine/internal/storage"
)

// Status is the outcome of one probe check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Result records one check's outcome.
type Result struct {
	Check    string        `json:"check"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the aggregate pre-flight result: the run should not start if
// Healthy is false.
type Report struct {
	Healthy bool     `json:"healthy"`
	Checks  []Result `json:"checks"`
}

// Probe runs the pre-flight checks against a source/target pair.
type Probe struct {
	Source storage.Adapter
	Target storage.Adapter

	// RequireTargetVersioning is set when the run was configured for
	// versioned or point-in-time replication (§4.6) — the target bucket
	// must have versioning enabled or every copy will silently create
	// only a single current version.
	RequireTargetVersioning bool
}

// Run executes every configured check and returns the aggregate Report. It
// never returns an error itself — failures are recorded as Results so the
// caller can decide whether to proceed, log, or abort.
func (p *Probe) Run(ctx context.Context) Report {
	var results []Result
	results = append(results, p.checkConnectivity(ctx, "source", p.Source))
	results = append(results, p.checkConnectivity(ctx, "target", p.Target))
	if p.RequireTargetVersioning {
		results = append(results, p.checkTargetVersioning(ctx))
	}

	healthy := true
	for _, r := range results {
		if r.Status != StatusHealthy {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Checks: results}
}

// checkConnectivity lists at most one key from adapter to confirm
// credentials and network reachability without requiring a known key to
// exist.
func (p *Probe) checkConnectivity(ctx context.Context, label string, adapter storage.Adapter) Result {
	start := time.Now()
	out := make(chan storage.ObjectDescriptor, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.ListObjects(ctx, storage.ListOptions{MaxKeys: 1}, out)
	}()
	for range out {
		// drained only to let ListObjects close its channel; the probe
		// doesn't care about the object itself, only that listing works.
	}
	err := <-errCh
	duration := time.Since(start)

	if err != nil {
		return Result{Check: label + "_connectivity", Status: StatusUnhealthy, Message: err.Error(), Duration: duration}
	}
	return Result{Check: label + "_connectivity", Status: StatusHealthy, Duration: duration}
}

func (p *Probe) checkTargetVersioning(ctx context.Context) Result {
	start := time.Now()
	enabled, err := p.Target.IsVersioningEnabled(ctx)
	duration := time.Since(start)

	if err != nil {
		return Result{Check: "target_versioning", Status: StatusUnhealthy, Message: err.Error(), Duration: duration}
	}
	if !enabled {
		return Result{
			Check:    "target_versioning",
			Status:   StatusUnhealthy,
			Message:  "versioned replication was requested but the target bucket does not have versioning enabled",
			Duration: duration,
		}
	}
	return Result{Check: "target_versioning", Status: StatusHealthy, Duration: duration}
}
