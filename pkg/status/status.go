// Package status turns a sync run's event stream into the two user-facing
// views it exposes: live progress while the run is in flight, and, when
// report-sync-status is enabled, a structured per-object comparison record.
package status

import (
	"sync"
	"time"

	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/etagverify"
	"github.com/s3sync-go/engine/internal/pipeline"
)

// RunStatus is the lifecycle state of one sync run.
type RunStatus int

const (
	RunPending RunStatus = iota
	RunInProgress
	RunCompleted
	RunFailed
	RunCancelled
)

func (s RunStatus) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunInProgress:
		return "in_progress"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Progress is a point-in-time snapshot of one run's throughput.
type Progress struct {
	ObjectsDone int64   `json:"objects_done"`
	BytesDone   int64   `json:"bytes_done"`
	Deleted     int64   `json:"deleted"`
	Skipped     int64   `json:"skipped"`
	Warnings    int64   `json:"warnings"`
	Errors      int64   `json:"errors"`
	Rate        float64 `json:"rate_objects_per_sec,omitempty"`
	Phase       string  `json:"phase,omitempty"`
	Message     string  `json:"message,omitempty"`

	lastUpdate  time.Time
	lastObjects int64
}

// advance folds the rate counters forward; must be called with the owning
// Tracker's lock held.
func (p *Progress) advance(objectsDone int64, at time.Time) {
	if !p.lastUpdate.IsZero() && objectsDone > p.lastObjects {
		elapsed := at.Sub(p.lastUpdate).Seconds()
		if elapsed > 0 {
			p.Rate = float64(objectsDone-p.lastObjects) / elapsed
		}
	}
	p.lastUpdate = at
	p.lastObjects = objectsDone
}

// Snapshot is what Tracker.Subscribe delivers on every update.
type Snapshot struct {
	Status   RunStatus `json:"status"`
	Progress Progress  `json:"progress"`
	At       time.Time `json:"at"`
}

// Tracker accumulates Progress for one sync run from the pipeline's Event
// stream and publishes Snapshots to any subscriber, e.g. the HTTP status
// endpoint. A Tracker is single-use: construct one per run.
type Tracker struct {
	mu          sync.RWMutex
	status      RunStatus
	progress    Progress
	err         *engineerr.SyncError
	started     time.Time
	ended       time.Time
	subscribers []chan Snapshot
}

// NewTracker returns a Tracker in RunPending state.
func NewTracker() *Tracker {
	return &Tracker{status: RunPending}
}

// Start marks the run as in progress.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = RunInProgress
	t.started = time.Now()
	t.progress.Phase = "listing"
	t.notifyLocked()
}

// Observe folds one pipeline Event into the running Progress counters. It is
// safe to call from the Controller's event-drain goroutine.
func (t *Tracker) Observe(ev pipeline.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.Phase = "syncing"
	switch ev.Kind {
	case pipeline.EventComplete:
		if ev.IsDelete {
			t.progress.Deleted++
		} else {
			t.progress.ObjectsDone++
			t.progress.BytesDone += ev.Size
		}
	case pipeline.EventSkip:
		t.progress.Skipped++
	case pipeline.EventWarning:
		t.progress.Warnings++
	case pipeline.EventError:
		t.progress.Errors++
	}
	t.progress.advance(t.progress.ObjectsDone, time.Now())
	t.notifyLocked()
}

// Finish records the run's terminal state. cause is nil on a clean run; a
// cancellation or fatal error is passed through so subscribers can see why
// the run ended.
func (t *Tracker) Finish(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ended = time.Now()
	t.progress.Phase = "done"

	switch {
	case cause == nil:
		t.status = RunCompleted
	case engineerr.IsCancelled(cause):
		t.status = RunCancelled
	default:
		t.status = RunFailed
		if se, ok := cause.(*engineerr.SyncError); ok {
			t.err = se
		} else {
			t.err = engineerr.Wrap(engineerr.KindOther, "run", "", cause)
		}
	}
	t.notifyLocked()

	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
}

// Snapshot returns the current status and progress.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{Status: t.status, Progress: t.progress, At: time.Now()}
}

// Err returns the structured error that ended the run, if any.
func (t *Tracker) Err() *engineerr.SyncError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Subscribe returns a channel of Snapshots, closed when the run finishes.
// The channel is buffered; a slow subscriber drops intermediate updates
// rather than blocking the tracker.
func (t *Tracker) Subscribe() <-chan Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Snapshot, 16)
	t.subscribers = append(t.subscribers, ch)
	return ch
}

func (t *Tracker) notifyLocked() {
	snap := Snapshot{Status: t.status, Progress: t.progress, At: time.Now()}
	for _, ch := range t.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// CompareResult classifies how a source and target key were found to relate
// during diff detection.
type CompareResult string

const (
	CompareSame      CompareResult = "SAME"
	CompareDifferent CompareResult = "DIFFERENT"
	CompareNotExist  CompareResult = "NOT_EXIST"
)

// VerifyStatus is the outcome of an ETag or checksum comparison attached to
// a ReportRecord.
type VerifyStatus string

const (
	VerifyMatch    VerifyStatus = "MATCH"
	VerifyMismatch VerifyStatus = "MISMATCH"
	VerifySkipped  VerifyStatus = "SKIPPED"
	VerifyUnknown  VerifyStatus = "UNKNOWN"
)

// FromETagResult maps an etagverify.Result onto the coarser VerifyStatus
// vocabulary a ReportRecord carries.
func FromETagResult(r etagverify.Result) VerifyStatus {
	switch {
	case r.Skipped:
		return VerifyUnknown
	case r.Matched:
		return VerifyMatch
	default:
		return VerifyMismatch
	}
}

// ReportRecord is one line of report-sync-status output: a structured
// comparison result for a single key.
type ReportRecord struct {
	Key            string        `json:"key"`
	CompareResult  CompareResult `json:"compare_result"`
	ETagStatus     VerifyStatus  `json:"etag_status,omitempty"`
	ChecksumStatus VerifyStatus  `json:"checksum_status,omitempty"`
	SizeSource     int64         `json:"size_source"`
	SizeTarget     int64         `json:"size_target"`
	Reason         string        `json:"reason,omitempty"`
}

// Reporter collects ReportRecords for a run. Diff detection happens
// concurrently across the syncer worker pool, so every method is
// goroutine-safe.
type Reporter struct {
	mu      sync.Mutex
	enabled bool
	records []ReportRecord
}

// NewReporter returns a Reporter. When enabled is false, Record is a no-op,
// so callers don't need to branch on whether reporting was requested.
func NewReporter(enabled bool) *Reporter {
	return &Reporter{enabled: enabled}
}

// Record appends rec if the reporter is enabled.
func (r *Reporter) Record(rec ReportRecord) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns every record collected so far, in the order recorded.
func (r *Reporter) Records() []ReportRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ReportRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Enabled reports whether the reporter is actually collecting records.
func (r *Reporter) Enabled() bool {
	return r.enabled
}
