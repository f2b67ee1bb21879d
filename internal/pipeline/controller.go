package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/s3sync-go/engine/internal/circuit"
	"github.com/s3sync-go/engine/internal/config"
	"github.com/s3sync-go/engine/internal/etagverify"
	"github.com/s3sync-go/engine/internal/ratelimit"
	"github.com/s3sync-go/engine/internal/storage"
)

// LifecycleStage names one of the three run-wide lifecycle points a
// Controller reports through its Lifecycle callback.
type LifecycleStage string

const (
	StagePipelineStart LifecycleStage = "PIPELINE_START"
	StagePipelineError LifecycleStage = "PIPELINE_ERROR"
	StagePipelineEnd   LifecycleStage = "PIPELINE_END"
)

// Controller builds the DAG of stages described by §2 — lister, filter
// chain, key aggregator, optional versioning packer/collector, and the
// syncer and deleter worker pools — wires them together with bounded
// channels, and owns the single CancelToken shared across the whole run.
type Controller struct {
	Source storage.Adapter
	Target storage.Adapter

	// SourceLocalRoot is set when Source is a local-directory adapter, so
	// the syncer can read raw bytes for ETag/checksum recomputation.
	SourceLocalRoot string
	// TargetIsLocal forces the per-object head-object check per §4.5.
	TargetIsLocal bool

	Config *config.Configuration

	// Lifecycle, when set, is invoked at each of the three run-wide
	// lifecycle points. It defaults to a no-op; telemetry subscribes here.
	Lifecycle func(stage LifecycleStage)

	// UserFilter, when set, is appended to the filter chain per the
	// data model's user-defined-filter stage.
	UserFilter UserFilterCallback

	// OnEvent, when set, is invoked for every terminal Event as it is
	// drained — the hook telemetry.EventManager.Handle attaches to. Kept
	// as a plain function type (not a telemetry.EventManager field)
	// because internal/telemetry imports this package for Event and
	// LifecycleStage; the reverse import would cycle.
	OnEvent func(Event)
}

// Outcome is the aggregate result of one Run, built by draining every Event
// the pipeline's stages emit.
type Outcome struct {
	Completed int
	Skipped   int
	Deleted   int
	Warnings  int
	Errors    int
	Bytes     int64

	WarningOccurred bool
	ErrorOccurred   bool

	Events []Event
}

// Run executes one full sync: list, filter, diff, copy, and — when
// configured — delete, returning once every stage has drained or the run
// was cancelled by an unrecoverable error.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	if err := c.Config.Validate(); err != nil {
		return nil, err
	}

	c.wrapAdaptersWithCircuitBreaker()

	cancel := NewCancelToken(ctx)
	c.fire(StagePipelineStart)

	capacity := c.Config.Concurrency.ChannelCapacity
	if capacity <= 0 {
		capacity = 1000
	}

	events := make(chan Event, capacity)
	outcome := &Outcome{}
	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for ev := range events {
			record(outcome, ev)
			if c.OnEvent != nil {
				c.OnEvent(ev)
			}
			if ev.Kind == EventError {
				cancel.Set()
			}
		}
	}()

	targetAgg := NewKeyAggregator()
	needsTargetMap := !c.Config.Filters.RemoveModifiedFilter || c.Config.Delete.Enabled
	if needsTargetMap {
		if err := c.listTarget(cancel.Context(), targetAgg, capacity); err != nil {
			events <- Event{Kind: EventError, Err: err, Message: "target listing failed"}
		}
	}

	filterChain := c.buildFilterChain(targetAgg)

	lister := &Lister{
		Adapter:   c.Source,
		Versioned: c.Config.Versioning.EnableVersioning || c.Config.Versioning.PointInTime != nil,
		MaxKeys:   c.Config.Concurrency.MaxKeys,
	}
	listed, listErrCh := lister.Run(cancel.Context(), capacity)

	// sourceKeys records every key the source listing produced, before the
	// target-modified filter removes unchanged objects — those keys are
	// still present at the source and must never be mistaken for
	// delete-diff candidates.
	var sourceKeysMu sync.Mutex
	sourceKeys := make(map[string]struct{})
	seen := make(chan storage.ObjectDescriptor, capacity)
	go func() {
		defer close(seen)
		for desc := range listed {
			if c.Config.Delete.Enabled {
				sourceKeysMu.Lock()
				sourceKeys[desc.Key] = struct{}{}
				sourceKeysMu.Unlock()
			}
			select {
			case seen <- desc:
			case <-cancel.Context().Done():
				return
			}
		}
	}()

	tracked := make(chan storage.ObjectDescriptor, capacity)
	go filterChain.Run(cancel.Context(), seen, tracked)

	syncer := c.buildSyncer()

	if lister.Versioned {
		c.runVersionedSync(cancel, tracked, syncer, events, capacity)
	} else {
		RunSyncerPool(cancel.Context(), syncer, c.Config.Concurrency.WorkerSize, tracked, events, cancel)
	}

	if listErr := <-listErrCh; listErr != nil {
		events <- Event{Kind: EventError, Err: listErr, Message: "source listing failed"}
	}

	if c.Config.Delete.Enabled && !cancel.IsSet() {
		c.runDeletePhase(cancel, targetAgg, sourceKeys, events)
	}

	close(events)
	drainWG.Wait()

	if outcome.ErrorOccurred {
		c.fire(StagePipelineError)
	}
	c.fire(StagePipelineEnd)

	return outcome, nil
}

// runVersionedSync feeds the tracked descriptor stream through the
// versioning packer (or point-in-time packer) and collector before handing
// surviving versions to the syncer pool, and issues direct deletes for
// trailing delete markers the collector decides to carry over.
func (c *Controller) runVersionedSync(cancel *CancelToken, tracked <-chan storage.ObjectDescriptor, syncer *Syncer, events chan<- Event, capacity int) {
	batches := make(chan Batch, capacity)
	if pit := c.Config.Versioning.PointInTime; pit != nil {
		go (PointInTimePacker{Instant: *pit}).Run(cancel.Context(), tracked, batches)
	} else {
		go (VersioningPacker{}).Run(cancel.Context(), tracked, batches)
	}

	collector := &VersioningCollector{Target: c.Target}
	versionStream := make(chan storage.ObjectDescriptor, capacity)

	var collectWG sync.WaitGroup
	collectWG.Add(1)
	go func() {
		defer collectWG.Done()
		defer close(versionStream)
		for batch := range batches {
			if cancel.IsSet() {
				return
			}
			result, err := collector.Process(cancel.Context(), batch)
			if err != nil {
				events <- Event{Kind: EventError, Key: batch.Key, Err: err, Message: "versioning collector"}
				cancel.Set()
				return
			}
			for _, versionID := range result.Skipped {
				events <- Event{Kind: EventSkip, Key: batch.Key, VersionID: versionID}
			}
			for _, action := range result.ToSync {
				if action.Delete {
					err := c.Target.DeleteObject(cancel.Context(), batch.Key, storage.DeleteOptions{VersionID: action.Version.VersionID})
					if err != nil {
						events <- Event{Kind: EventError, Key: batch.Key, VersionID: action.Version.VersionID, Err: err, Message: "DeleteObject"}
						cancel.Set()
						return
					}
					events <- Event{Kind: EventComplete, Key: batch.Key, VersionID: action.Version.VersionID, IsDelete: true}
					continue
				}
				select {
				case versionStream <- action.Version:
				case <-cancel.Context().Done():
					return
				}
			}
		}
	}()

	RunSyncerPool(cancel.Context(), syncer, c.Config.Concurrency.WorkerSize, versionStream, events, cancel)
	collectWG.Wait()
}

// runDeletePhase computes the target-only key set (present at target,
// absent from the source listing as collected before the filter chain) and
// runs it through the deleter
// pool at the same worker_size as the syncer pool, per §5.
func (c *Controller) runDeletePhase(cancel *CancelToken, targetAgg *KeyAggregator, sourceKeys map[string]struct{}, events chan<- Event) {
	candidates := targetAgg.DeleteCandidates(sourceKeys)
	if len(candidates) == 0 {
		return
	}

	in := make(chan storage.ObjectDescriptor, len(candidates))
	for _, key := range candidates {
		entry, _ := targetAgg.Get(key)
		in <- storage.ObjectDescriptor{Key: key, ETag: entry.ETag, LastModified: entry.LastModified, Size: entry.Size}
	}
	close(in)

	deleter := &Deleter{
		Target:      c.Target,
		MaxDelete:   c.Config.Delete.MaxDelete,
		IfMatch:     c.Config.Delete.IfMatch,
		WarnAsError: c.Config.Safety.WarnAsError,
	}
	RunDeleterPool(cancel.Context(), deleter, c.Config.Concurrency.WorkerSize, in, events, cancel)
}

// listTarget drains a full, non-versioned listing of the target into agg.
// It runs to completion before the source listing starts, matching the
// data model's "write-once during target-listing phase" invariant for the
// key aggregator's map.
func (c *Controller) listTarget(ctx context.Context, agg *KeyAggregator, capacity int) error {
	lister := &Lister{Adapter: c.Target, MaxKeys: c.Config.Concurrency.MaxKeys}
	out, errCh := lister.Run(ctx, capacity)
	for desc := range out {
		agg.Insert(desc)
	}
	return <-errCh
}

// buildFilterChain assembles the ordered filter chain of §4.4 from the
// configured knobs, appending the target-modified filter last unless it was
// explicitly disabled.
func (c *Controller) buildFilterChain(targetAgg *KeyAggregator) *FilterChain {
	var filters []Filter
	f := c.Config.Filters

	if f.MtimeBefore != nil {
		filters = append(filters, MtimeBefore(*f.MtimeBefore))
	}
	if f.MtimeAfter != nil {
		filters = append(filters, MtimeAfter(*f.MtimeAfter))
	}
	if f.SmallerSize != nil {
		filters = append(filters, SmallerSize(*f.SmallerSize))
	}
	if f.LargerSize != nil {
		filters = append(filters, LargerSize(*f.LargerSize))
	}
	if f.IncludeRegex != "" {
		if re, err := regexp.Compile(f.IncludeRegex); err == nil {
			filters = append(filters, IncludeRegex(re))
		}
	}
	if f.ExcludeRegex != "" {
		if re, err := regexp.Compile(f.ExcludeRegex); err == nil {
			filters = append(filters, ExcludeRegex(re))
		}
	}
	if c.UserFilter != nil {
		filters = append(filters, UserDefined(c.UserFilter))
	}
	if !f.RemoveModifiedFilter {
		filters = append(filters, TargetModified(targetAgg))
	}

	return &FilterChain{Filters: filters}
}

// buildSyncer assembles the Syncer, wiring in rate limiters and the
// head-object checker when the target or the configured diff strategy
// requires one.
func (c *Controller) buildSyncer() *Syncer {
	s := &Syncer{
		Source:          c.Source,
		Target:          c.Target,
		SourceLocalRoot: c.SourceLocalRoot,
		Diff:            c.Config.Diff,
		Checksum:        c.Config.Checksum,
		Transfer:        c.Config.Transfer,
		Tagging:         c.Config.Tagging,
		Safety:          c.Config.Safety,
		Retry:           c.Config.Retry,
		Encryption:      c.encryptionContext(),
	}

	if c.Config.RateLimit.ObjectsPerSecond > 0 {
		s.ObjectLimiter = ratelimit.NewObjectLimiter(c.Config.RateLimit.ObjectsPerSecond)
	}
	if c.Config.RateLimit.BytesPerSecond > 0 {
		s.ByteLimiter = ratelimit.NewByteLimiter(c.Config.RateLimit.BytesPerSecond)
	}

	if c.TargetIsLocal || c.Config.Diff.HeadEachTarget || c.Config.Diff.SyncLatestTagging {
		s.HeadChecker = &HeadObjectChecker{
			Target:             c.Target,
			Diff:               c.Config.Diff,
			Checksum:           c.Config.Checksum,
			Encryption:         s.Encryption,
			MultipartThreshold: c.Config.Transfer.MultipartThreshold,
			MultipartChunksize: c.Config.Transfer.MultipartChunksize,
		}
	}

	return s
}

// wrapAdaptersWithCircuitBreaker replaces Source and Target with
// circuit-protected adapters when configured, so a struggling endpoint trips
// a breaker and starts failing fast instead of every worker in the pool
// piling retries onto it. Source and target get independent breakers: one
// endpoint misbehaving shouldn't stop calls reaching the healthy one.
func (c *Controller) wrapAdaptersWithCircuitBreaker() {
	cbCfg := c.Config.CircuitBreaker
	if !cbCfg.Enabled {
		return
	}
	breakerConfig := circuit.Config{
		MaxRequests: cbCfg.MaxRequests,
		Interval:    cbCfg.Interval,
		Timeout:     cbCfg.Timeout,
	}
	c.Source = circuit.Wrap("source", c.Source, breakerConfig)
	c.Target = circuit.Wrap("target", c.Target, breakerConfig)
}

func (c *Controller) encryptionContext() etagverify.EncryptionContext {
	return etagverify.EncryptionContext{
		SourceSSEC:   c.Config.Encryption.SourceSSECKey != "",
		TargetSSEC:   c.Config.Encryption.TargetSSECKey != "",
		TargetSSEKMS: c.Config.Encryption.SSE == "aws:kms",
	}
}

func (c *Controller) fire(stage LifecycleStage) {
	if c.Lifecycle != nil {
		c.Lifecycle(stage)
	}
}

// record folds one Event into the running Outcome, which drainWG's single
// consumer goroutine owns exclusively — no locking needed.
func record(o *Outcome, ev Event) {
	o.Events = append(o.Events, ev)
	switch ev.Kind {
	case EventComplete:
		if ev.IsDelete {
			o.Deleted++
		} else {
			o.Completed++
			o.Bytes += ev.Size
		}
	case EventSkip:
		o.Skipped++
	case EventWarning:
		o.Warnings++
		o.WarningOccurred = true
	case EventError:
		o.Errors++
		o.ErrorOccurred = true
	default:
		panic(fmt.Sprintf("pipeline: unknown event kind %q", ev.Kind))
	}
}
