// Package telemetry wires the pipeline's Event and lifecycle stream into
// structured logging, Prometheus metrics, and a per-run correlation id — the
// "debug callback always logs, one optional user callback" duality the
// engine's event model is built around.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/s3sync-go/engine/internal/pipeline"
	"github.com/s3sync-go/engine/internal/telemetry/metrics"
)

// EventFunc is the single optional user-registered callback, invoked
// serially after the always-on debug log line per event.
type EventFunc func(pipeline.Event)

// EventManager is the one place a run's events, lifecycle transitions, and
// metrics observations all pass through. It is safe for concurrent use by
// every syncer/deleter worker.
type EventManager struct {
	logger        *slog.Logger
	metrics       *metrics.Collector
	correlationID string

	mu       sync.Mutex
	userFunc EventFunc
}

// New creates an EventManager stamped with a fresh correlation id. A nil
// logger falls back to slog.Default(), and a nil collector disables metrics
// recording (Collector's own zero value already no-ops, so this just avoids
// a nil pointer dereference).
func New(logger *slog.Logger, collector *metrics.Collector) *EventManager {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewCollector(metrics.Config{})
	}
	return &EventManager{
		logger:        logger,
		metrics:       collector,
		correlationID: uuid.NewString(),
	}
}

// CorrelationID returns the id stamped onto every log line and metric this
// manager records for the run.
func (m *EventManager) CorrelationID() string { return m.correlationID }

// OnEvent registers the single optional user callback, replacing any
// previously registered one.
func (m *EventManager) OnEvent(fn EventFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userFunc = fn
}

// Handle logs and records one terminal event, then serially invokes the
// registered user callback, if any. elapsed is the wall-clock time the
// syncer or deleter spent on this key; pass 0 when not measured.
func (m *EventManager) Handle(ev pipeline.Event, elapsed time.Duration) {
	attrs := []any{
		slog.String("correlation_id", m.correlationID),
		slog.String("key", ev.Key),
		slog.String("result", string(ev.Kind)),
	}
	if ev.VersionID != "" {
		attrs = append(attrs, slog.String("version_id", ev.VersionID))
	}
	if ev.Message != "" {
		attrs = append(attrs, slog.String("message", ev.Message))
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}

	switch ev.Kind {
	case pipeline.EventError:
		m.logger.Error("sync event", attrs...)
	case pipeline.EventWarning:
		m.logger.Warn("sync event", attrs...)
	default:
		m.logger.Debug("sync event", attrs...)
	}

	m.metrics.RecordResult(resultLabel(ev), ev.Size, elapsed)

	m.mu.Lock()
	fn := m.userFunc
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Lifecycle logs one of the run's three lifecycle transitions.
func (m *EventManager) Lifecycle(stage pipeline.LifecycleStage) {
	m.logger.Info("pipeline lifecycle", slog.String("correlation_id", m.correlationID), slog.String("stage", string(stage)))
}

func resultLabel(ev pipeline.Event) string {
	switch ev.Kind {
	case pipeline.EventComplete:
		if ev.IsDelete {
			return "delete"
		}
		return "complete"
	case pipeline.EventSkip:
		return "skip"
	case pipeline.EventWarning:
		return "warning"
	default:
		return "error"
	}
}
