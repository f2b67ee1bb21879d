package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/s3sync-go/engine/internal/health"
	"github.com/s3sync-go/engine/internal/storage"
	"github.com/s3sync-go/engine/internal/telemetry/metrics"
	"github.com/s3sync-go/engine/pkg/status"
)

type passAdapter struct{ storage.Adapter }

func (passAdapter) ListObjects(ctx context.Context, opts storage.ListOptions, out chan<- storage.ObjectDescriptor) error {
	close(out)
	return nil
}

func (passAdapter) IsVersioningEnabled(ctx context.Context) (bool, error) {
	return false, nil
}

func TestNewServer(t *testing.T) {
	config := DefaultServerConfig()
	tracker := status.NewTracker()
	probe := &health.Probe{Source: passAdapter{}, Target: passAdapter{}}
	collector := metrics.NewCollector(metrics.Config{Enabled: true})

	server := NewServer(config, tracker, probe, collector)

	if server == nil {
		t.Fatal("NewServer returned nil")
	}
	if server.httpServer == nil {
		t.Error("httpServer not initialized")
	}
}

func TestHandleHealth_NoProbeConfigured(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["healthy"] != true {
		t.Errorf("body = %v, want healthy=true", body)
	}
}

func TestHandleHealth_ReportsUnhealthyProbe(t *testing.T) {
	probe := &health.Probe{
		Source:                  passAdapter{},
		Target:                  passAdapter{},
		RequireTargetVersioning: true,
	}
	server := NewServer(DefaultServerConfig(), nil, probe, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleStatus_ReportsTrackerSnapshot(t *testing.T) {
	tracker := status.NewTracker()
	tracker.Start()

	server := NewServer(DefaultServerConfig(), tracker, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	server.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var snap status.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != status.RunInProgress {
		t.Errorf("snap.Status = %v, want RunInProgress", snap.Status)
	}
}

func TestHandleStatus_NotConfigured(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	server.handleStatus(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleHealth_MethodNotAllowed(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
