package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"argus-ingest/config"
	"argus-ingest/distribute"
	"argus-ingest/ingest"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0, AdvertisedIP: "127.0.0.1"},
		Ingest:   config.IngestConfig{DefaultTargetFPS: 10, MaxSources: 5, FrameQueueSize: 4, JPEGQuality: 80, DefaultWidth: 640, DefaultHeight: 480},
		Timeouts: config.TimeoutConfig{MJPEGStreamHz: 15, StatusPushIntervalS: 2, ShutdownTimeoutSeconds: 1},
	}
	logger := zap.NewNop()
	manager := ingest.NewManager(logger, cfg.Ingest.DefaultTargetFPS, cfg.Ingest.MaxSources, cfg.Ingest.FrameQueueSize)
	distributor := distribute.NewDistributor(logger, cfg.Ingest.JPEGQuality, 10)
	return NewServer(cfg, logger, manager, distributor)
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleStartSourceRequiresURI(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sources/start", strings.NewReader(`{"name":"cam"}`))
	rec := httptest.NewRecorder()
	s.handleStartSource(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleStartSourceRejectsWrongMethod(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sources/start", nil)
	rec := httptest.NewRecorder()
	s.handleStartSource(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleStartSourceAddsSource(t *testing.T) {
	s := testServer(t)

	body := `{"name":"cam1","source_type":"file","uri":"/nonexistent/sample.mp4"}`
	req := httptest.NewRequest(http.MethodPost, "/sources/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleStartSource(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp startSourceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SourceID == "" {
		t.Fatal("expected a non-empty source_id")
	}

	if s.manager.SourceCount() != 1 {
		t.Errorf("SourceCount = %d, want 1", s.manager.SourceCount())
	}
}

func TestHandleSourceScopedUnknownSuffix(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sources/"+validUUID()+"/bogus", nil)
	rec := httptest.NewRecorder()
	s.handleSourceScoped(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleSourceScopedInvalidID(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sources/not-a-uuid/status", nil)
	rec := httptest.NewRecorder()
	s.handleSourceScoped(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleAllStatusEmpty(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sources/status", nil)
	rec := httptest.NewRecorder()
	s.handleAllStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["total"].(float64) != 0 {
		t.Errorf("total = %v, want 0", body["total"])
	}
}

func validUUID() string { return "11111111-1111-1111-1111-111111111111" }

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode json response: %v", err)
	}
}
