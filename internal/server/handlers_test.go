package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BadgerOps/assetcdn/internal/config"
	"github.com/BadgerOps/assetcdn/internal/health"
	"github.com/BadgerOps/assetcdn/internal/metrics"
	"github.com/BadgerOps/assetcdn/internal/resource"
	"github.com/BadgerOps/assetcdn/internal/store"
)

const testLocation = "https://example.com/my-resume/docs/index.html"

type resolveJSON struct {
	Path          string `json:"path"`
	URL           string `json:"url"`
	Source        string `json:"source"`
	EndpointIndex int    `json:"endpoint_index"`
}

type healthJSON struct {
	Ready   bool            `json:"ready"`
	Mode    string          `json:"mode"`
	RoundID string          `json:"round_id"`
	Results []health.Result `json:"results"`
}

// fakeMirror returns a mirror answering every request with status.
func fakeMirror(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func setupTestServer(t *testing.T, mirrors ...string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(store.InMemory, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("failed to close store: %v", err)
		}
	})

	cfg := config.DefaultConfig()
	cfg.CDN.MirrorBaseURLs = mirrors
	cfg.CDN.HealthCheck.TimeoutMs = 2000

	mt := metrics.New()
	mgr, err := resource.New(cfg,
		resource.WithLogger(logger),
		resource.WithRecorder(st),
		resource.WithMetrics(mt),
		resource.WithLocation(func() string { return testLocation }),
	)
	if err != nil {
		t.Fatal(err)
	}

	return NewServer(mgr, st, mt, logger)
}

func do(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeResolve(t *testing.T, w *httptest.ResponseRecorder) []resolveJSON {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out []resolveJSON
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func refresh(t *testing.T, srv *Server) healthJSON {
	t.Helper()
	w := do(t, srv, "POST", "/api/health/refresh")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var h healthJSON
	if err := json.NewDecoder(w.Body).Decode(&h); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return h
}

func TestHandleResolveMissingPath(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, "GET", "/api/resolve")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "path query parameter is required") {
		t.Errorf("unexpected error body: %s", w.Body.String())
	}
}

func TestHandleResolveInvalidBool(t *testing.T) {
	srv := setupTestServer(t)

	for _, target := range []string{
		"/api/resolve?path=a.png&fallback=maybe",
		"/api/resolve?path=a.png&cache=nope",
	} {
		if w := do(t, srv, "GET", target); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestHandleResolveLocalOnly(t *testing.T) {
	srv := setupTestServer(t)

	got := decodeResolve(t, do(t, srv, "GET", "/api/resolve?path=images/a.png&path=https://x.test/b.png"))
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].URL != "https://example.com/my-resume/docs/images/a.png" || got[0].Source != "local" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].URL != "https://x.test/b.png" || got[1].Source != "passthrough" {
		t.Errorf("second = %+v", got[1])
	}

	got = decodeResolve(t, do(t, srv, "GET", "/api/resolve?path=a.png&local_base_path=/static"))
	if got[0].URL != "https://example.com/static/a.png" {
		t.Errorf("override url = %q", got[0].URL)
	}
}

func TestHandleResolveBeforeAndAfterRound(t *testing.T) {
	down, _ := fakeMirror(t, http.StatusServiceUnavailable)
	up, _ := fakeMirror(t, http.StatusOK)
	srv := setupTestServer(t, down.URL, up.URL)

	got := decodeResolve(t, do(t, srv, "GET", "/api/resolve?path=app.js"))
	if got[0].URL != down.URL+"/app.js" || got[0].EndpointIndex != 0 {
		t.Errorf("before round: %+v, want primary mirror", got[0])
	}

	h := refresh(t, srv)
	if !h.Ready || h.RoundID == "" || len(h.Results) != 2 {
		t.Fatalf("unexpected health after refresh: %+v", h)
	}
	if h.Results[0].Endpoint.BaseURL != up.URL {
		t.Errorf("best mirror = %q, want %q", h.Results[0].Endpoint.BaseURL, up.URL)
	}

	got = decodeResolve(t, do(t, srv, "GET", "/api/resolve?path=app.js"))
	if got[0].URL != up.URL+"/app.js" || got[0].Source != "mirror" || got[0].EndpointIndex != 1 {
		t.Errorf("after round: %+v", got[0])
	}
}

func TestHandleResolveAllMirrorsDown(t *testing.T) {
	down, _ := fakeMirror(t, http.StatusNotFound)
	srv := setupTestServer(t, down.URL)
	refresh(t, srv)

	got := decodeResolve(t, do(t, srv, "GET", "/api/resolve?path=img/a.png"))
	if got[0].URL != "https://example.com/my-resume/docs/img/a.png" {
		t.Errorf("fallback url = %q", got[0].URL)
	}

	got = decodeResolve(t, do(t, srv, "GET", "/api/resolve?path=img/a.png&fallback=false"))
	if got[0].URL != "img/a.png" || got[0].Source != "passthrough" {
		t.Errorf("no-fallback = %+v", got[0])
	}
}

func TestHandleReady(t *testing.T) {
	up, _ := fakeMirror(t, http.StatusOK)
	srv := setupTestServer(t, up.URL)

	if w := do(t, srv, "GET", "/api/ready"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before round, got %d", w.Code)
	}

	refresh(t, srv)

	w := do(t, srv, "GET", "/api/ready")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after round, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"mode":"mirrors"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestHandleHealthEmpty(t *testing.T) {
	up, hits := fakeMirror(t, http.StatusOK)
	srv := setupTestServer(t, up.URL)

	w := do(t, srv, "GET", "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var h healthJSON
	if err := json.NewDecoder(w.Body).Decode(&h); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if h.Ready || h.Results == nil || len(h.Results) != 0 {
		t.Errorf("unexpected health before round: %+v", h)
	}
	if hits.Load() != 0 {
		t.Errorf("GET /api/health must not probe, got %d requests", hits.Load())
	}
}

func TestHandleHealthHistory(t *testing.T) {
	up, _ := fakeMirror(t, http.StatusOK)
	down, _ := fakeMirror(t, http.StatusInternalServerError)
	srv := setupTestServer(t, up.URL, down.URL)

	first := refresh(t, srv)
	second := refresh(t, srv)
	if first.RoundID == second.RoundID {
		t.Fatal("refresh should start a new round")
	}

	w := do(t, srv, "GET", "/api/health/history?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rounds []store.RoundSummary
	if err := json.NewDecoder(w.Body).Decode(&rounds); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(rounds))
	}
	if rounds[0].Endpoints != 2 || rounds[0].Available != 1 {
		t.Errorf("summary = %+v", rounds[0])
	}

	w = do(t, srv, "GET", "/api/health/history/"+first.RoundID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var results []health.Result
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(results) != 2 || results[0].Endpoint.BaseURL != up.URL {
		t.Errorf("results = %+v", results)
	}

	if w := do(t, srv, "GET", "/api/health/history/does-not-exist"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown round, got %d", w.Code)
	}
	if w := do(t, srv, "GET", "/api/health/history?limit=zero"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestHandleHistoryWithoutStore(t *testing.T) {
	mgr, err := resource.New(config.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(mgr, nil, nil, nil)

	if w := do(t, srv, "GET", "/api/health/history"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, srv, "GET", "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for metrics, got %d", w.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	up, _ := fakeMirror(t, http.StatusOK)
	srv := setupTestServer(t, up.URL)
	refresh(t, srv)
	do(t, srv, "GET", "/api/resolve?path=a.png")

	w := do(t, srv, "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`assetcdn_resolutions_total{source="mirror"} 1`,
		"assetcdn_health_rounds_total 1",
		"assetcdn_probe_attempts_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandleHealthRefresh(t *testing.T) {
	up, hits := fakeMirror(t, http.StatusOK)
	srv := setupTestServer(t, up.URL)

	first := refresh(t, srv)
	if hits.Load() != 1 {
		t.Fatalf("expected 1 mirror request after first refresh, got %d", hits.Load())
	}

	second := refresh(t, srv)
	if hits.Load() != 2 {
		t.Fatalf("expected refresh to probe again, got %d requests", hits.Load())
	}
	if second.RoundID == "" || second.RoundID == first.RoundID {
		t.Errorf("expected a new round id, got %q then %q", first.RoundID, second.RoundID)
	}
	if !second.Ready || len(second.Results) != 1 || !second.Results[0].Available {
		t.Errorf("unexpected health after refresh: %+v", second)
	}
}

func TestHandleHealthRefreshOverlapping(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)
	srv := setupTestServer(t, slow.URL)

	var wg sync.WaitGroup
	responses := make([]*httptest.ResponseRecorder, 2)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 1 {
				time.Sleep(30 * time.Millisecond)
			}
			responses[i] = do(t, srv, "POST", "/api/health/refresh")
		}(i)
	}
	wg.Wait()

	for i, w := range responses {
		if w.Code != http.StatusOK {
			t.Fatalf("refresh %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		var h healthJSON
		if err := json.NewDecoder(w.Body).Decode(&h); err != nil {
			t.Fatalf("refresh %d: failed to decode response: %v", i, err)
		}
		if !h.Ready || len(h.Results) != 1 || h.RoundID == "" {
			t.Errorf("refresh %d: expected a completed round, got %+v", i, h)
		}
	}
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	var buf bytes.Buffer
	srv := NewServer(nil, nil, nil, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	w := httptest.NewRecorder()
	srv.writeJSON(w, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(buf.String(), "failed to write response") {
		t.Errorf("expected encode failure to be logged, got: %s", buf.String())
	}
}
