package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/vicwatch/vicemergency-monitor/internal/adapter/http"
	"github.com/vicwatch/vicemergency-monitor/internal/pipeline"
)

type mockMonitor struct {
	readyErr error
	stats    pipeline.Stats
}

func (m *mockMonitor) CheckReadiness(_ context.Context) error { return m.readyErr }
func (m *mockMonitor) Stats() pipeline.Stats                  { return m.stats }

func newTestServer(monitor *mockMonitor) *httpadapter.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(":0", monitor, logger)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&mockMonitor{stats: pipeline.Stats{
		LastCycle:       time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		TrackedEntities: 7,
	}})
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "vicemergency-monitor", body["service"])
	assert.Equal(t, float64(7), body["tracked_entities"])
	assert.Equal(t, "2026-02-01T12:00:00Z", body["last_cycle"])
}

func TestHealthz_BeforeFirstCycle(t *testing.T) {
	srv := newTestServer(&mockMonitor{})
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["tracked_entities"])
	assert.NotContains(t, body, "last_cycle")
}

func TestReadyz(t *testing.T) {
	srv := newTestServer(&mockMonitor{})
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_NotReady(t *testing.T) {
	srv := newTestServer(&mockMonitor{readyErr: errors.New("no cycle completed yet")})
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no cycle completed yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&mockMonitor{})
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
