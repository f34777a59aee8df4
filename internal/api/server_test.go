package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type fakeStatus struct {
	st crawler.Status
	ok bool
}

func (f fakeStatus) Status() (crawler.Status, bool) { return f.st, f.ok }

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	return s
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{})
	rec := serve(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestServer_ReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{Ready: func(context.Context) error { return errors.New("checkpoint store down") }})
	rec := serve(s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkpoint store down")
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	st := crawler.Status{
		RunID:    "run-1",
		Strategy: "related",
		Running:  true,
		Level:    1,
		Depth:    3,
		Done:     4,
		Workers:  map[string]crawler.WorkerState{"worker-1": crawler.StateProcessing},
	}
	s := newTestServer(t, Config{Status: fakeStatus{st: st, ok: true}})
	rec := serve(s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got crawler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, st, got)
}

func TestServer_StatusBeforeFirstRun(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, Config{Status: fakeStatus{}}), http.MethodGet, "/v1/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(newTestServer(t, Config{}), http.MethodGet, "/v1/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{Status: fakeStatus{ok: true}, APIKey: "secret"})
	assert.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/status", nil).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/status", http.Header{"X-Api-Key": {"secret"}}).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/status?api_key=secret", nil).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newTestServer(t, Config{Gatherer: reg, Registerer: reg})
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)

	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{code="200",method="GET"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)

	_, err := NewServer(Config{Registerer: reg}, nil)
	require.Error(t, err)
}

func TestServer_ServeStopsWithContext(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := newTestServer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
