package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/store"
)

func newTestAPIServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := domain.NewEventBus(16)
	ctx := &domain.Context{Hub: hub, Config: domain.Config{WithMCP: true, CORSOrigin: ""}}
	return NewServer(ctx, st)
}

func TestNewServer(t *testing.T) {
	s := newTestAPIServer(t)
	require.NotNil(t, s.router)
	require.NotNil(t, s.wsHub)
	require.NotNil(t, s.store)
	require.NotNil(t, s.analytics)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestAPIServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"with_mcp":true}`, rec.Body.String())
}

func TestLogsEndpointEmptyStore(t *testing.T) {
	s := newTestAPIServer(t)

	req := httptest.NewRequest("GET", "/logs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `null`, rec.Body.String())
}

func TestMetricsRoutesExist(t *testing.T) {
	s := newTestAPIServer(t)

	routes := []string{
		"/api/metrics/timeseries",
		"/api/metrics/methods",
		"/api/metrics/transport",
		"/api/metrics/message-types",
		"/api/metrics/performance",
		"/api/metrics/errors",
	}

	for _, path := range routes {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			require.NotEqual(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestPrometheusMetricsEndpoint(t *testing.T) {
	s := newTestAPIServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mcphawk_ws_subscribers")
}

func TestWebSocketRouteExists(t *testing.T) {
	s := newTestAPIServer(t)

	req := httptest.NewRequest("GET", "/ws", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusNotFound, rec.Code)
}

func TestCORSHeaders(t *testing.T) {
	s := newTestAPIServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestReadySignalsAfterStartSubscriptions(t *testing.T) {
	s := newTestAPIServer(t)
	s.StartSubscriptions()
	defer s.Stop()

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready() did not close after StartSubscriptions")
	}
}
