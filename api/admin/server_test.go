package admin

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Humphrey-He/hguard/configs"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/breaker"
	"github.com/Humphrey-He/hguard/pkg/cache"
	"github.com/Humphrey-He/hguard/pkg/coordinator"
	"github.com/Humphrey-He/hguard/pkg/executor"
)

type fixture struct {
	server   *Server
	store    *cache.Store[coordinator.Package[string]]
	coord    *coordinator.Coordinator[string]
	breakers *breaker.Manager
	exec     *executor.Executor
	snapshot string
}

func newFixture(t *testing.T, m *metrics.Metrics) *fixture {
	t.Helper()
	snapshot := filepath.Join(t.TempDir(), "analysis.json")

	store, err := cache.NewWithOptions[coordinator.Package[string]]("analysis",
		cache.WithSnapshotPath(snapshot),
		cache.WithMetrics(m),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exec, err := executor.New(executor.Config{MaxWorkers: 2, RatePerSecond: 100, Metrics: m})
	require.NoError(t, err)
	coord, err := coordinator.New(store, exec, coordinator.DefaultConfig(), coordinator.WithMetrics(m))
	require.NoError(t, err)
	mgr, err := breaker.NewManager(breaker.DefaultConfig(), breaker.WithManagerMetrics(m))
	require.NoError(t, err)

	cfg := configs.DefaultConfig().Admin
	cfg.Mode = gin.TestMode
	s := New(cfg, Deps{
		Cache:       store,
		Breakers:    mgr,
		Executor:    exec,
		Coordinator: coord,
		Metrics:     m,
	})
	return &fixture{server: s, store: store, coord: coord, breakers: mgr, exec: exec, snapshot: snapshot}
}

func (f *fixture) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, sonic.ConfigStd.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (f *fixture) compute(t *testing.T, key string) {
	t.Helper()
	_, err := f.coord.GetOrCompute(context.Background(), key, func(ctx context.Context, key string, _ ...any) (string, error) {
		return "analysis:" + key, nil
	}, 0)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	cb, err := f.breakers.GetBreaker("market_data", nil)
	require.NoError(t, err)
	cb.ForceOpen()

	code, body = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, []any{"market_data"}, body["unhealthy_breakers"])
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.compute(t, "BTC/USDT")
	f.compute(t, "BTC/USDT")

	code, body := f.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, code)
	for _, section := range []string{"cache", "breakers", "executor", "coordinator"} {
		assert.Contains(t, body, section)
	}

	_, coord := f.do(t, http.MethodGet, "/coordinator/stats", "")
	assert.Equal(t, float64(2), coord["total_requests"])
	assert.Equal(t, float64(1), coord["hits"])

	_, mem := f.do(t, http.MethodGet, "/cache/memory", "")
	assert.Equal(t, float64(1), mem["entries"])
}

// TestCacheRoutes 带斜杠的键需要编码为%2F
func TestCacheRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.compute(t, "BTC/USDT")
	f.compute(t, "ETH/USDT")

	_, stats := f.do(t, http.MethodGet, "/cache/stats", "")
	assert.Equal(t, float64(2), stats["entry_count"])

	code, body := f.do(t, http.MethodDelete, "/cache/BTC%2FUSDT", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "BTC/USDT", body["deleted"])

	code, _ = f.do(t, http.MethodDelete, "/cache/BTC%2FUSDT", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodPost, "/cache/snapshot", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["entries"])
	_, err := os.Stat(f.snapshot)
	assert.NoError(t, err)

	code, body = f.do(t, http.MethodPost, "/cache/cleanup", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["removed"])

	code, _ = f.do(t, http.MethodDelete, "/cache", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.coord.Stats().TotalRequests)
}

func TestBreakerRoutes(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodGet, "/breakers/market_data", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPost, "/breakers/market_data/open", "")
	assert.Equal(t, http.StatusNotFound, code)

	_, err := f.breakers.GetBreaker("market_data", nil)
	require.NoError(t, err)

	code, body := f.do(t, http.MethodPost, "/breakers/market_data/open", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "open", body["state"])

	code, _ = f.do(t, http.MethodPost, "/breakers/market_data/explode", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/breakers/market_data/reset", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "closed", body["state"])

	code, all := f.do(t, http.MethodGet, "/breakers", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, all, "market_data")

	code, body = f.do(t, http.MethodGet, "/breakers/market_data", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "market_data", body["name"])
}

func TestExecutorRoutes(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/executor/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(100), body["rate_per_second"])

	code, body = f.do(t, http.MethodPut, "/executor/rate", `{"rate_per_second": 3}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["rate_per_second"])
	assert.Equal(t, 3, f.exec.Stats().RatePerSecond)

	code, _ = f.do(t, http.MethodPut, "/executor/rate", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPut, "/executor/rate", `{"rate_per_second": -1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New(&metrics.Config{Level: metrics.Basic})
	f := newFixture(t, m)
	f.compute(t, "SOL/USDT")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hguard_coordinator_requests_total")

	disabled := newFixture(t, nil)
	w = httptest.NewRecorder()
	disabled.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeAndShutdown(t *testing.T) {
	f := newFixture(t, nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.server.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))
	assert.NoError(t, <-done)
}
