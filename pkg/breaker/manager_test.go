package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
)

func TestManagerGetOrCreate(t *testing.T) {
	m, err := NewManager(DefaultConfig())
	require.NoError(t, err)

	a, err := m.GetBreaker("binance.ticker", nil)
	require.NoError(t, err)
	b, err := m.GetBreaker("binance.ticker", &Config{FailureThreshold: 1})
	require.NoError(t, err)
	assert.Same(t, a, b, "config is ignored once the breaker exists")

	got, ok := m.Get("binance.ticker")
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = m.Get("missing")
	assert.False(t, ok)
}

// TestManagerIndependence 不同名称的熔断器相互独立
func TestManagerIndependence(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		WithManagerClock(clock.NewManual(epoch)),
		WithManagerMetrics(metrics.New(nil)),
	)
	require.NoError(t, err)

	ticker, _ := m.GetBreaker("ticker", nil)
	depth, _ := m.GetBreaker("depth", nil)

	ticker.Call(ctx, fail)
	assert.Equal(t, Open, ticker.State())
	assert.Equal(t, Closed, depth.State())

	v, err := depth.Call(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	assert.Equal(t, []string{"depth", "ticker"}, m.Names())
	stats := m.Stats()
	assert.Equal(t, "open", stats["ticker"].State)
	assert.Equal(t, "closed", stats["depth"].State)

	m.ResetAll()
	assert.Equal(t, Closed, ticker.State())
}

// TestManagerOverrides 按名称覆盖默认配置
func TestManagerOverrides(t *testing.T) {
	m, err := NewManager(Config{FailureThreshold: 5},
		WithOverrides(map[string]Config{"orders": {FailureThreshold: 1}}),
	)
	require.NoError(t, err)

	orders, err := m.GetBreaker("orders", nil)
	require.NoError(t, err)
	orders.Call(context.Background(), fail)
	assert.Equal(t, Open, orders.State())

	ticker, err := m.GetBreaker("ticker", nil)
	require.NoError(t, err)
	ticker.Call(context.Background(), fail)
	assert.Equal(t, Closed, ticker.State())
}

// TestManagerConfigInheritance 显式配置和覆盖配置的零值字段继承默认配置
func TestManagerConfigInheritance(t *testing.T) {
	defaults := Config{FailureThreshold: 4, RecoveryTimeout: time.Minute, SuccessThreshold: 2, CallTimeout: time.Second}
	m, err := NewManager(defaults,
		WithOverrides(map[string]Config{"orders": {FailureThreshold: 1, CallTimeout: 5 * time.Second}}),
	)
	require.NoError(t, err)

	depth, err := m.GetBreaker("depth", &Config{FailureThreshold: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, depth.cfg.FailureThreshold)
	assert.Equal(t, time.Minute, depth.cfg.RecoveryTimeout)
	assert.Equal(t, 2, depth.cfg.SuccessThreshold)
	assert.Equal(t, time.Second, depth.cfg.CallTimeout)

	orders, err := m.GetBreaker("orders", &Config{SuccessThreshold: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, orders.cfg.FailureThreshold)
	assert.Equal(t, time.Minute, orders.cfg.RecoveryTimeout)
	assert.Equal(t, 5, orders.cfg.SuccessThreshold)
	assert.Equal(t, 5*time.Second, orders.cfg.CallTimeout)
}

func TestManagerInvalidDefaults(t *testing.T) {
	_, err := NewManager(Config{SuccessThreshold: -1})
	assert.Error(t, err)
}

// TestManagerConcurrentGet 并发获取同一名称只创建一个实例
func TestManagerConcurrentGet(t *testing.T) {
	m, err := NewManager(DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = m.GetBreaker("shared", nil)
		}(i)
	}
	wg.Wait()
	for _, cb := range got {
		assert.Same(t, got[0], cb)
	}
	assert.Len(t, m.Names(), 1)
}
