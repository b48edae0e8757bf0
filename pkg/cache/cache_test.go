package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/codec"
)

var epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// newStringStore 创建值大小等于字符串长度的存储
func newStringStore(t *testing.T, opts ...Option) (*Store[string], *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	base := []Option{
		WithCodec(codec.NewStringCodec()),
		WithClock(clk),
		WithMaxEntryCount(0),
		WithMaxMemory(0),
		WithTTL(-1),
	}
	s, err := NewWithOptions[string]("test", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

// TestBasicOperations 测试基本的Get/Set/Delete
func TestBasicOperations(t *testing.T) {
	s, _ := newStringStore(t)

	_, ok := s.Get("missing")
	assert.False(t, ok)

	require.True(t, s.Set("BTC/USDT", "long", 0))
	v, ok := s.Get("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "long", v)

	assert.True(t, s.Delete("BTC/USDT"))
	assert.False(t, s.Delete("BTC/USDT"))
	_, ok = s.Get("BTC/USDT")
	assert.False(t, ok)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
	assert.Equal(t, 0, st.EntryCount)
	assert.Equal(t, int64(0), st.SizeBytes)
	assert.InDelta(t, 33.33, st.HitRate, 0.01)
}

// TestStatsConsistency 条目数等于不同键的数量，大小等于估算大小之和
func TestStatsConsistency(t *testing.T) {
	s, _ := newStringStore(t, WithMaxMemory(10_000))

	values := map[string]string{
		"BTC/USDT": "aaaa",
		"ETH/USDT": "bbbbbbbb",
		"SOL/USDT": "cc",
	}
	for k, v := range values {
		require.True(t, s.Set(k, v, 0))
	}
	// 重复写入同一个键不会重复计数
	require.True(t, s.Set("ETH/USDT", "bbb", 0))
	values["ETH/USDT"] = "bbb"

	var want int64
	for _, v := range values {
		want += int64(len(v))
	}
	st := s.Stats()
	assert.Equal(t, len(values), st.EntryCount)
	assert.Equal(t, want, st.SizeBytes)
	assert.Zero(t, st.Evictions)
}

// TestLRUEvictionByCount 超过条目数时淘汰最久未访问的条目
func TestLRUEvictionByCount(t *testing.T) {
	s, clk := newStringStore(t, WithMaxEntryCount(3))

	for _, k := range []string{"a", "b", "c"} {
		require.True(t, s.Set(k, k, 0))
		clk.Advance(time.Second)
	}
	_, ok := s.Get("a")
	require.True(t, ok)

	require.True(t, s.Set("d", "d", 0))

	_, ok = s.Get("b")
	assert.False(t, ok, "b was least recently accessed")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := s.Get(k)
		assert.True(t, ok, k)
	}
	st := s.Stats()
	assert.Equal(t, 3, st.EntryCount)
	assert.Equal(t, uint64(1), st.Evictions)
}

// TestLRUEvictionByBytes 超过字节预算时淘汰，淘汰后总大小不超过容量
func TestLRUEvictionByBytes(t *testing.T) {
	s, _ := newStringStore(t, WithMaxMemory(100))

	for i := 0; i < 10; i++ {
		require.True(t, s.Set(fmt.Sprintf("k%d", i), strings.Repeat("x", 10), 0))
	}
	assert.Equal(t, int64(100), s.Stats().SizeBytes)

	require.True(t, s.Set("k10", strings.Repeat("y", 5), 0))
	st := s.Stats()
	assert.LessOrEqual(t, st.SizeBytes, int64(100))
	assert.Equal(t, int64(95), st.SizeBytes)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Equal(t, "k1", s.Keys()[0])

	_, ok := s.Get("k0")
	assert.False(t, ok)
}

// TestOversizeRejection 超过容量10%的值被拒绝且存储不变
func TestOversizeRejection(t *testing.T) {
	s, _ := newStringStore(t, WithMaxMemory(100))
	require.True(t, s.Set("small", "12345", 0))
	before := s.Stats()

	assert.False(t, s.Set("big", strings.Repeat("z", 11), 0))
	assert.False(t, s.Set("small", strings.Repeat("z", 11), 0))

	after := s.Stats()
	assert.Equal(t, before.EntryCount, after.EntryCount)
	assert.Equal(t, before.SizeBytes, after.SizeBytes)
	assert.Equal(t, before.Evictions, after.Evictions)
	assert.Equal(t, uint64(2), after.Rejections)

	v, ok := s.Get("small")
	require.True(t, ok)
	assert.Equal(t, "12345", v)

	// 恰好10%可以写入
	assert.True(t, s.Set("edge", strings.Repeat("e", 10), 0))
}

// TestTTLExpiry BTC/USDT 30秒过期示例
func TestTTLExpiry(t *testing.T) {
	s, clk := newStringStore(t)

	require.True(t, s.Set("BTC/USDT", "pkg", 30*time.Second))
	v, ok := s.Get("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "pkg", v)
	evictions := s.Stats().Evictions

	clk.Advance(31 * time.Second)
	_, ok = s.Get("BTC/USDT")
	assert.False(t, ok)
	assert.Equal(t, evictions+1, s.Stats().Evictions)

	// 再次读取不会重复计数
	_, ok = s.Get("BTC/USDT")
	assert.False(t, ok)
	assert.Equal(t, evictions+1, s.Stats().Evictions)
}

// TestTTLBoundary 在createdAt+ttl时刻即视为过期
func TestTTLBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		found   bool
	}{
		{"before", 9999 * time.Millisecond, true},
		{"exactly", 10 * time.Second, false},
		{"after", time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clk := newStringStore(t)
			require.True(t, s.Set("k", "v", 10*time.Second))
			clk.Advance(tt.elapsed)
			_, ok := s.Get("k")
			assert.Equal(t, tt.found, ok)
		})
	}
}

// TestDefaultTTL ttl为0时使用默认值，负值永不过期
func TestDefaultTTL(t *testing.T) {
	s, clk := newStringStore(t, WithTTL(time.Minute), WithCleanupInterval(time.Hour))

	require.True(t, s.Set("default", "v", 0))
	require.True(t, s.Set("forever", "v", -1))

	clk.Advance(2 * time.Minute)
	_, ok := s.Get("default")
	assert.False(t, ok)
	_, ok = s.Get("forever")
	assert.True(t, ok)
}

// TestClearKeepsCounters Clear只重置条目和大小
func TestClearKeepsCounters(t *testing.T) {
	s, _ := newStringStore(t, WithMaxEntryCount(1))
	s.Set("a", "1", 0)
	s.Set("b", "2", 0)
	s.Get("b")
	s.Get("a")

	s.Clear()
	st := s.Stats()
	assert.Zero(t, st.EntryCount)
	assert.Zero(t, st.SizeBytes)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Empty(t, s.Keys())
}

// TestCleanup 清理过期和陈旧条目，并计入淘汰
func TestCleanup(t *testing.T) {
	s, clk := newStringStore(t, WithCleanupInterval(time.Minute), WithStaleMultiplier(2))

	s.Set("short", "v", 10*time.Second)
	s.Set("idle", "v", -1)
	s.Set("busy", "v", -1)

	clk.Advance(50 * time.Second)
	s.Get("busy")
	clk.Advance(40 * time.Second)
	assert.Equal(t, 1, s.Cleanup(), "only the expired entry")

	clk.Advance(60 * time.Second)
	assert.Equal(t, 1, s.Cleanup(), "idle has not been read for 150s")

	_, ok := s.Get("busy")
	assert.True(t, ok)
	st := s.Stats()
	assert.Equal(t, uint64(2), st.Evictions)
	assert.Equal(t, uint64(2), st.Expirations)
	assert.Equal(t, 1, st.EntryCount)
}

// TestAutomaticCleanup 访问时按间隔触发清理
func TestAutomaticCleanup(t *testing.T) {
	s, clk := newStringStore(t, WithCleanupInterval(time.Minute), WithStaleMultiplier(-1))

	s.Set("a", "v", 10*time.Second)
	s.Set("b", "v", 10*time.Second)
	clk.Advance(30 * time.Second)
	s.Get("none")
	assert.Equal(t, 2, s.Len(), "cleanup interval not reached")

	clk.Advance(31 * time.Second)
	s.Get("none")
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(2), s.Stats().Evictions)
}

// TestBackgroundCleanup 后台清理器按间隔移除过期条目
func TestBackgroundCleanup(t *testing.T) {
	s, err := NewWithOptions[string]("bg",
		WithCodec(codec.NewStringCodec()),
		WithCleanupInterval(10*time.Millisecond),
		WithBackgroundCleanup(true),
	)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Set("k", "v", 5*time.Millisecond))
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return s.Stats().BackgroundSweeps > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), s.Stats().Expirations)
}

func TestNoBackgroundSweepStats(t *testing.T) {
	s, _ := newStringStore(t)
	assert.Zero(t, s.Stats().BackgroundSweeps)
	assert.Zero(t, s.Stats().LastSweepDuration)
}

func TestMemoryUsage(t *testing.T) {
	s, _ := newStringStore(t, WithMaxMemory(1000), WithMaxEntryCount(10))
	s.Set("a", strings.Repeat("a", 50), 0)
	s.Set("b", strings.Repeat("b", 100), 0)

	mu := s.MemoryUsage()
	assert.Equal(t, int64(150), mu.Bytes)
	assert.InDelta(t, 15.0, mu.UtilizationPercent, 0.001)
	assert.InDelta(t, 75.0, mu.AverageEntryBytes, 0.001)
	assert.Equal(t, 2, mu.Entries)
	assert.Equal(t, 10, mu.MaxEntries)

	// 只读：不影响命中统计
	assert.Zero(t, s.Stats().Hits+s.Stats().Misses)
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"negative entries", NewDefaultConfig().WithMaxEntries(-1)},
		{"negative memory", NewDefaultConfig().WithMaxMemoryBytes(-1)},
		{"ratio above one", &Config{Name: "x", MaxEntryRatio: 1.5}},
		{"unknown codec", &Config{Name: "x", CodecName: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[string](tt.cfg)
			assert.Error(t, err)
		})
	}
}

// TestMetricsWiring 存储计数同步到Prometheus采集器
func TestMetricsWiring(t *testing.T) {
	m := metrics.New(&metrics.Config{Level: metrics.Basic})
	s, _ := newStringStore(t, WithMetrics(m), WithMaxMemory(100))

	s.Set("a", "v", 0)
	s.Get("a")
	s.Get("b")
	s.Set("big", strings.Repeat("x", 50), 0)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "hguard_cache_requests_total")
	assert.Contains(t, names, "hguard_cache_rejects_total")
	assert.Contains(t, names, "hguard_cache_entries")
}

// TestConcurrentAccess 并发读写不产生数据竞争且不超出预算
func TestConcurrentAccess(t *testing.T) {
	s, _ := newStringStore(t, WithMaxEntryCount(50), WithMaxMemory(10_000))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%120)
				if i%3 == 0 {
					s.Set(key, strings.Repeat("v", i%20+1), 0)
				} else {
					s.Get(key)
				}
			}
		}(g)
	}
	wg.Wait()

	st := s.Stats()
	assert.LessOrEqual(t, st.EntryCount, 50)
	assert.LessOrEqual(t, st.SizeBytes, int64(10_000))
	assert.Equal(t, uint64(8*500-8*167), st.Hits+st.Misses)
}

func BenchmarkStoreSetGet(b *testing.B) {
	s, err := NewWithOptions[string]("bench", WithCodec(codec.NewStringCodec()), WithMaxEntryCount(1024))
	require.NoError(b, err)
	defer s.Close()

	keys := make([]string, 2048)
	for i := range keys {
		keys[i] = fmt.Sprintf("SYM%d/USDT", i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			k := keys[i%len(keys)]
			if i%4 == 0 {
				s.Set(k, k, 0)
			} else {
				s.Get(k)
			}
			i++
		}
	})
}
