package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchTicker(t *testing.T) {
	s, err := New(Config{Seed: 42, BasePrices: map[string]float64{"BTC/USDT": 64000}})
	require.NoError(t, err)

	tk, err := s.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.InDelta(t, 64000, tk.Last, 64)
	assert.Less(t, tk.Bid, tk.Ask)
	assert.InDelta(t, tk.Last, tk.Mid(), 0.0001)

	other, err := s.FetchTicker(context.Background(), "DOGE/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 100, other.Last, 0.2)

	_, err = s.FetchTicker(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	total, failed := s.Requests()
	assert.Equal(t, int64(3), total)
	assert.Zero(t, failed)
}

// TestSeedIsReproducible 相同种子产生相同的价格序列
func TestSeedIsReproducible(t *testing.T) {
	run := func() []float64 {
		s, err := New(Config{Seed: 7, FailureRate: 0.3})
		require.NoError(t, err)
		var out []float64
		for i := 0; i < 20; i++ {
			tk, err := s.FetchTicker(context.Background(), "ETH/USDT")
			if err != nil {
				out = append(out, -1)
				continue
			}
			out = append(out, tk.Last)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestFailureRate(t *testing.T) {
	s, err := New(Config{Seed: 1, FailureRate: 1})
	require.NoError(t, err)

	_, err = s.FetchTicker(context.Background(), "SOL/USDT")
	assert.ErrorIs(t, err, ErrUnavailable)

	s.SetFailureRate(0)
	_, err = s.FetchTicker(context.Background(), "SOL/USDT")
	assert.NoError(t, err)

	s.SetFailureRate(5)
	_, err = s.FetchTicker(context.Background(), "SOL/USDT")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, failed := s.Requests()
	assert.Equal(t, int64(2), failed)

	_, err = New(Config{FailureRate: -0.1})
	assert.Error(t, err)
	_, err = New(Config{Latency: -time.Second})
	assert.Error(t, err)
}

func TestLatencyHonoursContext(t *testing.T) {
	s, err := New(Config{Seed: 3, Latency: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = s.FetchTicker(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	s2, err := New(Config{Seed: 3, Latency: 20 * time.Millisecond})
	require.NoError(t, err)
	start = time.Now()
	_, err = s2.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestAnalyze(t *testing.T) {
	s, err := New(Config{Seed: 9, BasePrices: map[string]float64{"BTC/USDT": 100}})
	require.NoError(t, err)

	up := s.Analyze(Ticker{Symbol: "BTC/USDT", Bid: 100.9, Ask: 101.1, Last: 101})
	assert.Equal(t, "bullish", up.Signal)
	assert.InDelta(t, 0.01, up.Change, 1e-9)
	assert.InDelta(t, 19.8, up.SpreadBps, 0.01)

	down := s.Analyze(Ticker{Symbol: "BTC/USDT", Bid: 98.9, Ask: 99.1, Last: 99})
	assert.Equal(t, "bearish", down.Signal)

	flat := s.Analyze(Ticker{Symbol: "XRP/USDT", Bid: 0.5, Ask: 0.5, Last: 0.5})
	assert.Equal(t, "neutral", flat.Signal)
	assert.Zero(t, flat.SpreadBps)
}
