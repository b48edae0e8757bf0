// Package upstream provides a simulated market data exchange. The service
// binary analyses its tickers so the cache, breakers and executor run
// against an upstream that is slow and fails now and then.
//
// Package upstream 提供模拟的行情交易所，服务程序分析其行情，
// 使缓存、熔断器和执行器面对一个会变慢、偶尔失败的上游。
package upstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ErrUnavailable is returned by a simulated failure.
var ErrUnavailable = stderrors.New("upstream: exchange unavailable")

// ErrUnknownSymbol is returned for symbols without the BASE/QUOTE form.
var ErrUnknownSymbol = stderrors.New("upstream: unknown symbol")

// Config controls the simulation.
//
// Config 控制模拟行为。
type Config struct {
	// Latency is the mean response time, actual latency is in [Latency/2, 3*Latency/2)
	Latency time.Duration
	// FailureRate is the probability in [0, 1] that a request fails
	FailureRate float64
	// Seed makes the simulation reproducible, 0 seeds from the clock
	Seed int64
	// BasePrices are the starting prices, unknown symbols start at 100
	BasePrices map[string]float64
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("upstream.failure_rate must be between 0 and 1")
	}
	if c.Latency < 0 {
		return fmt.Errorf("upstream.latency must be >= 0")
	}
	return nil
}

// Ticker is a best bid/ask snapshot of one symbol.
//
// Ticker 是单个交易对的最优买卖价快照。
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the mid price.
func (t Ticker) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Analysis is the result of analysing one ticker.
//
// Analysis 是分析单个行情的结果。
type Analysis struct {
	Symbol    string  `json:"symbol"`
	Mid       float64 `json:"mid"`
	SpreadBps float64 `json:"spread_bps"`
	Change    float64 `json:"change"`
	Signal    string  `json:"signal"`
}

// Simulator is a synthetic exchange with a random walk price per symbol.
// It is safe for concurrent use.
//
// Simulator 是每个交易对价格随机游走的模拟交易所，可并发使用。
type Simulator struct {
	latency time.Duration

	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	prices      map[string]float64
	opens       map[string]float64

	requests atomic.Int64
	failures atomic.Int64
}

// New creates a simulator.
//
// New 创建模拟器。
func New(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	s := &Simulator{
		latency:     cfg.Latency,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		failureRate: cfg.FailureRate,
		prices:      make(map[string]float64, len(cfg.BasePrices)),
		opens:       make(map[string]float64, len(cfg.BasePrices)),
	}
	for sym, p := range cfg.BasePrices {
		s.prices[sym] = p
		s.opens[sym] = p
	}
	return s, nil
}

// FetchTicker returns the next ticker of symbol after the simulated latency.
//
// FetchTicker 在模拟延迟后返回symbol的下一个行情。
//
// Returns:
//   - Ticker: The ticker
//   - error: ErrUnavailable on a simulated failure, ErrUnknownSymbol, or the context error
func (s *Simulator) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	s.requests.Inc()
	if !validSymbol(symbol) {
		return Ticker{}, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}

	delay, fail := s.roll()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Ticker{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Ticker{}, err
	}

	if fail {
		s.failures.Inc()
		return Ticker{}, fmt.Errorf("fetch %s: %w", symbol, ErrUnavailable)
	}
	return s.step(symbol), nil
}

// roll 抽取本次请求的延迟和是否失败
func (s *Simulator) roll() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delay time.Duration
	if s.latency > 0 {
		delay = s.latency/2 + time.Duration(s.rng.Int63n(int64(s.latency)))
	}
	return delay, s.failureRate > 0 && s.rng.Float64() < s.failureRate
}

// step 价格随机游走一步
func (s *Simulator) step(symbol string) Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = 100
		s.opens[symbol] = price
	}
	price *= 1 + (s.rng.Float64()-0.5)*0.002
	price = math.Round(price*100) / 100
	s.prices[symbol] = price

	half := math.Max(price*0.0001, 0.01)
	return Ticker{
		Symbol:    symbol,
		Bid:       price - half,
		Ask:       price + half,
		Last:      price,
		Volume:    math.Round(s.rng.Float64()*1000*100) / 100,
		Timestamp: time.Now().UTC(),
	}
}

// Analyze derives the spread, the change since the first price and a
// momentum signal from a ticker.
//
// Analyze 从行情计算价差、相对首个价格的涨跌以及动量信号。
func (s *Simulator) Analyze(t Ticker) Analysis {
	s.mu.Lock()
	open, ok := s.opens[t.Symbol]
	s.mu.Unlock()
	if !ok {
		open = t.Last
	}

	mid := t.Mid()
	a := Analysis{Symbol: t.Symbol, Mid: mid}
	if mid > 0 {
		a.SpreadBps = (t.Ask - t.Bid) / mid * 10000
	}
	if open != 0 {
		a.Change = (t.Last - open) / open
	}
	switch {
	case a.Change > 0.001:
		a.Signal = "bullish"
	case a.Change < -0.001:
		a.Signal = "bearish"
	default:
		a.Signal = "neutral"
	}
	return a
}

// SetFailureRate changes the failure probability, clamped to [0, 1].
//
// SetFailureRate 修改失败概率，范围限制在[0, 1]。
func (s *Simulator) SetFailureRate(rate float64) {
	s.mu.Lock()
	s.failureRate = math.Min(math.Max(rate, 0), 1)
	s.mu.Unlock()
}

// Requests returns the number of FetchTicker calls and simulated failures.
func (s *Simulator) Requests() (total, failed int64) {
	return s.requests.Load(), s.failures.Load()
}

func validSymbol(symbol string) bool {
	base, quote, ok := strings.Cut(symbol, "/")
	return ok && base != "" && quote != ""
}
