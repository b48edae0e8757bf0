// Package coordinator memoizes expensive per-key analyses: each key is
// computed at most once per freshness window and the result is kept in a
// cache.Store. Batches of misses are fanned out through an executor so that
// upstream calls respect its rate limit.
//
// Package coordinator 缓存昂贵的按键分析结果：每个键在新鲜度窗口内最多计算一次，
// 结果保存在cache.Store中。批量未命中通过执行器分发，使上游调用遵守其速率限制。
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/cache"
	"github.com/Humphrey-He/hguard/pkg/errors"
	"github.com/Humphrey-He/hguard/pkg/executor"
	"github.com/Humphrey-He/hguard/pkg/loader"
)

// Package is the memoized unit stored per key.
//
// Package 是按键缓存的分析单元。
type Package[T any] struct {
	Key        string    `json:"key"`
	ComputedAt time.Time `json:"computed_at"`
	Payload    T         `json:"payload"`
}

// Fresh reports whether the package is at most window old at now.
//
// Fresh 判断在now时包的年龄是否不超过window。
func (p Package[T]) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(p.ComputedAt) <= window
}

// ComputeFunc produces the payload for key. Failures are returned verbatim to
// the caller and never cached.
//
// ComputeFunc 计算key的载荷，失败原样返回给调用方且不会被缓存。
type ComputeFunc[T any] func(ctx context.Context, key string, args ...any) (T, error)

// Config defines the coordinator behaviour.
//
// Config 定义协调器的行为。
type Config struct {
	// FreshnessWindow is used when a call passes a zero ttl.
	// FreshnessWindow 在调用传入的ttl为0时使用。
	FreshnessWindow time.Duration `json:"freshness_window" yaml:"freshness_window" mapstructure:"freshness_window"`

	// SingleFlight makes concurrent misses for the same key share one computation.
	// When false each concurrent miss computes and the last Set wins.
	//
	// SingleFlight 让同一键的并发未命中共享一次计算。
	// 为false时每个并发未命中各自计算，最后一次Set生效。
	SingleFlight bool `json:"single_flight" yaml:"single_flight" mapstructure:"single_flight"`

	// ComputeTimeout bounds a shared computation. A shared computation does not
	// stop when the caller that started it gives up, so this is its only
	// deadline besides the compute function's own. Zero means no bound.
	//
	// ComputeTimeout 限制共享计算的时长。共享计算不会因发起它的调用方放弃而停止，
	// 因此这是除计算函数自身之外唯一的截止时间。0表示不限制。
	ComputeTimeout time.Duration `json:"compute_timeout" yaml:"compute_timeout" mapstructure:"compute_timeout"`
}

// DefaultConfig returns a 30s freshness window with single-flight enabled
// and a 60s bound on shared computations.
//
// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		FreshnessWindow: 30 * time.Second,
		SingleFlight:    true,
		ComputeTimeout:  60 * time.Second,
	}
}

// Validate checks if the configuration is valid.
//
// Validate 检查配置是否有效。
func (c *Config) Validate() error {
	if c.FreshnessWindow < 0 {
		return fmt.Errorf("coordinator.freshness_window must be >= 0")
	}
	if c.ComputeTimeout < 0 {
		return fmt.Errorf("coordinator.compute_timeout must be >= 0")
	}
	return nil
}

// Stats contains the coordinator counters and the underlying store stats.
// Hits counts calls served without running a computation of their own,
// including coalesced waiters; Misses counts computations that succeeded.
// HitRate is Hits over Hits+Misses, in percent.
//
// Stats 包含协调器计数和底层存储的统计。Hits统计未自行计算即得到结果的调用
// （包括合并等待的调用），Misses统计成功的计算。HitRate为Hits/(Hits+Misses)的百分比。
type Stats struct {
	TotalRequests uint64      `json:"total_requests"`
	Hits          uint64      `json:"hits"`
	Misses        uint64      `json:"misses"`
	ComputeErrors uint64      `json:"compute_errors"`
	Coalesced     uint64      `json:"coalesced"`
	HitRate       float64     `json:"hit_rate"`
	Cache         cache.Stats `json:"cache"`
}

// Option configures a Coordinator.
// Option 配置Coordinator。
type Option func(*options)

type options struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithClock sets the clock used for ComputedAt and freshness checks.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Coordinator returns fresh cached analyses or computes them once.
// It is safe for concurrent use.
//
// Coordinator 返回新鲜的缓存分析结果或只计算一次，并发安全。
type Coordinator[T any] struct {
	store   *cache.Store[Package[T]]
	exec    *executor.Executor
	config  Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group

	requests  atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	errs      atomic.Uint64
	coalesced atomic.Uint64
}

// New creates a coordinator over store. exec may be nil, in which case batch
// misses are computed one after another on the calling goroutine.
//
// New 基于store创建协调器。exec可以为nil，此时批量未命中在调用方goroutine中依次计算。
//
// Parameters:
//   - store: The store holding the packages
//   - exec: The executor used by BatchGetOrCompute
//   - cfg: Coordinator configuration
//   - opts: Coordinator options
//
// Returns:
//   - *Coordinator[T]: The coordinator
//   - error: An error if the configuration is invalid or store is nil
func New[T any](store *cache.Store[Package[T]], exec *executor.Executor, cfg Config, opts ...Option) (*Coordinator[T], error) {
	if store == nil {
		return nil, fmt.Errorf("coordinator: store is required")
	}
	if cfg.FreshnessWindow == 0 {
		cfg.FreshnessWindow = DefaultConfig().FreshnessWindow
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	c := &Coordinator[T]{
		store:   store,
		exec:    exec,
		config:  cfg,
		clock:   clock.OrDefault(o.clock),
		logger:  o.logger,
		metrics: o.metrics,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// GetOrCompute returns the package stored under key if it was computed at
// most ttl ago. Otherwise computeFn is called, and its result is stored and
// returned. A zero ttl uses the freshness window. A failed computation is
// returned verbatim and nothing is cached.
//
// GetOrCompute 如果key对应的包在ttl内计算过则直接返回，否则调用computeFn，
// 保存并返回其结果。ttl为0时使用新鲜度窗口。计算失败时原样返回错误，不缓存任何内容。
//
// Parameters:
//   - ctx: Context passed to computeFn
//   - key: The analysis key, e.g. a trading symbol
//   - computeFn: Computes the payload on a miss
//   - ttl: Freshness requirement and store ttl of a new package
//   - args: Extra arguments passed to computeFn
//
// Returns:
//   - Package[T]: The fresh package
//   - error: The computeFn error
func (c *Coordinator[T]) GetOrCompute(ctx context.Context, key string, computeFn ComputeFunc[T], ttl time.Duration, args ...any) (Package[T], error) {
	ttl = c.resolveTTL(ttl)
	c.requests.Inc()
	if pkg, ok := c.lookup(key, ttl); ok {
		c.recordHit()
		return pkg, nil
	}
	return c.fill(ctx, key, ttl, func(ctx context.Context) (T, time.Duration, error) {
		v, err := computeFn(ctx, key, args...)
		return v, 0, err
	})
}

// GetOrLoad is GetOrCompute with a loader. A non-zero ttl returned by the
// loader becomes the store ttl; freshness is always judged against the
// freshness window.
//
// GetOrLoad 是使用加载器的GetOrCompute。加载器返回的非零ttl作为存储ttl，
// 新鲜度始终按新鲜度窗口判断。
func (c *Coordinator[T]) GetOrLoad(ctx context.Context, key string, l loader.Loader[T]) (Package[T], error) {
	ttl := c.config.FreshnessWindow
	c.requests.Inc()
	if pkg, ok := c.lookup(key, ttl); ok {
		c.recordHit()
		return pkg, nil
	}
	return c.fill(ctx, key, ttl, func(ctx context.Context) (T, time.Duration, error) {
		return l.Load(ctx, key)
	})
}

// BatchGetOrCompute applies GetOrCompute to every distinct key. Fresh hits are
// served inline; misses run through the executor. Every key ends up in exactly
// one of the two returned maps.
//
// BatchGetOrCompute 对每个不同的键执行GetOrCompute。新鲜命中直接返回，
// 未命中通过执行器运行。每个键恰好出现在返回的两个map之一中。
func (c *Coordinator[T]) BatchGetOrCompute(ctx context.Context, keys []string, computeFn ComputeFunc[T], ttl time.Duration, args ...any) (map[string]Package[T], map[string]error) {
	ttl = c.resolveTTL(ttl)
	out := make(map[string]Package[T], len(keys))
	errs := make(map[string]error)

	seen := make(map[string]struct{}, len(keys))
	var missing []string
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.requests.Inc()
		if pkg, ok := c.lookup(key, ttl); ok {
			c.recordHit()
			out[key] = pkg
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) == 0 {
		return out, errs
	}

	load := func(ctx context.Context, key string) (Package[T], error) {
		return c.fill(ctx, key, ttl, func(ctx context.Context) (T, time.Duration, error) {
			v, err := computeFn(ctx, key, args...)
			return v, 0, err
		})
	}

	if c.exec == nil {
		for _, key := range missing {
			if pkg, err := load(ctx, key); err != nil {
				errs[key] = err
			} else {
				out[key] = pkg
			}
		}
		return out, errs
	}

	// 超时后仍在运行的任务不能再写入返回的map
	var mu sync.Mutex
	closed := false
	tasks := make([]executor.Task, len(missing))
	for i, key := range missing {
		key := key
		tasks[i] = executor.Task{
			Key: key,
			Fn: func(ctx context.Context, _ ...any) (any, error) {
				pkg, err := load(ctx, key)
				mu.Lock()
				defer mu.Unlock()
				// 批次结束后放弃的键由执行器报告为ErrBatchTimeout
				if !closed && (err == nil || ctx.Err() == nil) {
					if err != nil {
						errs[key] = err
					} else {
						out[key] = pkg
					}
				}
				return pkg, err
			},
		}
	}

	res := c.exec.ExecuteBatch(ctx, tasks)

	mu.Lock()
	defer mu.Unlock()
	closed = true
	for _, r := range res.Results {
		if r.Success {
			continue
		}
		if _, ok := errs[r.Key]; !ok {
			errs[r.Key] = r.Err
		}
	}
	return out, errs
}

// Invalidate drops the package stored under key.
//
// Invalidate 删除key对应的包。
func (c *Coordinator[T]) Invalidate(key string) bool {
	return c.store.Delete(key)
}

// ClearCache clears the store and resets the coordinator counters.
//
// ClearCache 清空存储并重置协调器计数。
func (c *Coordinator[T]) ClearCache() {
	c.store.Clear()
	c.requests.Store(0)
	c.hits.Store(0)
	c.misses.Store(0)
	c.errs.Store(0)
	c.coalesced.Store(0)
	c.logger.Info("coordinator cache cleared", "cache", c.store.Name())
}

// Stats returns the coordinator statistics.
//
// Stats 返回协调器统计信息。
func (c *Coordinator[T]) Stats() Stats {
	st := Stats{
		TotalRequests: c.requests.Load(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		ComputeErrors: c.errs.Load(),
		Coalesced:     c.coalesced.Load(),
		Cache:         c.store.Stats(),
	}
	if served := st.Hits + st.Misses; served > 0 {
		st.HitRate = float64(st.Hits) / float64(served) * 100
	}
	return st
}

// resolveTTL 0表示使用新鲜度窗口
func (c *Coordinator[T]) resolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.config.FreshnessWindow
	}
	return ttl
}

// lookup 查找新鲜的包
func (c *Coordinator[T]) lookup(key string, ttl time.Duration) (Package[T], bool) {
	pkg, ok := c.store.Get(key)
	if !ok || !pkg.Fresh(c.clock.Now(), ttl) {
		return Package[T]{}, false
	}
	return pkg, true
}

func (c *Coordinator[T]) recordHit() {
	c.hits.Inc()
	c.metrics.RecordCoordinator("hit")
}

// fill 计算并保存，开启SingleFlight时同一键的并发调用共享一次计算。
// 共享计算与发起者的ctx取消解耦，每个调用方只等待自己的ctx。
func (c *Coordinator[T]) fill(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (T, time.Duration, error)) (Package[T], error) {
	if !c.config.SingleFlight {
		return c.compute(ctx, key, ttl, load)
	}

	shared := context.WithoutCancel(ctx)
	leader := false
	ch := c.group.DoChan(key, func() (v any, err error) {
		leader = true
		// DoChan在独立的goroutine中运行，panic必须在这里转换为错误
		defer func() {
			if r := recover(); r != nil {
				c.errs.Inc()
				c.metrics.RecordCoordinator("error")
				c.logger.Error("analysis panicked", "key", key, "panic", r)
				err = fmt.Errorf("%w: %s: %v", errors.ErrTaskPanic, key, r)
			}
		}()
		// 等待期间其他调用可能已经写入
		if pkg, ok := c.lookup(key, ttl); ok {
			c.recordHit()
			return pkg, nil
		}
		computeCtx, cancel := shared, context.CancelFunc(func() {})
		if c.config.ComputeTimeout > 0 {
			computeCtx, cancel = context.WithTimeout(shared, c.config.ComputeTimeout)
		}
		defer cancel()
		return c.compute(computeCtx, key, ttl, load)
	})

	select {
	case <-ctx.Done():
		return Package[T]{}, ctx.Err()
	case res := <-ch:
		if !leader {
			c.coalesced.Inc()
			c.metrics.RecordCoordinator("coalesced")
			if res.Err == nil {
				c.recordHit()
			}
		}
		if res.Err != nil {
			return Package[T]{}, res.Err
		}
		return res.Val.(Package[T]), nil
	}
}

// compute 调用计算函数，成功时保存结果
func (c *Coordinator[T]) compute(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (T, time.Duration, error)) (Package[T], error) {
	payload, storeTTL, err := load(ctx)
	if err != nil {
		c.errs.Inc()
		c.metrics.RecordCoordinator("error")
		c.logger.Debug("analysis failed", "key", key, "error", err)
		return Package[T]{}, err
	}
	if storeTTL <= 0 {
		storeTTL = ttl
	}

	pkg := Package[T]{Key: key, ComputedAt: c.clock.Now(), Payload: payload}
	if !c.store.Set(key, pkg, storeTTL) {
		c.logger.Warn("analysis not cached", "key", key)
	}
	c.misses.Inc()
	c.metrics.RecordCoordinator("miss")
	return pkg, nil
}
