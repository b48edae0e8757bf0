// Package app wires every hguard component from one configs.Config. It owns
// their lifecycle: the cache snapshot is restored on start and saved on Close.
//
// Package app 根据configs.Config装配hguard的所有组件并管理其生命周期：
// 启动时恢复缓存快照，Close时保存。
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Humphrey-He/hguard/api/admin"
	"github.com/Humphrey-He/hguard/configs"
	"github.com/Humphrey-He/hguard/internal/logging"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/internal/upstream"
	"github.com/Humphrey-He/hguard/pkg/breaker"
	"github.com/Humphrey-He/hguard/pkg/cache"
	"github.com/Humphrey-He/hguard/pkg/coordinator"
	"github.com/Humphrey-He/hguard/pkg/executor"
	"github.com/Humphrey-He/hguard/pkg/loader"
)

// MarketData is the upstream the app analyses.
//
// MarketData 是应用分析的上游。
type MarketData interface {
	FetchTicker(ctx context.Context, symbol string) (upstream.Ticker, error)
	Analyze(t upstream.Ticker) upstream.Analysis
}

// Option configures an App.
type Option func(*App)

// WithMarketData replaces the simulator built from the simulator section.
//
// WithMarketData 替换根据simulator配置构建的模拟器。
func WithMarketData(md MarketData) Option {
	return func(a *App) {
		a.market = md
	}
}

// WithLogger replaces the logger built from the log section.
//
// WithLogger 替换根据log配置构建的日志记录器。
func WithLogger(l *logging.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// App is the composition root of the service.
//
// App 是服务的组合根。
type App struct {
	cfg *configs.Config

	logger      *logging.Logger
	metrics     *metrics.Metrics
	store       *cache.Store[coordinator.Package[upstream.Analysis]]
	breakers    *breaker.Manager
	executor    *executor.Executor
	coordinator *coordinator.Coordinator[upstream.Analysis]
	market      MarketData
	loader      loader.Loader[upstream.Analysis]
	admin       *admin.Server
}

// New builds every component described by cfg and restores the cache snapshot.
//
// New 构建cfg描述的所有组件并恢复缓存快照。
//
// Parameters:
//   - cfg: A validated process configuration
//   - opts: Replacements for the logger or the upstream
//
// Returns:
//   - *App: The application, Close it to save the snapshot
//   - error: An error if any component cannot be built
func New(cfg *configs.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		l, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		a.logger = l
	}
	log := a.logger.Logger

	mc, err := cfg.Metrics.MetricsOptions()
	if err != nil {
		return nil, err
	}
	a.metrics = metrics.New(mc)

	storeCfg := cfg.Cache
	storeCfg.Logger = log
	storeCfg.Metrics = a.metrics
	if a.store, err = cache.New[coordinator.Package[upstream.Analysis]](&storeCfg); err != nil {
		return nil, a.abort(err)
	}

	a.breakers, err = breaker.NewManager(cfg.Breakers.Default,
		breaker.WithOverrides(cfg.Breakers.Resolve()),
		breaker.WithManagerLogger(log),
		breaker.WithManagerMetrics(a.metrics),
	)
	if err != nil {
		return nil, a.abort(err)
	}

	execCfg := cfg.Executor
	execCfg.Logger = log
	execCfg.Metrics = a.metrics
	if a.executor, err = executor.New(execCfg); err != nil {
		return nil, a.abort(err)
	}

	a.coordinator, err = coordinator.New(a.store, a.executor, cfg.Coordinator,
		coordinator.WithLogger(log),
		coordinator.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, a.abort(err)
	}

	if a.market == nil {
		sim, err := upstream.New(upstream.Config{
			Latency:     cfg.Simulator.Latency,
			FailureRate: cfg.Simulator.FailureRate,
			Seed:        cfg.Simulator.Seed,
		})
		if err != nil {
			return nil, a.abort(err)
		}
		a.market = sim
	}
	cb, err := a.breakers.GetBreaker(cfg.Simulator.Breaker, nil)
	if err != nil {
		return nil, a.abort(err)
	}
	a.loader = loader.NewBreakerLoader(cb, loader.NewFunctionLoader(a.fetch))

	if cfg.Admin.Enable {
		a.admin = admin.New(cfg.Admin, admin.Deps{
			Cache:       a.store,
			Breakers:    a.breakers,
			Executor:    a.executor,
			Coordinator: a.coordinator,
			Metrics:     a.metrics,
			Logger:      log.With("component", "admin"),
		})
	}

	if cfg.Cache.SnapshotPath != "" {
		if _, err := a.store.LoadSnapshot(""); err != nil {
			// 损坏的快照不阻止启动
			log.Warn("cache snapshot not restored", "path", cfg.Cache.SnapshotPath, "error", err)
		}
	}

	log.Info("hguard initialized",
		"cache", cfg.Cache.Name,
		"max_workers", cfg.Executor.MaxWorkers,
		"rate_per_second", cfg.Executor.RatePerSecond,
		"freshness_window", cfg.Coordinator.FreshnessWindow,
		"metrics", a.metrics.Level().String(),
	)
	return a, nil
}

// abort 释放已构建的组件
func (a *App) abort(err error) error {
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return multierr.Append(err, a.logger.Close())
}

// fetch 拉取行情并分析
func (a *App) fetch(ctx context.Context, symbol string) (upstream.Analysis, error) {
	t, err := a.market.FetchTicker(ctx, symbol)
	if err != nil {
		return upstream.Analysis{}, err
	}
	return a.market.Analyze(t), nil
}

// Analyze returns the analysis of one symbol, computing it through the
// upstream breaker when the cached one is older than the freshness window.
//
// Analyze 返回单个交易对的分析结果，缓存结果超过新鲜度窗口时通过上游熔断器重新计算。
func (a *App) Analyze(ctx context.Context, symbol string) (coordinator.Package[upstream.Analysis], error) {
	return a.coordinator.GetOrLoad(ctx, symbol, a.loader)
}

// ScanOnce analyses every configured symbol in one executor batch.
//
// ScanOnce 在一个执行器批次中分析所有配置的交易对。
//
// Returns:
//   - map[string]coordinator.Package[upstream.Analysis]: Analyses by symbol
//   - map[string]error: Failures by symbol
func (a *App) ScanOnce(ctx context.Context) (map[string]coordinator.Package[upstream.Analysis], map[string]error) {
	start := time.Now()
	out, errs := a.coordinator.BatchGetOrCompute(ctx, a.cfg.Simulator.Symbols,
		func(ctx context.Context, symbol string, _ ...any) (upstream.Analysis, error) {
			v, _, err := a.loader.Load(ctx, symbol)
			return v, err
		}, 0)

	a.logger.Info("scan finished",
		"symbols", len(a.cfg.Simulator.Symbols),
		"ok", len(out),
		"failed", len(errs),
		"duration", time.Since(start),
	)
	for symbol, err := range errs {
		a.logger.Warn("analysis failed", "symbol", symbol, "error", err)
	}
	return out, errs
}

// Run serves the admin API and scans every interval until ctx is done.
// A zero interval disables scanning.
//
// Run 提供管理API服务并每隔interval扫描一次，直到ctx结束，interval为0时不扫描。
func (a *App) Run(ctx context.Context, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.admin != nil {
		g.Go(a.admin.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Admin.ShutdownTimeout)
			defer cancel()
			return a.admin.Shutdown(shutdownCtx)
		})
	}

	if interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				a.ScanOnce(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	return g.Wait()
}

// ApplyConfig applies the settings that can change without a restart:
// log level, executor rate and simulator failure rate.
//
// ApplyConfig 应用无需重启即可修改的设置：日志级别、执行器速率和模拟失败率。
func (a *App) ApplyConfig(cfg *configs.Config) {
	if err := a.logger.SetLevel(cfg.Log.Level); err != nil {
		a.logger.Warn("log level not changed", "error", err)
	}
	if cfg.Executor.RatePerSecond != a.executor.Stats().RatePerSecond {
		a.executor.SetRateLimit(cfg.Executor.RatePerSecond)
	}
	if sim, ok := a.market.(*upstream.Simulator); ok {
		sim.SetFailureRate(cfg.Simulator.FailureRate)
	}
	a.logger.Info("configuration applied", "log_level", cfg.Log.Level)
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger.Logger
}

// Metrics returns the metrics collector, nil when metrics are disabled.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Coordinator returns the analysis coordinator.
func (a *App) Coordinator() *coordinator.Coordinator[upstream.Analysis] {
	return a.coordinator
}

// Breakers returns the breaker manager.
func (a *App) Breakers() *breaker.Manager {
	return a.breakers
}

// Executor returns the executor.
func (a *App) Executor() *executor.Executor {
	return a.executor
}

// AdminHandler returns the admin API handler, nil when the API is disabled.
//
// AdminHandler 返回管理API处理器，禁用时返回nil。
func (a *App) AdminHandler() http.Handler {
	if a.admin == nil {
		return nil
	}
	return a.admin.Handler()
}

// Close saves the cache snapshot and releases every component.
// All errors are returned together.
//
// Close 保存缓存快照并释放所有组件，返回所有错误的组合。
func (a *App) Close() error {
	var err error
	if a.cfg.Cache.SnapshotPath != "" {
		if serr := a.store.SaveSnapshot(""); serr != nil {
			err = multierr.Append(err, fmt.Errorf("save snapshot: %w", serr))
		}
	}
	err = multierr.Append(err, a.store.Close())
	a.logger.Info("hguard stopped", "error", err)
	return multierr.Append(err, a.logger.Close())
}
