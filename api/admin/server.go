// Package admin provides the admin and observability HTTP API of hguard.
// It exposes component statistics, cache maintenance, manual breaker control
// and the Prometheus endpoint on a gin router.
//
// Package admin 提供hguard的管理和可观测性HTTP API。
// 它在gin路由上暴露组件统计、缓存维护、熔断器手动控制和Prometheus端点。
package admin

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Humphrey-He/hguard/configs"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/breaker"
	"github.com/Humphrey-He/hguard/pkg/cache"
	"github.com/Humphrey-He/hguard/pkg/coordinator"
	"github.com/Humphrey-He/hguard/pkg/executor"
)

// Cache is the part of the analysis store the API needs.
//
// Cache 是API需要的分析存储部分。
type Cache interface {
	Stats() cache.Stats
	MemoryUsage() cache.MemoryUsage
	Cleanup() int
	SaveSnapshot(path string) error
}

// Breakers is the part of the breaker manager the API needs.
//
// Breakers 是API需要的熔断器管理器部分。
type Breakers interface {
	Get(name string) (*breaker.CircuitBreaker, bool)
	Stats() map[string]breaker.Stats
}

// Executor is the part of the executor the API needs.
//
// Executor 是API需要的执行器部分。
type Executor interface {
	Stats() executor.Stats
	SetRateLimit(perSecond int)
}

// Coordinator is the part of the coordinator the API needs.
//
// Coordinator 是API需要的协调器部分。
type Coordinator interface {
	Stats() coordinator.Stats
	Invalidate(key string) bool
	ClearCache()
}

// Deps are the components served by the API. Cache and Coordinator must
// refer to the same store.
//
// Deps 是API服务的组件，Cache和Coordinator必须指向同一个存储。
type Deps struct {
	Cache       Cache
	Breakers    Breakers
	Executor    Executor
	Coordinator Coordinator
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server is the admin HTTP server.
//
// Server 是管理HTTP服务。
type Server struct {
	cfg    configs.AdminConfig
	deps   Deps
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// New creates the admin server and registers every route.
//
// New 创建管理服务并注册所有路由。
//
// Parameters:
//   - cfg: Admin section of the process configuration
//   - deps: Components served by the API
//
// Returns:
//   - *Server: A new admin server, not yet listening
func New(cfg configs.AdminConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	engine := gin.New()
	// 路由使用原始路径，使"BTC%2FUSDT"这样的键能匹配:key
	engine.UseRawPath = true
	engine.Use(gin.Recovery(), RequestLogger(deps.Logger))

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: engine,
		logger: deps.Logger,
	}
	s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// routes 注册路由
func (s *Server) routes() {
	r := s.engine
	h := &handler{deps: s.deps}

	r.GET("/healthz", h.health)
	r.GET("/stats", h.stats)
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	c := r.Group("/cache")
	c.GET("/stats", h.cacheStats)
	c.GET("/memory", h.cacheMemory)
	c.DELETE("", h.clearCache)
	c.DELETE("/:key", h.invalidate)
	c.POST("/snapshot", h.saveSnapshot)
	c.POST("/cleanup", h.cleanup)

	b := r.Group("/breakers")
	b.GET("", h.breakers)
	b.GET("/:name", h.breaker)
	b.POST("/:name/:action", h.breakerAction)

	r.GET("/executor/stats", h.executorStats)
	r.PUT("/executor/rate", h.setRate)
	r.GET("/coordinator/stats", h.coordinatorStats)
}

// Handler returns the HTTP handler of the API.
//
// Handler 返回API的HTTP处理器。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts connections on l until Shutdown is called.
// It returns nil after a graceful shutdown.
//
// Serve 在l上接受连接直到调用Shutdown，正常关闭后返回nil。
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("admin server listening", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves the API.
//
// ListenAndServe 监听配置的地址并提供API服务。
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown gracefully stops the server.
//
// Shutdown 优雅地停止服务。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
