// Package metrics provides runtime metrics for the cache store, circuit breakers,
// the rate-limited executor and the coordinator.
// Package metrics 提供缓存存储、熔断器、限流执行器和协调器的运行时指标。
//
// Collectors are registered on a private Prometheus registry so several
// instances can coexist in one process (tests, multiple apps). A nil *Metrics
// is valid and turns every Record call into a no-op, which is what
// New returns when collection is disabled.
//
// 指标注册在私有的Prometheus注册表上，因此一个进程内可以存在多个实例。
// nil的*Metrics是合法的，所有Record调用都会变成空操作；禁用采集时New返回nil。
package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Level defines the metrics collection level.
// Level 定义指标采集级别。
type Level int

const (
	// Disabled means metrics collection is turned off.
	// Disabled 表示禁用指标采集。
	Disabled Level = iota

	// Basic enables counters and gauges.
	// Basic 启用计数器和仪表。
	Basic

	// Detailed additionally records latency histograms.
	// Detailed 额外记录延迟直方图。
	Detailed
)

// String returns the configuration name of the level.
func (l Level) String() string {
	switch l {
	case Disabled:
		return "disabled"
	case Basic:
		return "basic"
	case Detailed:
		return "detailed"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a configuration string into a Level.
//
// ParseLevel 将配置字符串转换为Level。
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "none", "off":
		return Disabled, nil
	case "basic", "":
		return Basic, nil
	case "detailed", "full":
		return Detailed, nil
	default:
		return Disabled, fmt.Errorf("unknown metrics level %q", s)
	}
}

// Config defines configuration options for metrics collection.
// Config 定义指标采集的配置选项。
type Config struct {
	// Level is the collection level.
	// Level 是采集级别。
	Level Level

	// Namespace prefixes every metric name. Defaults to "hguard".
	// Namespace 是所有指标名的前缀，默认为"hguard"。
	Namespace string

	// RuntimeCollectors registers the Go and process collectors.
	// RuntimeCollectors 注册Go运行时和进程指标。
	RuntimeCollectors bool
}

// Breaker state values exported by the breaker_state gauge.
// 熔断器状态仪表的取值。
const (
	StateClosed   = 0
	StateOpen     = 1
	StateHalfOpen = 2
)

// Metrics holds every collector used by hguard components.
// Metrics 持有hguard各组件使用的全部采集器。
type Metrics struct {
	level    Level
	registry *prometheus.Registry

	cacheRequests  *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheRejects   *prometheus.CounterVec
	cacheEntries   *prometheus.GaugeVec
	cacheBytes     *prometheus.GaugeVec

	breakerState       *prometheus.GaugeVec
	breakerCalls       *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec

	executorTasks     *prometheus.CounterVec
	executorDuration  *prometheus.HistogramVec
	executorActive    prometheus.Gauge
	executorThrottled prometheus.Counter
	executorBatches   prometheus.Counter

	coordinatorRequests *prometheus.CounterVec
}

// New creates a metrics collector. It returns nil when the level is Disabled.
//
// New 创建指标采集器，级别为Disabled时返回nil。
//
// Parameters:
//   - config: Metrics configuration, nil means Basic with defaults
//
// Returns:
//   - *Metrics: A new metrics instance or nil
func New(config *Config) *Metrics {
	if config == nil {
		config = &Config{Level: Basic}
	}
	if config.Level == Disabled {
		return nil
	}
	ns := config.Namespace
	if ns == "" {
		ns = "hguard"
	}

	m := &Metrics{
		level:    config.Level,
		registry: prometheus.NewRegistry(),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "requests_total",
			Help: "Cache lookups by result (hit, miss)",
		}, []string{"cache", "result"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "evictions_total",
			Help: "Entries removed by the store (capacity, expired, stale)",
		}, []string{"cache", "reason"}),
		cacheRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "rejects_total",
			Help: "Values rejected because they were too large to store",
		}, []string{"cache"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "entries",
			Help: "Number of entries currently stored",
		}, []string{"cache"}),
		cacheBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "size_bytes",
			Help: "Estimated size of stored entries in bytes",
		}, []string{"cache"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "breaker", Name: "state",
			Help: "Circuit state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
		breakerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "breaker", Name: "calls_total",
			Help: "Guarded calls by outcome (success, failure, rejected, ignored)",
		}, []string{"breaker", "outcome"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "breaker", Name: "transitions_total",
			Help: "Circuit state transitions",
		}, []string{"breaker", "from", "to"}),

		executorTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "executor", Name: "tasks_total",
			Help: "Executed tasks by outcome (success, failure, timeout)",
		}, []string{"outcome"}),
		executorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "executor", Name: "task_duration_seconds",
			Help:    "Task execution time in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"outcome"}),
		executorActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "executor", Name: "active_workers",
			Help: "Tasks currently running",
		}),
		executorThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "executor", Name: "throttled_total",
			Help: "Submissions that had to wait for the rate limiter",
		}),
		executorBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "executor", Name: "batches_total",
			Help: "Batches executed",
		}),

		coordinatorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "coordinator", Name: "requests_total",
			Help: "Coordinator requests by result (hit, miss, error, coalesced)",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.cacheRequests, m.cacheEvictions, m.cacheRejects, m.cacheEntries, m.cacheBytes,
		m.breakerState, m.breakerCalls, m.breakerTransitions,
		m.executorTasks, m.executorActive, m.executorThrottled, m.executorBatches,
		m.coordinatorRequests,
	)
	if m.level >= Detailed {
		m.registry.MustRegister(m.executorDuration)
	}
	if config.RuntimeCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Level returns the collection level; Disabled for a nil receiver.
func (m *Metrics) Level() Level {
	if m == nil {
		return Disabled
	}
	return m.level
}

// Registry returns the underlying Prometheus registry.
// Registry 返回底层的Prometheus注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHit 记录缓存命中
func (m *Metrics) RecordHit(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

// RecordMiss 记录缓存未命中
func (m *Metrics) RecordMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "miss").Inc()
}

// RecordEviction 记录淘汰，reason为capacity、expired或stale
func (m *Metrics) RecordEviction(cache, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.WithLabelValues(cache, reason).Add(float64(n))
}

// RecordReject 记录被拒绝写入的值
func (m *Metrics) RecordReject(cache string) {
	if m == nil {
		return
	}
	m.cacheRejects.WithLabelValues(cache).Inc()
}

// UpdateCacheSize 更新条目数和字节数
func (m *Metrics) UpdateCacheSize(cache string, entries int, bytes int64) {
	if m == nil {
		return
	}
	m.cacheEntries.WithLabelValues(cache).Set(float64(entries))
	m.cacheBytes.WithLabelValues(cache).Set(float64(bytes))
}

// RecordBreakerState 记录熔断器当前状态
func (m *Metrics) RecordBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordBreakerCall 记录一次受保护调用的结果
func (m *Metrics) RecordBreakerCall(breaker, outcome string) {
	if m == nil {
		return
	}
	m.breakerCalls.WithLabelValues(breaker, outcome).Inc()
}

// RecordBreakerTransition 记录状态转换
func (m *Metrics) RecordBreakerTransition(breaker, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(breaker, from, to).Inc()
}

// RecordTask 记录任务结果，Detailed级别下同时记录耗时
func (m *Metrics) RecordTask(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executorTasks.WithLabelValues(outcome).Inc()
	if m.level >= Detailed {
		m.executorDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// AddActiveWorkers 调整活跃工作者数量
func (m *Metrics) AddActiveWorkers(delta int) {
	if m == nil {
		return
	}
	m.executorActive.Add(float64(delta))
}

// RecordThrottled 记录一次被限流器阻塞的提交
func (m *Metrics) RecordThrottled() {
	if m == nil {
		return
	}
	m.executorThrottled.Inc()
}

// RecordBatch 记录一次批处理
func (m *Metrics) RecordBatch() {
	if m == nil {
		return
	}
	m.executorBatches.Inc()
}

// RecordCoordinator 记录协调器请求结果
func (m *Metrics) RecordCoordinator(result string) {
	if m == nil {
		return
	}
	m.coordinatorRequests.WithLabelValues(result).Inc()
}
