package breaker

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
)

// Manager owns the named breakers of a process, one per upstream operation.
// It is constructed once and passed to the components that need it.
//
// Manager 持有进程内的命名熔断器，每个上游操作一个。
// 它只构造一次并传递给需要的组件。
type Manager struct {
	defaults  Config
	overrides map[string]Config
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// ManagerOption configures a Manager.
// ManagerOption 配置Manager。
type ManagerOption func(*Manager)

// WithOverrides sets per-name configurations used instead of the defaults.
//
// WithOverrides 设置按名称覆盖默认值的配置。
func WithOverrides(overrides map[string]Config) ManagerOption {
	return func(m *Manager) {
		for name, cfg := range overrides {
			m.overrides[name] = cfg
		}
	}
}

// WithManagerClock sets the clock inherited by created breakers.
func WithManagerClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithManagerLogger sets the logger inherited by created breakers.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithManagerMetrics sets the metrics inherited by created breakers.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager.
//
// NewManager 创建管理器。
//
// Parameters:
//   - defaults: Configuration for breakers without an override
//   - opts: Manager options
//
// Returns:
//   - *Manager: The manager
//   - error: An error if the default configuration is invalid
func NewManager(defaults Config, opts ...ManagerOption) (*Manager, error) {
	check := defaults
	check.applyDefaults()
	if err := check.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		defaults:  defaults,
		overrides: make(map[string]Config),
		breakers:  make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetBreaker returns the breaker called name, creating it on first use.
// cfg is used only on creation. Its zero fields are taken from the per-name
// override, then from the manager defaults.
//
// GetBreaker 返回名为name的熔断器，首次使用时创建。
// cfg只在创建时使用，其零值字段依次取自按名称的覆盖配置和默认配置。
func (m *Manager) GetBreaker(name string, cfg *Config) (*CircuitBreaker, error) {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb, nil
	}

	c := m.defaults
	if override, ok := m.overrides[name]; ok {
		c = override.Inherit(c)
	}
	if cfg != nil {
		c = cfg.Inherit(c)
	}
	if c.Clock == nil {
		c.Clock = m.clock
	}
	if c.Logger == nil {
		c.Logger = m.logger
	}
	if c.Metrics == nil {
		c.Metrics = m.metrics
	}

	cb, err := New(name, c)
	if err != nil {
		return nil, err
	}
	m.breakers[name] = cb
	return cb, nil
}

// Get returns an existing breaker.
//
// Get 返回已存在的熔断器。
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// Names returns the sorted breaker names.
// Names 返回排序后的熔断器名称。
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the stats of every breaker keyed by name.
//
// Stats 返回按名称索引的所有熔断器统计。
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.Stats()
	}
	return out
}

// ResetAll resets every breaker.
//
// ResetAll 重置所有熔断器。
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
