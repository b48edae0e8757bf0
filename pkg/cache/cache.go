// Package cache provides a bounded, TTL-aware in-memory store with LRU eviction
// and optional snapshot persistence.
//
// Every entry carries an estimated size (the length of its encoded value), a
// creation time, a last-access time and an optional time-to-live. The store keeps
// both an entry-count budget and a byte budget, evicting least recently accessed
// entries until a new value fits. A single value larger than MaxEntryRatio of the
// byte budget is rejected.
//
// Package cache 提供有界、支持TTL的内存存储，使用LRU淘汰并可选快照持久化。
//
// 每个条目带有估算大小（值编码后的长度）、创建时间、最后访问时间和可选的生存时间。
// 存储同时维护条目数预算和字节预算，淘汰最久未访问的条目直到新值能放下。
// 超过字节预算MaxEntryRatio比例的单个值会被拒绝。
package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/eviction"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/internal/ttl"
	"github.com/Humphrey-He/hguard/pkg/codec"
	"github.com/Humphrey-He/hguard/pkg/errors"
)

// entry 存储中的一个条目
type entry[V any] struct {
	value       V
	createdAt   time.Time
	accessedAt  time.Time
	accessCount uint64
	ttl         time.Duration // 0 表示不按时间过期
	size        int64
}

// expired 判断条目在now时是否已过期
func (e *entry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// Stats contains statistics about the store.
// Entry and size counters reset on Clear; the other counters only increase.
//
// Stats 包含存储的统计信息。
// 条目和大小计数在Clear时重置，其他计数只增不减。
type Stats struct {
	// Name is the store name
	// Name 是存储名称
	Name string `json:"name"`

	// EntryCount is the current number of stored entries
	// EntryCount 是当前存储的条目数量
	EntryCount int `json:"entry_count"`

	// SizeBytes is the sum of the estimated sizes of stored entries
	// SizeBytes 是存储条目估算大小之和
	SizeBytes int64 `json:"size_bytes"`

	// Hits is the number of successful lookups
	// Hits 是成功查找的次数
	Hits uint64 `json:"hits"`

	// Misses is the number of lookups that found nothing live
	// Misses 是未找到有效条目的查找次数
	Misses uint64 `json:"misses"`

	// Evictions counts every entry removed by the store itself
	// (capacity, expiry on read, cleanup)
	// Evictions 统计由存储自身移除的条目（容量、读取时过期、清理）
	Evictions uint64 `json:"evictions"`

	// Expirations is the share of Evictions caused by ttl or staleness
	// Expirations 是由ttl或陈旧导致的淘汰数
	Expirations uint64 `json:"expirations"`

	// Rejections counts values refused by Set
	// Rejections 统计被Set拒绝的值
	Rejections uint64 `json:"rejections"`

	// HitRate is Hits / (Hits + Misses) in percent
	// HitRate 是命中率百分比
	HitRate float64 `json:"hit_rate"`

	// BackgroundSweeps is the number of janitor runs, zero without background cleanup
	// BackgroundSweeps 是后台清理器的运行次数
	BackgroundSweeps uint64 `json:"background_sweeps"`

	// LastSweepDuration is how long the latest janitor run took
	// LastSweepDuration 是最近一次后台清理的耗时
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
}

// MemoryUsage describes the byte budget utilisation.
//
// MemoryUsage 描述字节预算的使用情况。
type MemoryUsage struct {
	Bytes              int64   `json:"bytes"`
	MB                 float64 `json:"mb"`
	MaxBytes           int64   `json:"max_bytes"`
	UtilizationPercent float64 `json:"utilization_percent"`
	Entries            int     `json:"entries"`
	MaxEntries         int     `json:"max_entries"`
	AverageEntryBytes  float64 `json:"average_entry_bytes"`
}

// Store is a bounded TTL and LRU cache of values of type V.
// All methods are safe for concurrent use.
//
// Store 是类型为V的有界TTL和LRU缓存，所有方法都是并发安全的。
type Store[V any] struct {
	config  Config
	codec   codec.Codec
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	janitor *ttl.Janitor

	mu          sync.Mutex
	items       map[string]*entry[V]
	lru         eviction.Policy
	sizeBytes   int64
	lastCleanup time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
	rejections  uint64
}

// New creates a new store with the provided configuration.
// If config is nil, default configuration will be used.
//
// New 创建一个具有提供的配置的新存储。
// 如果config为nil，将使用默认配置。
//
// Parameters:
//   - config: The configuration to use for the store
//
// Returns:
//   - *Store[V]: The created store
//   - error: An error if the configuration is invalid
func New[V any](config *Config) (*Store[V], error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	cfg := *config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidConfig("%v", err)
	}

	cd := cfg.Codec
	if cd == nil {
		cd, _ = codec.GetCodec(cfg.CodecName)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store[V]{
		config:  cfg,
		codec:   cd,
		clock:   clock.OrDefault(cfg.Clock),
		logger:  logger.With("cache", cfg.Name),
		metrics: cfg.Metrics,
		items:   make(map[string]*entry[V]),
		lru:     eviction.NewLRU(),
	}
	s.lastCleanup = s.clock.Now()

	if cfg.BackgroundCleanup {
		s.janitor = ttl.NewJanitor(s.Cleanup, &ttl.Config{
			Interval: cfg.CleanupInterval,
			Logger:   s.logger,
		})
	}
	return s, nil
}

// Name returns the store name.
func (s *Store[V]) Name() string {
	return s.config.Name
}

// Get returns the live value stored under key.
// An expired entry is removed and counted as both a miss and an eviction.
//
// Get 返回键对应的有效值。
// 过期条目会被移除，同时计为一次未命中和一次淘汰。
//
// Parameters:
//   - key: The key to look up
//
// Returns:
//   - V: The stored value, or the zero value
//   - bool: Whether a live value was found
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var zero V
	e, ok := s.items[key]
	switch {
	case !ok:
		s.misses++
		s.metrics.RecordMiss(s.config.Name)
	case e.expired(now):
		s.removeLocked(key, e)
		s.evictions++
		s.expirations++
		s.misses++
		s.metrics.RecordEviction(s.config.Name, "expired", 1)
		s.metrics.RecordMiss(s.config.Name)
		ok = false
	default:
		e.accessedAt = now
		e.accessCount++
		s.lru.Touch(key)
		s.hits++
		s.metrics.RecordHit(s.config.Name)
	}

	s.maybeCleanupLocked(now)
	if !ok {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
// A ttl of 0 uses DefaultTTL and a negative ttl never expires.
// It returns false when the value is too large for the store; the store is then unchanged.
//
// Set 存储键值。
// ttl为0时使用DefaultTTL，负值表示永不过期。
// 值对存储来说过大时返回false，此时存储不变。
//
// Parameters:
//   - key: The key to store
//   - value: The value, owned by the store after the call
//   - ttl: Time-to-live for this entry
//
// Returns:
//   - bool: Whether the value was stored
func (s *Store[V]) Set(key string, value V, ttl time.Duration) bool {
	size, err := s.estimateSize(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		err = s.checkSize(size)
	}
	if err != nil {
		s.rejectLocked(key, size, err)
		return false
	}

	now := s.clock.Now()
	s.maybeCleanupLocked(now)
	s.insertLocked(key, &entry[V]{
		value:      value,
		createdAt:  now,
		accessedAt: now,
		ttl:        s.resolveTTL(ttl),
		size:       size,
	})
	return true
}

// Delete removes key. Returns false if it was not stored.
//
// Delete 删除键，不存在时返回false。
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeLocked(key, e)
	s.updateGaugesLocked()
	return true
}

// Clear drops every entry. Hit, miss and eviction counters are kept.
//
// Clear 删除所有条目，命中、未命中和淘汰计数保留。
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*entry[V])
	s.lru.Clear()
	s.sizeBytes = 0
	s.updateGaugesLocked()
	s.logger.Info("cache cleared")
}

// Cleanup removes expired and stale entries and returns how many were removed.
// Removed entries count as evictions.
//
// Cleanup 移除过期和陈旧的条目并返回移除数量，移除的条目计为淘汰。
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(s.clock.Now())
}

// Keys returns the stored keys, least recently accessed first.
// Keys 返回存储的键，最久未访问的在前。
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}

// Len returns the number of stored entries, including expired ones not yet removed.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Stats returns a snapshot of the store statistics.
//
// Stats 返回存储统计信息的快照。
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Name:        s.config.Name,
		EntryCount:  len(s.items),
		SizeBytes:   s.sizeBytes,
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Expirations: s.expirations,
		Rejections:  s.rejections,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total) * 100
	}
	if s.janitor != nil {
		js := s.janitor.GetStats()
		st.BackgroundSweeps = js.SweepCount
		st.LastSweepDuration = js.LastDuration
	}
	return st
}

// MemoryUsage reports byte budget utilisation.
//
// MemoryUsage 报告字节预算的使用情况。
func (s *Store[V]) MemoryUsage() MemoryUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	mu := MemoryUsage{
		Bytes:      s.sizeBytes,
		MB:         float64(s.sizeBytes) / (1024 * 1024),
		MaxBytes:   s.config.MaxMemoryBytes,
		Entries:    len(s.items),
		MaxEntries: s.config.MaxEntries,
	}
	if s.config.MaxMemoryBytes > 0 {
		mu.UtilizationPercent = float64(s.sizeBytes) / float64(s.config.MaxMemoryBytes) * 100
	}
	if len(s.items) > 0 {
		mu.AverageEntryBytes = float64(s.sizeBytes) / float64(len(s.items))
	}
	return mu
}

// Close stops the background janitor if one is running.
//
// Close 停止后台清理器（如果在运行）。
func (s *Store[V]) Close() error {
	if s.janitor != nil {
		s.janitor.Close()
	}
	return nil
}

// resolveTTL 解析条目的ttl，0表示不过期
func (s *Store[V]) resolveTTL(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d == 0:
		if s.config.DefaultTTL < 0 {
			return 0
		}
		return s.config.DefaultTTL
	default:
		return d
	}
}

// estimateSize 以编码后的长度估算值大小
func (s *Store[V]) estimateSize(value V) (int64, error) {
	data, err := s.codec.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("estimate size: %w", err)
	}
	return int64(len(data)), nil
}

// checkSize 检查单个值是否超过比例上限
func (s *Store[V]) checkSize(size int64) error {
	if s.config.MaxMemoryBytes <= 0 {
		return nil
	}
	limit := s.config.MaxEntryRatio * float64(s.config.MaxMemoryBytes)
	if float64(size) > limit {
		return fmt.Errorf("%w: %d bytes exceeds %.0f", errors.ErrValueTooLarge, size, limit)
	}
	return nil
}

// rejectLocked 记录被拒绝的写入
func (s *Store[V]) rejectLocked(key string, size int64, err error) {
	s.rejections++
	s.metrics.RecordReject(s.config.Name)
	s.logger.Warn("cache set rejected", "key", key, "size_bytes", size, "error", err)
}

// insertLocked 插入条目，必要时按LRU淘汰
func (s *Store[V]) insertLocked(key string, e *entry[V]) {
	if old, ok := s.items[key]; ok {
		s.removeLocked(key, old)
	}

	evicted := 0
	for s.overBudgetLocked(e.size) {
		victim, ok := s.lru.Victim()
		if !ok {
			break
		}
		s.removeLocked(victim, s.items[victim])
		evicted++
	}
	if evicted > 0 {
		s.evictions += uint64(evicted)
		s.metrics.RecordEviction(s.config.Name, "capacity", evicted)
		s.logger.Debug("cache evicted entries", "count", evicted, "for_key", key)
	}

	s.items[key] = e
	s.sizeBytes += e.size
	s.lru.Touch(key)
	s.updateGaugesLocked()
}

// overBudgetLocked 判断再放入size字节是否超出预算
func (s *Store[V]) overBudgetLocked(size int64) bool {
	if s.config.MaxEntries > 0 && len(s.items)+1 > s.config.MaxEntries {
		return true
	}
	if s.config.MaxMemoryBytes > 0 && s.sizeBytes+size > s.config.MaxMemoryBytes {
		return true
	}
	return false
}

// removeLocked 移除条目并调整大小统计
func (s *Store[V]) removeLocked(key string, e *entry[V]) {
	delete(s.items, key)
	s.lru.Remove(key)
	s.sizeBytes -= e.size
}

// maybeCleanupLocked 距上次清理超过CleanupInterval时执行清理
func (s *Store[V]) maybeCleanupLocked(now time.Time) {
	if s.config.CleanupInterval <= 0 || now.Sub(s.lastCleanup) < s.config.CleanupInterval {
		return
	}
	s.cleanupLocked(now)
}

// cleanupLocked 移除过期和陈旧条目
func (s *Store[V]) cleanupLocked(now time.Time) int {
	s.lastCleanup = now

	var staleAfter time.Duration
	if s.config.StaleMultiplier > 0 && s.config.CleanupInterval > 0 {
		staleAfter = time.Duration(s.config.StaleMultiplier * float64(s.config.CleanupInterval))
	}

	expired, stale := 0, 0
	for key, e := range s.items {
		switch {
		case e.expired(now):
			expired++
		case staleAfter > 0 && now.Sub(e.accessedAt) > staleAfter:
			stale++
		default:
			continue
		}
		s.removeLocked(key, e)
	}

	removed := expired + stale
	if removed > 0 {
		s.evictions += uint64(removed)
		s.expirations += uint64(removed)
		s.metrics.RecordEviction(s.config.Name, "expired", expired)
		s.metrics.RecordEviction(s.config.Name, "stale", stale)
		s.updateGaugesLocked()
		s.logger.Debug("cache cleanup", "expired", expired, "stale", stale)
	}
	return removed
}

// updateGaugesLocked 更新大小相关的指标
func (s *Store[V]) updateGaugesLocked() {
	s.metrics.UpdateCacheSize(s.config.Name, len(s.items), s.sizeBytes)
}
