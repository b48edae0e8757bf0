package cache

import (
	"log/slog"
	"time"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/codec"
)

// Option is a function that configures a Config.
//
// Option 是一个配置Config的函数。
type Option func(*Config)

// WithMaxEntryCount sets the maximum number of entries in the store.
// If set to 0, there is no limit on the number of entries.
//
// WithMaxEntryCount 设置最大条目数，0表示不限制。
func WithMaxEntryCount(count int) Option {
	return func(c *Config) {
		c.MaxEntries = count
	}
}

// WithMaxMemory sets the byte budget.
// If set to 0, there is no limit on memory usage.
//
// WithMaxMemory 设置字节预算，0表示不限制。
func WithMaxMemory(bytes int64) Option {
	return func(c *Config) {
		c.MaxMemoryBytes = bytes
	}
}

// WithMaxEntryRatio sets the largest share of the byte budget a single value may take.
//
// WithMaxEntryRatio 设置单个值可占字节预算的最大比例。
func WithMaxEntryRatio(ratio float64) Option {
	return func(c *Config) {
		c.MaxEntryRatio = ratio
	}
}

// WithTTL sets the default time-to-live for entries stored with a zero ttl.
//
// WithTTL 设置ttl为0时使用的默认生存时间。
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.DefaultTTL = ttl
	}
}

// WithCleanupInterval sets the interval between automatic cleanups.
//
// WithCleanupInterval 设置自动清理的间隔。
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.CleanupInterval = interval
	}
}

// WithStaleMultiplier sets how many cleanup intervals an entry may go unread.
//
// WithStaleMultiplier 设置条目可以多少个清理间隔不被访问。
func WithStaleMultiplier(m float64) Option {
	return func(c *Config) {
		c.StaleMultiplier = m
	}
}

// WithBackgroundCleanup enables the background janitor.
//
// WithBackgroundCleanup 启用后台清理器。
func WithBackgroundCleanup(enabled bool) Option {
	return func(c *Config) {
		c.BackgroundCleanup = enabled
	}
}

// WithSnapshotPath sets the default snapshot file.
func WithSnapshotPath(path string) Option {
	return func(c *Config) {
		c.SnapshotPath = path
	}
}

// WithCodec sets the value codec.
//
// WithCodec 设置值编解码器。
func WithCodec(cd codec.Codec) Option {
	return func(c *Config) {
		c.Codec = cd
	}
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// NewWithOptions creates a store from the default configuration and options.
//
// NewWithOptions 使用默认配置和选项创建存储。
//
// Parameters:
//   - name: The store name
//   - options: Configuration options
//
// Returns:
//   - *Store[V]: The created store
//   - error: An error if the configuration is invalid
func NewWithOptions[V any](name string, options ...Option) (*Store[V], error) {
	config := NewDefaultConfig()
	config.Name = name
	for _, opt := range options {
		opt(config)
	}
	return New[V](config)
}
