package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/codec"
)

// Config defines the configuration options for a cache store.
// It controls capacity limits, expiry and persistence.
//
// Config 定义缓存存储的配置选项。
// 它控制容量限制、过期和持久化。
type Config struct {
	// Name of the store, used for metrics, logging and snapshots
	// 存储名称，用于指标、日志和快照
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// MaxEntries is the maximum number of entries the store can hold.
	// If set to 0, there is no limit on the number of entries.
	//
	// MaxEntries 是存储可以容纳的最大条目数。
	// 如果设置为0，则条目数量没有限制。
	MaxEntries int `json:"max_entries" yaml:"max_entries" mapstructure:"max_entries"`

	// MaxMemoryBytes is the byte budget for the estimated size of all entries.
	// If set to 0, there is no limit on memory usage.
	//
	// MaxMemoryBytes 是所有条目估算大小的字节预算。
	// 如果设置为0，则内存使用没有限制。
	MaxMemoryBytes int64 `json:"max_memory_bytes" yaml:"max_memory_bytes" mapstructure:"max_memory_bytes"`

	// MaxEntryRatio is the largest share of MaxMemoryBytes a single value may take.
	// Larger values are rejected. Defaults to 0.1.
	//
	// MaxEntryRatio 是单个值可以占用MaxMemoryBytes的最大比例，超过则拒绝写入。默认0.1。
	MaxEntryRatio float64 `json:"max_entry_ratio" yaml:"max_entry_ratio" mapstructure:"max_entry_ratio"`

	// DefaultTTL is used when Set is called with a zero ttl.
	// If set to 0, such entries never expire by time.
	//
	// DefaultTTL 在Set的ttl为0时使用。
	// 如果设置为0，这些条目不会按时间过期。
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" mapstructure:"default_ttl"`

	// CleanupInterval bounds how often Get and Set trigger an automatic Cleanup,
	// and sets the period of the background janitor.
	//
	// CleanupInterval 限制Get和Set触发自动清理的频率，同时是后台清理器的周期。
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" mapstructure:"cleanup_interval"`

	// StaleMultiplier marks entries not accessed within
	// StaleMultiplier * CleanupInterval as stale. A negative value disables it.
	//
	// StaleMultiplier 将超过 StaleMultiplier * CleanupInterval 未访问的条目视为陈旧。负值表示禁用。
	StaleMultiplier float64 `json:"stale_multiplier" yaml:"stale_multiplier" mapstructure:"stale_multiplier"`

	// BackgroundCleanup starts a janitor goroutine in addition to access-driven cleanup.
	//
	// BackgroundCleanup 在访问触发的清理之外启动后台清理协程。
	BackgroundCleanup bool `json:"background_cleanup" yaml:"background_cleanup" mapstructure:"background_cleanup"`

	// SnapshotPath is the default file used by SaveSnapshot and LoadSnapshot.
	//
	// SnapshotPath 是SaveSnapshot和LoadSnapshot默认使用的文件。
	SnapshotPath string `json:"snapshot_path" yaml:"snapshot_path" mapstructure:"snapshot_path"`

	// CodecName selects the value codec when Codec is nil ("json", "gob").
	//
	// CodecName 在Codec为nil时选择值编解码器。
	CodecName string `json:"codec" yaml:"codec" mapstructure:"codec"`

	// Codec estimates value sizes and encodes snapshot values.
	// If nil, the codec named by CodecName is used.
	//
	// Codec 用于估算值大小和编码快照中的值。
	Codec codec.Codec `json:"-" yaml:"-" mapstructure:"-"`

	// Clock is the time source. Nil means the system clock.
	// Clock 是时间源，nil表示系统时钟。
	Clock clock.Clock `json:"-" yaml:"-" mapstructure:"-"`

	// Logger receives rejection and snapshot diagnostics. Nil means slog.Default().
	// Logger 接收拒绝写入和快照相关的诊断日志。
	Logger *slog.Logger `json:"-" yaml:"-" mapstructure:"-"`

	// Metrics receives store counters. Nil disables them.
	// Metrics 接收存储计数器，nil表示禁用。
	Metrics *metrics.Metrics `json:"-" yaml:"-" mapstructure:"-"`
}

const (
	defaultMaxEntryRatio   = 0.1
	defaultCleanupInterval = 5 * time.Minute
	defaultStaleMultiplier = 2
)

// NewDefaultConfig returns a Config with sensible default values.
//
// NewDefaultConfig 返回具有合理默认值的Config。
//
// Returns:
//   - *Config: A new configuration instance with default values
func NewDefaultConfig() *Config {
	return &Config{
		Name:            "analysis",
		MaxEntries:      1000,
		MaxMemoryBytes:  100 * 1024 * 1024, // 100 MB
		MaxEntryRatio:   defaultMaxEntryRatio,
		DefaultTTL:      30 * time.Second,
		CleanupInterval: defaultCleanupInterval,
		StaleMultiplier: defaultStaleMultiplier,
		CodecName:       "json",
	}
}

// applyDefaults fills zero values that have a non-zero default.
func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "analysis"
	}
	if c.MaxEntryRatio == 0 {
		c.MaxEntryRatio = defaultMaxEntryRatio
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	if c.StaleMultiplier == 0 {
		c.StaleMultiplier = defaultStaleMultiplier
	}
}

// Validate checks if the configuration is valid.
//
// Validate 检查配置是否有效。
//
// Returns:
//   - error: An error if the configuration is invalid, nil otherwise
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cache.name cannot be empty")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be >= 0")
	}
	if c.MaxMemoryBytes < 0 {
		return fmt.Errorf("cache.max_memory_bytes must be >= 0")
	}
	if c.MaxEntryRatio <= 0 || c.MaxEntryRatio > 1 {
		return fmt.Errorf("cache.max_entry_ratio must be in (0, 1]")
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("cache.cleanup_interval must be >= 0")
	}
	if c.Codec == nil {
		if _, err := codec.GetCodec(c.CodecName); err != nil {
			return fmt.Errorf("cache.codec: %w", err)
		}
	}
	return nil
}

// WithName sets the store name.
//
// WithName 设置存储名称。
//
// Returns:
//   - *Config: The modified configuration (for method chaining)
func (c *Config) WithName(name string) *Config {
	c.Name = name
	return c
}

// WithMaxEntries sets the maximum number of entries.
// WithMaxEntries 设置最大条目数。
func (c *Config) WithMaxEntries(n int) *Config {
	c.MaxEntries = n
	return c
}

// WithMaxMemoryBytes sets the byte budget.
// WithMaxMemoryBytes 设置字节预算。
func (c *Config) WithMaxMemoryBytes(n int64) *Config {
	c.MaxMemoryBytes = n
	return c
}

// WithDefaultTTL sets the default time-to-live.
// WithDefaultTTL 设置默认生存时间。
func (c *Config) WithDefaultTTL(ttl time.Duration) *Config {
	c.DefaultTTL = ttl
	return c
}

// WithSnapshotPath sets the default snapshot file.
// WithSnapshotPath 设置默认快照文件。
func (c *Config) WithSnapshotPath(path string) *Config {
	c.SnapshotPath = path
	return c
}
