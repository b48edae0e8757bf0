package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
)

// Config defines the worker pool size, the submission rate and the batch deadline.
//
// Config 定义工作池大小、提交速率和批次截止时间。
type Config struct {
	// MaxWorkers bounds the number of tasks running at the same time.
	// MaxWorkers 限制同时运行的任务数量。
	MaxWorkers int `json:"max_workers" yaml:"max_workers" mapstructure:"max_workers"`

	// RatePerSecond is the submission ceiling of the upstream provider.
	// RatePerSecond 是上游服务允许的每秒提交上限。
	RatePerSecond int `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`

	// BatchTimeout bounds a whole ExecuteBatch call.
	// BatchTimeout 限制整个ExecuteBatch调用的时长。
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout" mapstructure:"batch_timeout"`

	// Strategy selects the limiter: sliding_window (default) or token_bucket.
	// Strategy 选择限流算法：sliding_window（默认）或token_bucket。
	Strategy Strategy `json:"strategy" yaml:"strategy" mapstructure:"strategy"`

	// Burst is the token bucket size. Ignored by the sliding window.
	// Burst 是令牌桶容量，滑动窗口忽略此项。
	Burst int `json:"burst" yaml:"burst" mapstructure:"burst"`

	Clock   clock.Clock      `json:"-" yaml:"-" mapstructure:"-"`
	Logger  *slog.Logger     `json:"-" yaml:"-" mapstructure:"-"`
	Metrics *metrics.Metrics `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns 10 workers, 10 submissions per second and a 300s batch timeout.
//
// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxWorkers:    10,
		RatePerSecond: 10,
		BatchTimeout:  300 * time.Second,
		Strategy:      SlidingWindow,
		Burst:         1,
	}
}

// applyDefaults 填充零值
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxWorkers == 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = d.RatePerSecond
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.Burst == 0 {
		c.Burst = d.Burst
	}
}

// Validate checks if the configuration is valid.
//
// Validate 检查配置是否有效。
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("executor.max_workers must be >= 1")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("executor.rate_per_second must be >= 0")
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("executor.batch_timeout must be >= 0")
	}
	if c.Burst < 0 {
		return fmt.Errorf("executor.burst must be >= 0")
	}
	switch c.Strategy {
	case "", SlidingWindow, TokenBucket:
	default:
		return fmt.Errorf("executor.strategy must be %q or %q", SlidingWindow, TokenBucket)
	}
	return nil
}
