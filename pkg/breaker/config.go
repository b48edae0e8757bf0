package breaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
)

// Config defines the behaviour of a circuit breaker.
//
// Config 定义熔断器的行为。
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// FailureThreshold 是打开熔断所需的连续失败次数。
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open after the last failure.
	// Zero selects the default.
	// RecoveryTimeout 是最后一次失败后熔断保持打开的时长，0使用默认值。
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" mapstructure:"recovery_timeout"`

	// SuccessThreshold is the number of consecutive half-open successes that closes the circuit.
	// SuccessThreshold 是半开状态下关闭熔断所需的连续成功次数。
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" mapstructure:"success_threshold"`

	// CallTimeout bounds a single guarded call. Zero selects the default,
	// a negative value disables the timeout.
	// CallTimeout 限制单次受保护调用的时长，0使用默认值，负数表示不限制。
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout"`

	// Fallback is the initial fallback, see SetFallback.
	// Fallback 是初始fallback，见SetFallback。
	Fallback Fallback `json:"-" yaml:"-" mapstructure:"-"`

	// IsFailure decides which operation errors count against the circuit.
	// Other errors are returned to the caller without touching the counters.
	// The default counts every error except context.Canceled.
	//
	// IsFailure 决定哪些操作错误计入熔断统计，其他错误直接返回给调用方且不影响计数。
	// 默认除context.Canceled外的所有错误都计入。
	IsFailure func(error) bool `json:"-" yaml:"-" mapstructure:"-"`

	// OnStateChange is called after every state transition, outside the breaker lock.
	// OnStateChange 在每次状态转换后调用，调用时不持有熔断器锁。
	OnStateChange func(name string, from, to State) `json:"-" yaml:"-" mapstructure:"-"`

	Clock   clock.Clock      `json:"-" yaml:"-" mapstructure:"-"`
	Logger  *slog.Logger     `json:"-" yaml:"-" mapstructure:"-"`
	Metrics *metrics.Metrics `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns the default breaker configuration:
// 5 failures, 60s recovery, 3 successes, 30s call timeout.
//
// DefaultConfig 返回默认的熔断器配置。
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		CallTimeout:      30 * time.Second,
	}
}

// Inherit returns c with every zero numeric field taken from base.
// Hooks and injected dependencies are not inherited.
//
// Inherit 返回c的副本，其中数值类零值字段取自base。
func (c Config) Inherit(base Config) Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = base.FailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = base.RecoveryTimeout
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = base.SuccessThreshold
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = base.CallTimeout
	}
	return c
}

// applyDefaults 填充零值
func (c *Config) applyDefaults() {
	*c = c.Inherit(DefaultConfig())
	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}
}

// Validate checks if the configuration is valid.
//
// Validate 检查配置是否有效。
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be >= 1")
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be >= 1")
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("breaker.recovery_timeout must be >= 0")
	}
	return nil
}

// DefaultIsFailure counts every error except caller cancellation.
//
// DefaultIsFailure 将除调用方取消以外的所有错误计为失败。
func DefaultIsFailure(err error) bool {
	return err != nil && !stderrors.Is(err, context.Canceled)
}
