// Package errors provides the error taxonomy shared by the cache store,
// circuit breakers, the rate-limited executor and the coordinator.
// Callers match errors with errors.Is or the Is* helpers below.
//
// Package errors 提供缓存存储、熔断器、限流执行器和协调器共享的错误分类。
// 调用方通过 errors.Is 或下面的 Is* 辅助函数匹配错误。
package errors

import (
	"errors"
	"fmt"
)

// Standard errors returned by hguard components.
//
// hguard 组件返回的标准错误。
var (
	// ErrCacheFull is returned when a value cannot be stored: it is larger than the
	// per-entry limit, or it does not fit even after evicting every entry.
	// 当值无法存储时返回ErrCacheFull：超过单条目上限，或淘汰所有条目后仍放不下。
	ErrCacheFull = errors.New("cache: cache is full")

	// ErrValueTooLarge is returned when a value exceeds the per-entry size ratio.
	// 当值超过单条目大小比例时返回ErrValueTooLarge。
	ErrValueTooLarge = fmt.Errorf("%w: value too large", ErrCacheFull)

	// ErrSnapshotCorrupt is returned for snapshot records that cannot be decoded.
	// 快照记录无法解码时返回ErrSnapshotCorrupt。
	ErrSnapshotCorrupt = errors.New("cache: snapshot entry corrupt")

	// ErrClosed is returned when an operation is performed on a closed component.
	// 对已关闭的组件执行操作时返回ErrClosed。
	ErrClosed = errors.New("hguard: component is closed")

	// ErrCircuitOpen is returned when a breaker rejects a call without invoking it.
	// 熔断器在不调用操作的情况下拒绝请求时返回ErrCircuitOpen。
	ErrCircuitOpen = errors.New("breaker: circuit is open")

	// ErrOperationTimeout is returned when a guarded call exceeds its call timeout.
	// 受保护的调用超过调用超时时返回ErrOperationTimeout。
	ErrOperationTimeout = errors.New("breaker: operation timed out")

	// ErrTaskFailed wraps every per-task failure reported by the executor.
	// ErrTaskFailed 包装执行器报告的每个任务失败。
	ErrTaskFailed = errors.New("executor: task failed")

	// ErrTaskPanic marks a task whose function panicked.
	// ErrTaskPanic 标记函数发生panic的任务。
	ErrTaskPanic = fmt.Errorf("%w: panic", ErrTaskFailed)

	// ErrBatchTimeout marks tasks that had not completed when the batch deadline expired.
	// ErrBatchTimeout 标记批处理截止时间到达时尚未完成的任务。
	ErrBatchTimeout = fmt.Errorf("%w: batch timeout", ErrTaskFailed)

	// ErrInvalidConfig is returned by constructors given an invalid configuration.
	// 构造函数收到无效配置时返回ErrInvalidConfig。
	ErrInvalidConfig = errors.New("hguard: invalid configuration")
)

// KeyError represents an error related to a specific key.
// It wraps an underlying error with the key that caused the error.
//
// KeyError 表示与特定键相关的错误。
// 它用导致错误的键包装底层错误。
type KeyError struct {
	Key string // The key that caused the error / 导致错误的键
	Err error  // The underlying error / 底层错误
}

// Error returns the error message.
//
// Error 返回错误消息。
func (e *KeyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Key)
}

// Unwrap returns the underlying error.
// This allows errors.Is and errors.As to work with wrapped errors.
//
// Unwrap 返回底层错误。
func (e *KeyError) Unwrap() error {
	return e.Err
}

// NewKeyError creates a new KeyError.
//
// NewKeyError 创建一个新的KeyError。
//
// Parameters:
//   - key: The key that caused the error
//   - err: The underlying error
//
// Returns:
//   - *KeyError: A new key error instance
func NewKeyError(key string, err error) *KeyError {
	return &KeyError{Key: key, Err: err}
}

// InvalidConfig builds an ErrInvalidConfig error for a field.
//
// InvalidConfig 为某个字段构造ErrInvalidConfig错误。
func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// IsCacheFull returns true if the error indicates that a value could not be stored.
//
// IsCacheFull 如果错误表示值无法存储，则返回true。
func IsCacheFull(err error) bool {
	return errors.Is(err, ErrCacheFull)
}

// IsCircuitOpen returns true if the error comes from an open breaker.
//
// IsCircuitOpen 如果错误来自打开状态的熔断器，则返回true。
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout returns true for call timeouts and batch timeouts.
//
// IsTimeout 对调用超时和批处理超时返回true。
func IsTimeout(err error) bool {
	return errors.Is(err, ErrOperationTimeout) || errors.Is(err, ErrBatchTimeout)
}

// IsBatchTimeout returns true for tasks that had not completed when their batch ended.
//
// IsBatchTimeout 对批次结束时未完成的任务返回true。
func IsBatchTimeout(err error) bool {
	return errors.Is(err, ErrBatchTimeout)
}

// IsTaskFailed returns true if the error was reported by the executor for a task.
//
// IsTaskFailed 如果错误是执行器为任务报告的，则返回true。
func IsTaskFailed(err error) bool {
	return errors.Is(err, ErrTaskFailed)
}

// IsInvalidConfig returns true if the error is a configuration error.
//
// IsInvalidConfig 如果是配置错误，则返回true。
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsClosed returns true if the error indicates a closed component.
//
// IsClosed 如果错误表示组件已关闭，则返回true。
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
