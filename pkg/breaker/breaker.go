// Package breaker provides a circuit breaker that stops calling a failing
// upstream operation and tries it again after a recovery timeout.
//
// The breaker has three states. Closed passes calls through and counts
// consecutive failures; reaching FailureThreshold opens the circuit. Open
// rejects calls without invoking the operation until RecoveryTimeout has passed
// since the last failure; the next call then moves the breaker to HalfOpen.
// This transition is evaluated lazily on that call, no timer is involved.
// HalfOpen lets calls through; SuccessThreshold consecutive successes close
// the circuit and any failure opens it again.
//
// Package breaker 提供熔断器：停止调用持续失败的上游操作，并在恢复超时后重新探测。
//
// 熔断器有三种状态。Closed放行调用并统计连续失败，达到FailureThreshold后打开。
// Open在距最后一次失败RecoveryTimeout之内拒绝调用且不执行操作，之后的下一次调用
// 使熔断器进入HalfOpen。该转换在调用时惰性判断，不使用定时器。
// HalfOpen放行调用，连续SuccessThreshold次成功后关闭，任何失败都会重新打开。
package breaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/errors"
)

// State is the circuit state.
//
// State 是熔断状态。
type State int

const (
	// Closed passes calls through.
	// Closed 放行调用。
	Closed State = iota

	// Open rejects calls.
	// Open 拒绝调用。
	Open

	// HalfOpen lets calls through to test recovery.
	// HalfOpen 放行调用以探测是否恢复。
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// gauge 返回指标中使用的状态值
func (s State) gauge() int {
	switch s {
	case Open:
		return metrics.StateOpen
	case HalfOpen:
		return metrics.StateHalfOpen
	default:
		return metrics.StateClosed
	}
}

// Operation is a guarded call.
//
// Operation 是受保护的调用。
type Operation func(ctx context.Context, args ...any) (any, error)

// Fallback produces a substitute result when the circuit is open or the operation fails.
// cause is ErrCircuitOpen or the operation error.
//
// Fallback 在熔断打开或操作失败时提供替代结果，cause是ErrCircuitOpen或操作错误。
type Fallback func(ctx context.Context, cause error, args ...any) any

// Stats is a point-in-time view of a breaker.
//
// Stats 是熔断器某一时刻的状态视图。
type Stats struct {
	Name             string        `json:"name"`
	State            string        `json:"state"`
	FailureCount     int           `json:"failure_count"`
	SuccessCount     int           `json:"success_count"`
	TotalRequests    uint64        `json:"total_requests"`
	RejectedRequests uint64        `json:"rejected_requests"`
	FailureRate      float64       `json:"failure_rate"`
	LastFailureTime  time.Time     `json:"last_failure_time"`
	StateChangedAt   time.Time     `json:"state_changed_at"`
	Uptime           time.Duration `json:"uptime"`
}

// CircuitBreaker guards one upstream operation. It is safe for concurrent use
// and is meant to be shared by every caller of that operation.
//
// CircuitBreaker 保护一个上游操作，并发安全，应由该操作的所有调用方共享。
type CircuitBreaker struct {
	name    string
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu             sync.Mutex
	state          State
	failureCount   int
	successCount   int
	totalRequests  uint64
	rejected       uint64
	lastFailure    time.Time
	stateChangedAt time.Time
	fallback       Fallback
}

// transition 一次状态转换，在锁外通知
type transition struct {
	from, to State
}

// New creates a circuit breaker in the Closed state.
//
// New 创建一个处于Closed状态的熔断器。
//
// Parameters:
//   - name: Breaker name, used in logs, metrics and errors
//   - cfg: Breaker configuration
//
// Returns:
//   - *CircuitBreaker: The breaker
//   - error: An error if the configuration is invalid
func New(name string, cfg Config) (*CircuitBreaker, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidConfig("breaker %s: %v", name, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cb := &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		clock:    clock.OrDefault(cfg.Clock),
		logger:   logger.With("breaker", name),
		metrics:  cfg.Metrics,
		fallback: cfg.Fallback,
	}
	cb.stateChangedAt = cb.clock.Now()
	cb.metrics.RecordBreakerState(name, Closed.gauge())
	return cb, nil
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs op through the breaker.
//
// While the circuit is open op is not invoked and the call fails with
// ErrCircuitOpen. Failures include op errors accepted by IsFailure, panics and
// calls exceeding CallTimeout (ErrOperationTimeout). With a fallback set, Call
// returns the fallback result instead of an error for those cases. Errors that
// IsFailure rejects, context.Canceled by default, are returned as is even when
// a fallback is set.
//
// Call 通过熔断器执行op。
//
// 熔断打开时不执行op，返回ErrCircuitOpen。失败包括IsFailure认可的错误、panic以及
// 超过CallTimeout的调用（ErrOperationTimeout）。设置了fallback时，这些情况返回fallback的结果
// 而不是错误。IsFailure拒绝的错误（默认为context.Canceled）即使设置了fallback也会原样返回。
//
// Parameters:
//   - ctx: Context for the call
//   - op: The guarded operation
//   - args: Arguments passed to op and to the fallback
//
// Returns:
//   - any: The operation or fallback result
//   - error: The failure when no fallback is set, or an error IsFailure rejects
func (cb *CircuitBreaker) Call(ctx context.Context, op Operation, args ...any) (any, error) {
	fallback, err := cb.admit()
	if err != nil {
		cb.metrics.RecordBreakerCall(cb.name, "rejected")
		if fallback != nil {
			return fallback(ctx, err, args...), nil
		}
		return nil, err
	}

	result, err := cb.invoke(ctx, op, args...)
	if err == nil {
		cb.onSuccess()
		cb.metrics.RecordBreakerCall(cb.name, "success")
		return result, nil
	}

	if !cb.cfg.IsFailure(err) {
		cb.metrics.RecordBreakerCall(cb.name, "ignored")
		return result, err
	}

	cb.onFailure(err)
	cb.metrics.RecordBreakerCall(cb.name, "failure")
	if fallback != nil {
		return fallback(ctx, err, args...), nil
	}
	return nil, err
}

// admit 统计请求并判断是否放行，必要时从Open转为HalfOpen
func (cb *CircuitBreaker) admit() (Fallback, error) {
	cb.mu.Lock()
	cb.totalRequests++
	fallback := cb.fallback

	var tr *transition
	if cb.state == Open {
		if cb.clock.Now().Sub(cb.lastFailure) < cb.cfg.RecoveryTimeout {
			cb.rejected++
			cb.mu.Unlock()
			return fallback, errors.NewKeyError(cb.name, errors.ErrCircuitOpen)
		}
		tr = cb.setStateLocked(HalfOpen)
	}
	cb.mu.Unlock()

	cb.notify(tr)
	return fallback, nil
}

// invoke 在调用超时内执行op并捕获panic
func (cb *CircuitBreaker) invoke(ctx context.Context, op Operation, args ...any) (any, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if cb.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cb.cfg.CallTimeout)
	}
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("breaker %s: operation panicked: %v", cb.name, r)}
			}
		}()
		v, err := op(callCtx, args...)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, cb.timeoutError(o.err)
		}
		return o.value, o.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, cb.timeoutError(nil)
	}
}

// timeoutError 构造调用超时错误
func (cb *CircuitBreaker) timeoutError(cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s after %s: %v", errors.ErrOperationTimeout, cb.name, cb.cfg.CallTimeout, cause)
	}
	return fmt.Errorf("%w: %s after %s", errors.ErrOperationTimeout, cb.name, cb.cfg.CallTimeout)
}

// onSuccess 成功规则
func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	var tr *transition
	switch cb.state {
	case Closed:
		cb.failureCount = 0
	case HalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			tr = cb.setStateLocked(Closed)
		}
	}
	cb.mu.Unlock()
	cb.notify(tr)
}

// onFailure 失败规则
func (cb *CircuitBreaker) onFailure(err error) {
	cb.mu.Lock()
	cb.lastFailure = cb.clock.Now()
	cb.failureCount++
	var tr *transition
	switch cb.state {
	case Closed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			tr = cb.setStateLocked(Open)
		}
	case HalfOpen:
		tr = cb.setStateLocked(Open)
	}
	failures := cb.failureCount
	cb.mu.Unlock()

	cb.logger.Debug("guarded call failed", "failures", failures, "error", err)
	cb.notify(tr)
}

// setStateLocked 切换状态并重置相应计数
func (cb *CircuitBreaker) setStateLocked(to State) *transition {
	from := cb.state
	cb.state = to
	cb.stateChangedAt = cb.clock.Now()
	switch to {
	case Closed:
		cb.failureCount = 0
		cb.successCount = 0
	case HalfOpen:
		cb.successCount = 0
	}
	if from == to {
		return nil
	}
	return &transition{from: from, to: to}
}

// notify 在锁外记录状态转换
func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil {
		return
	}
	cb.metrics.RecordBreakerTransition(cb.name, tr.from.String(), tr.to.String())
	cb.metrics.RecordBreakerState(cb.name, tr.to.gauge())
	if tr.to == Open {
		cb.logger.Warn("circuit opened", "from", tr.from.String(), "recovery_timeout", cb.cfg.RecoveryTimeout)
	} else {
		cb.logger.Info("circuit state changed", "from", tr.from.String(), "to", tr.to.String())
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, tr.from, tr.to)
	}
}

// SetFallback sets or clears (nil) the fallback.
//
// SetFallback 设置或清除（nil）fallback。
func (cb *CircuitBreaker) SetFallback(fb Fallback) {
	cb.mu.Lock()
	cb.fallback = fb
	cb.mu.Unlock()
}

// ForceOpen opens the circuit as if a failure had just happened.
//
// ForceOpen 打开熔断，如同刚刚发生了一次失败。
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	cb.lastFailure = cb.clock.Now()
	tr := cb.setStateLocked(Open)
	cb.mu.Unlock()
	cb.notify(tr)
}

// ForceClose closes the circuit and clears the failure and success counts.
//
// ForceClose 关闭熔断并清除失败和成功计数。
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	tr := cb.setStateLocked(Closed)
	cb.mu.Unlock()
	cb.notify(tr)
}

// Reset closes the circuit and zeroes every counter.
//
// Reset 关闭熔断并将所有计数清零。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setStateLocked(Closed)
	cb.totalRequests = 0
	cb.rejected = 0
	cb.lastFailure = time.Time{}
	cb.mu.Unlock()
	cb.notify(tr)
}

// State returns the current state. An open circuit whose recovery timeout has
// passed still reports Open until the next call.
//
// State 返回当前状态。恢复超时已过的Open状态在下一次调用前仍报告Open。
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker.
//
// Stats 返回熔断器的快照。
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := Stats{
		Name:             cb.name,
		State:            cb.state.String(),
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		TotalRequests:    cb.totalRequests,
		RejectedRequests: cb.rejected,
		LastFailureTime:  cb.lastFailure,
		StateChangedAt:   cb.stateChangedAt,
		Uptime:           cb.clock.Now().Sub(cb.stateChangedAt),
	}
	if cb.totalRequests > 0 {
		st.FailureRate = float64(cb.failureCount) / float64(cb.totalRequests)
	}
	return st
}

// Execute runs fn through cb and converts the result to T.
// A fallback result of another type is reported as an error.
//
// Execute 通过cb执行fn并将结果转换为T，类型不同的fallback结果会报告为错误。
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := cb.Call(ctx, func(ctx context.Context, _ ...any) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("breaker %s: result has type %T, want %T", cb.name, v, zero)
	}
	return t, nil
}
