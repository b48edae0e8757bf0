// Package executor runs batches of independent tasks on a bounded worker pool
// while throttling task submission to the rate an upstream provider accepts.
//
// Package executor 在有界工作池上运行批量独立任务，
// 并将任务提交速率限制在上游服务允许的范围内。
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/Humphrey-He/hguard/internal/clock"
	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/internal/window"
	"github.com/Humphrey-He/hguard/pkg/errors"
)

// TaskFunc is the operation run by a task.
//
// TaskFunc 是任务执行的操作。
type TaskFunc func(ctx context.Context, args ...any) (any, error)

// KeyFunc computes a value for one key, see ExecuteEach.
//
// KeyFunc 为单个键计算值，见ExecuteEach。
type KeyFunc func(ctx context.Context, key string, args ...any) (any, error)

// Task is one unit of work in a batch. An empty ID is replaced by a UUID.
//
// Task 是批次中的一个工作单元，ID为空时自动生成UUID。
type Task struct {
	ID   string
	Key  string
	Fn   TaskFunc
	Args []any
}

// TaskResult is the outcome of one task.
//
// TaskResult 是单个任务的执行结果。
type TaskResult struct {
	TaskID        string        `json:"task_id"`
	Key           string        `json:"key"`
	Success       bool          `json:"success"`
	Result        any           `json:"result,omitempty"`
	Err           error         `json:"-"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// BatchResult is the outcome of a batch. Results are in completion order,
// followed by the tasks that did not complete before the batch ended.
//
// BatchResult 是批次的执行结果。Results按完成顺序排列，
// 之后是批次结束前未完成的任务。
type BatchResult struct {
	TotalTasks      int           `json:"total_tasks"`
	SuccessfulTasks int           `json:"successful_tasks"`
	FailedTasks     int           `json:"failed_tasks"`
	TotalTime       time.Duration `json:"total_time"`
	Results         []TaskResult  `json:"results"`
}

// SuccessRate returns the percentage of successful tasks.
//
// SuccessRate 返回成功任务的百分比。
func (b BatchResult) SuccessRate() float64 {
	if b.TotalTasks == 0 {
		return 0
	}
	return float64(b.SuccessfulTasks) / float64(b.TotalTasks) * 100
}

// Call is a keyed task for ExecuteKeyed.
//
// Call 是ExecuteKeyed使用的带键任务。
type Call struct {
	Key  string
	Fn   TaskFunc
	Args []any
}

// Stats is a snapshot of the executor's rolling and cumulative counters.
//
// Stats 是执行器滚动计数和累计计数的快照。
type Stats struct {
	CallsLastSecond int64   `json:"calls_last_second"`
	CallsLastMinute int64   `json:"calls_last_minute"`
	MinuteRate      float64 `json:"minute_rate"`
	RatePerSecond   int     `json:"rate_per_second"`
	MaxWorkers      int     `json:"max_workers"`
	ActiveWorkers   int64   `json:"active_workers"`
	Strategy        string  `json:"strategy"`
	TotalBatches    uint64  `json:"total_batches"`
	TotalTasks      uint64  `json:"total_tasks"`
	SucceededTasks  uint64  `json:"succeeded_tasks"`
	FailedTasks     uint64  `json:"failed_tasks"`
	TimedOutTasks   uint64  `json:"timed_out_tasks"`
}

// Option configures an Executor.
// Option 配置Executor。
type Option func(*Executor)

// WithLimiter replaces the limiter built from the configured strategy.
//
// WithLimiter 替换根据策略创建的限流器。
func WithLimiter(l Limiter) Option {
	return func(e *Executor) { e.limiter = l }
}

// WithIDGenerator sets the generator for empty task IDs.
//
// WithIDGenerator 设置空任务ID的生成函数。
func WithIDGenerator(gen func() string) Option {
	return func(e *Executor) { e.newID = gen }
}

// Executor runs task batches on a bounded pool behind a submission limiter.
// It is safe for concurrent use; concurrent batches share the limiter.
//
// Executor 在提交限流器之后用有界工作池运行任务批次。
// 并发安全，并发的批次共享同一个限流器。
type Executor struct {
	config  Config
	limiter Limiter
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics

	perSecond *window.Window
	perMinute *window.Window

	active    atomic.Int64
	batches   atomic.Uint64
	tasks     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
}

// New creates an executor.
//
// New 创建执行器。
//
// Parameters:
//   - cfg: Executor configuration, zero fields take the defaults
//   - opts: Executor options
//
// Returns:
//   - *Executor: The executor
//   - error: An error if the configuration is invalid
func New(cfg Config, opts ...Option) (*Executor, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidConfig("%v", err)
	}

	clk := clock.OrDefault(cfg.Clock)
	e := &Executor{
		config:    cfg,
		newID:     uuid.NewString,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		perSecond: window.New(time.Second, 10, clk),
		perMinute: window.New(time.Minute, 60, clk),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limiter == nil {
		l, err := NewLimiter(cfg.Strategy, cfg.RatePerSecond, cfg.Burst)
		if err != nil {
			return nil, errors.InvalidConfig("%v", err)
		}
		e.limiter = l
	}
	return e, nil
}

// batch 单次ExecuteBatch的收集状态
type batch struct {
	mu        sync.Mutex
	closed    bool
	completed []bool
	results   []TaskResult
}

// record 记录任务结果，批次结束后的结果被丢弃
func (b *batch) record(i int, r TaskResult) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.completed[i] {
		return false
	}
	b.completed[i] = true
	b.results = append(b.results, r)
	return true
}

// ExecuteBatch runs tasks on the worker pool and blocks until every task has
// completed or the batch timeout (or ctx) ends the batch. Every submission
// waits for the limiter. A failing task never aborts its siblings. Tasks that
// had not completed when the batch ended are reported as failures wrapping
// errors.ErrBatchTimeout.
//
// ExecuteBatch 在工作池上运行任务，阻塞直到全部完成或批次超时（或ctx结束）。
// 每次提交都要经过限流器，单个任务失败不会中止其他任务。
// 批次结束时未完成的任务以包装errors.ErrBatchTimeout的失败结果报告。
//
// Parameters:
//   - ctx: Context for the whole batch
//   - tasks: Tasks to run
//
// Returns:
//   - BatchResult: One result per task
func (e *Executor) ExecuteBatch(ctx context.Context, tasks []Task) BatchResult {
	start := time.Now()
	e.batches.Inc()
	e.metrics.RecordBatch()
	if len(tasks) == 0 {
		return BatchResult{}
	}

	if e.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.BatchTimeout)
		defer cancel()
	}

	tasks = append([]Task(nil), tasks...)
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = e.newID()
		}
	}

	b := &batch{
		completed: make([]bool, len(tasks)),
		results:   make([]TaskResult, 0, len(tasks)),
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		g := new(errgroup.Group)
		g.SetLimit(e.config.MaxWorkers)
		for i := range tasks {
			if err := e.throttle(ctx); err != nil {
				break
			}
			i := i
			g.Go(func() error {
				// 批次已结束的任务不再执行
				if ctx.Err() != nil {
					return nil
				}
				r := e.run(ctx, tasks[i])
				if b.record(i, r) {
					e.account(r)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
	}

	b.mu.Lock()
	b.closed = true
	var pending int
	for i, done := range b.completed {
		if done {
			continue
		}
		pending++
		r := TaskResult{
			TaskID: tasks[i].ID,
			Key:    tasks[i].Key,
			Err:    fmt.Errorf("task %s: %w (%v)", tasks[i].ID, errors.ErrBatchTimeout, context.Cause(ctx)),
		}
		b.results = append(b.results, r)
		e.account(r)
		e.metrics.RecordTask("timeout", 0)
	}
	results := b.results
	b.mu.Unlock()

	if pending > 0 {
		e.logger.Warn("batch ended with uncompleted tasks",
			"tasks", len(tasks), "uncompleted", pending, "error", context.Cause(ctx))
	}

	out := BatchResult{
		TotalTasks: len(tasks),
		TotalTime:  time.Since(start),
		Results:    results,
	}
	for _, r := range results {
		if r.Success {
			out.SuccessfulTasks++
		} else {
			out.FailedTasks++
		}
	}
	e.logger.Debug("batch completed",
		"tasks", out.TotalTasks, "succeeded", out.SuccessfulTasks,
		"failed", out.FailedTasks, "duration", out.TotalTime)
	return out
}

// ExecuteKeyed runs keyed calls as one batch and returns the successful
// results by key. Failed keys are omitted.
//
// ExecuteKeyed 以一个批次运行带键调用，按键返回成功的结果，失败的键被省略。
func (e *Executor) ExecuteKeyed(ctx context.Context, calls []Call) map[string]any {
	tasks := make([]Task, len(calls))
	for i, c := range calls {
		tasks[i] = Task{Key: c.Key, Fn: c.Fn, Args: c.Args}
	}
	return successes(e.ExecuteBatch(ctx, tasks))
}

// ExecuteEach runs fn once per key and returns the successful results by key.
//
// ExecuteEach 对每个键运行一次fn，按键返回成功的结果。
func (e *Executor) ExecuteEach(ctx context.Context, keys []string, fn KeyFunc, args ...any) map[string]any {
	tasks := make([]Task, len(keys))
	for i, key := range keys {
		key := key
		tasks[i] = Task{
			Key: key,
			Fn: func(ctx context.Context, args ...any) (any, error) {
				return fn(ctx, key, args...)
			},
			Args: args,
		}
	}
	return successes(e.ExecuteBatch(ctx, tasks))
}

// SetRateLimit changes the submission rate of subsequent submissions.
//
// SetRateLimit 修改后续提交的速率。
func (e *Executor) SetRateLimit(perSecond int) {
	e.limiter.SetRate(perSecond)
	e.logger.Info("executor rate limit changed", "rate_per_second", perSecond)
}

// Stats returns the executor statistics.
//
// Stats 返回执行器统计信息。
func (e *Executor) Stats() Stats {
	return Stats{
		CallsLastSecond: e.perSecond.Count(),
		CallsLastMinute: e.perMinute.Count(),
		MinuteRate:      e.perMinute.Rate(),
		RatePerSecond:   e.limiter.Rate(),
		MaxWorkers:      e.config.MaxWorkers,
		ActiveWorkers:   e.active.Load(),
		Strategy:        string(e.config.Strategy),
		TotalBatches:    e.batches.Load(),
		TotalTasks:      e.tasks.Load(),
		SucceededTasks:  e.succeeded.Load(),
		FailedTasks:     e.failed.Load(),
		TimedOutTasks:   e.timedOut.Load(),
	}
}

// throttle 等待限流器并记录提交
func (e *Executor) throttle(ctx context.Context) error {
	waitStart := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	if time.Since(waitStart) > time.Millisecond {
		e.metrics.RecordThrottled()
	}
	e.perSecond.Add(1)
	e.perMinute.Add(1)
	return nil
}

// run 执行单个任务，捕获错误和panic
func (e *Executor) run(ctx context.Context, t Task) (res TaskResult) {
	start := time.Now()
	e.active.Inc()
	e.metrics.AddActiveWorkers(1)
	res = TaskResult{TaskID: t.ID, Key: t.Key}

	defer func() {
		outcome := "success"
		if r := recover(); r != nil {
			res.Success = false
			res.Result = nil
			res.Err = fmt.Errorf("task %s: %w: %v", t.ID, errors.ErrTaskPanic, r)
			e.logger.Error("task panicked", "task_id", t.ID, "key", t.Key, "panic", r)
		}
		if res.Err != nil {
			outcome = "failure"
			if errors.IsTimeout(res.Err) {
				outcome = "timeout"
			}
		}
		res.ExecutionTime = time.Since(start)
		e.active.Dec()
		e.metrics.AddActiveWorkers(-1)
		e.metrics.RecordTask(outcome, res.ExecutionTime)
	}()

	if t.Fn == nil {
		res.Err = fmt.Errorf("task %s: %w: nil task function", t.ID, errors.ErrTaskFailed)
		return res
	}
	v, err := t.Fn(ctx, t.Args...)
	if err != nil && ctx.Err() != nil {
		// 因批次结束而放弃的任务按未完成报告
		res.Err = fmt.Errorf("task %s: %w (%v)", t.ID, errors.ErrBatchTimeout, context.Cause(ctx))
		return res
	}
	if err != nil {
		res.Err = fmt.Errorf("task %s: %w: %w", t.ID, errors.ErrTaskFailed, err)
		return res
	}
	res.Success = true
	res.Result = v
	return res
}

// account 更新累计计数
func (e *Executor) account(r TaskResult) {
	e.tasks.Inc()
	if r.Success {
		e.succeeded.Inc()
	} else {
		e.failed.Inc()
	}
	if errors.IsBatchTimeout(r.Err) {
		e.timedOut.Inc()
	}
}

func successes(b BatchResult) map[string]any {
	out := make(map[string]any, b.SuccessfulTasks)
	for _, r := range b.Results {
		if r.Success {
			out[r.Key] = r.Result
		}
	}
	return out
}
