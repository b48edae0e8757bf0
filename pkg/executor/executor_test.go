package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uatomic "go.uber.org/atomic"

	"github.com/Humphrey-He/hguard/internal/metrics"
	"github.com/Humphrey-He/hguard/pkg/errors"
)

func noop(ctx context.Context, args ...any) (any, error) { return nil, nil }

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

// TestRateLimitThrottlesSubmission 3倍速率的任务至少需要2秒
func TestRateLimitThrottlesSubmission(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping rate limit timing test in short mode")
	}
	e := newTestExecutor(t, Config{MaxWorkers: 4, RatePerSecond: 5})

	tasks := make([]Task, 15)
	for i := range tasks {
		tasks[i] = Task{Key: fmt.Sprintf("SYM%d", i), Fn: noop}
	}

	start := time.Now()
	res := e.ExecuteBatch(context.Background(), tasks)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Equal(t, 15, res.TotalTasks)
	assert.Equal(t, 15, res.SuccessfulTasks)
	assert.Equal(t, int64(15), e.Stats().CallsLastMinute)
	assert.InDelta(t, 15.0/60, e.Stats().MinuteRate, 1e-9)
}

// TestPartialFailures k个失败任务不影响其余任务
func TestPartialFailures(t *testing.T) {
	e := newTestExecutor(t, Config{MaxWorkers: 3, RatePerSecond: 1000})
	errBoom := stderrors.New("boom")

	const n, k = 10, 3
	tasks := make([]Task, n)
	for i := range tasks {
		fail := i < k
		tasks[i] = Task{
			Key: fmt.Sprintf("SYM%d", i),
			Fn: func(ctx context.Context, args ...any) (any, error) {
				if fail {
					return nil, errBoom
				}
				return args[0], nil
			},
			Args: []any{i},
		}
	}

	res := e.ExecuteBatch(context.Background(), tasks)
	assert.Equal(t, n, res.TotalTasks)
	assert.Equal(t, n-k, res.SuccessfulTasks)
	assert.Equal(t, k, res.FailedTasks)
	require.Len(t, res.Results, n)
	assert.InDelta(t, 70.0, res.SuccessRate(), 1e-9)

	ids := make(map[string]bool)
	for _, r := range res.Results {
		assert.NotEmpty(t, r.TaskID)
		ids[r.TaskID] = true
		if !r.Success {
			assert.ErrorIs(t, r.Err, errBoom)
			assert.True(t, errors.IsTaskFailed(r.Err))
		}
	}
	assert.Len(t, ids, n, "task ids are unique")

	st := e.Stats()
	assert.Equal(t, uint64(n), st.TotalTasks)
	assert.Equal(t, uint64(k), st.FailedTasks)
	assert.Equal(t, uint64(n-k), st.SucceededTasks)
}

// TestPanicIsCaptured panic被捕获为失败结果
func TestPanicIsCaptured(t *testing.T) {
	e := newTestExecutor(t, Config{RatePerSecond: 1000})

	res := e.ExecuteBatch(context.Background(), []Task{
		{ID: "t1", Key: "ETH/USDT", Fn: func(ctx context.Context, args ...any) (any, error) {
			panic("index out of range")
		}},
		{ID: "t2", Key: "BTC/USDT", Fn: noop},
		{ID: "t3", Key: "SOL/USDT"},
	})

	assert.Equal(t, 1, res.SuccessfulTasks)
	assert.Equal(t, 2, res.FailedTasks)
	for _, r := range res.Results {
		switch r.TaskID {
		case "t1":
			assert.ErrorIs(t, r.Err, errors.ErrTaskPanic)
			assert.Contains(t, r.Err.Error(), "index out of range")
		case "t3":
			assert.ErrorIs(t, r.Err, errors.ErrTaskFailed)
		}
	}
	assert.Zero(t, e.Stats().ActiveWorkers)
}

// TestBatchTimeoutReportsUncompleted 批次超时时未完成的任务被报告为失败
func TestBatchTimeoutReportsUncompleted(t *testing.T) {
	e := newTestExecutor(t, Config{
		MaxWorkers:    1,
		RatePerSecond: 1000,
		BatchTimeout:  50 * time.Millisecond,
	})

	release := make(chan struct{})
	defer close(release)
	slow := func(ctx context.Context, args ...any) (any, error) {
		<-release
		return nil, nil
	}

	res := e.ExecuteBatch(context.Background(), []Task{
		{ID: "fast", Key: "a", Fn: noop},
		{ID: "stuck", Key: "b", Fn: slow},
		{ID: "queued", Key: "c", Fn: noop},
	})

	assert.Equal(t, 3, res.TotalTasks)
	require.Len(t, res.Results, 3)
	assert.Equal(t, 1, res.SuccessfulTasks)
	assert.Equal(t, 2, res.FailedTasks)

	byID := make(map[string]TaskResult)
	for _, r := range res.Results {
		byID[r.TaskID] = r
	}
	assert.True(t, byID["fast"].Success)
	assert.ErrorIs(t, byID["stuck"].Err, errors.ErrBatchTimeout)
	assert.ErrorIs(t, byID["queued"].Err, errors.ErrBatchTimeout)
	assert.True(t, errors.IsTimeout(byID["stuck"].Err))
	assert.Equal(t, uint64(2), e.Stats().TimedOutTasks)
}

// TestTaskAbandonedOnBatchTimeout 响应ctx取消的任务在批次超时后报告为ErrBatchTimeout
func TestTaskAbandonedOnBatchTimeout(t *testing.T) {
	e := newTestExecutor(t, Config{MaxWorkers: 2, RatePerSecond: 1000, BatchTimeout: 30 * time.Millisecond})

	res := e.ExecuteBatch(context.Background(), []Task{
		{ID: "fast", Key: "a", Fn: noop},
		{ID: "aware", Key: "b", Fn: func(ctx context.Context, args ...any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	})

	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		if r.TaskID == "aware" {
			assert.ErrorIs(t, r.Err, errors.ErrBatchTimeout)
			assert.True(t, errors.IsBatchTimeout(r.Err))
		}
	}
	assert.Equal(t, uint64(1), e.Stats().TimedOutTasks)
}

func TestCallerCancellation(t *testing.T) {
	e := newTestExecutor(t, Config{RatePerSecond: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.ExecuteBatch(ctx, []Task{{Key: "a", Fn: noop}, {Key: "b", Fn: noop}})
	assert.Equal(t, 2, res.FailedTasks)
	for _, r := range res.Results {
		assert.ErrorIs(t, r.Err, errors.ErrBatchTimeout)
	}
}

// TestExecuteKeyed 只返回成功的键
func TestExecuteKeyed(t *testing.T) {
	e := newTestExecutor(t, Config{RatePerSecond: 1000})

	price := func(ctx context.Context, args ...any) (any, error) {
		return args[0], nil
	}
	out := e.ExecuteKeyed(context.Background(), []Call{
		{Key: "BTC/USDT", Fn: price, Args: []any{64000.5}},
		{Key: "ETH/USDT", Fn: price, Args: []any{3100.25}},
		{Key: "DOGE/USDT", Fn: func(ctx context.Context, args ...any) (any, error) {
			return nil, stderrors.New("symbol halted")
		}},
	})

	assert.Equal(t, map[string]any{"BTC/USDT": 64000.5, "ETH/USDT": 3100.25}, out)
}

func TestExecuteEach(t *testing.T) {
	e := newTestExecutor(t, Config{RatePerSecond: 1000})

	out := e.ExecuteEach(context.Background(), []string{"BTC", "ETH", "BAD"},
		func(ctx context.Context, key string, args ...any) (any, error) {
			if key == "BAD" {
				return nil, stderrors.New("unknown symbol")
			}
			return key + args[0].(string), nil
		}, "/USDT")

	assert.Equal(t, map[string]any{"BTC": "BTC/USDT", "ETH": "ETH/USDT"}, out)
}

// TestWorkerBound 同时运行的任务数不超过MaxWorkers
func TestWorkerBound(t *testing.T) {
	e := newTestExecutor(t, Config{MaxWorkers: 3, RatePerSecond: 1000})

	var running, peak uatomic.Int64
	var mu sync.Mutex
	task := func(ctx context.Context, args ...any) (any, error) {
		n := running.Inc()
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		running.Dec()
		return nil, nil
	}

	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = Task{Fn: task}
	}
	res := e.ExecuteBatch(context.Background(), tasks)
	assert.Equal(t, 12, res.SuccessfulTasks)
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestTokenBucketStrategy(t *testing.T) {
	e := newTestExecutor(t, Config{RatePerSecond: 20, Strategy: TokenBucket, Burst: 1})

	tasks := make([]Task, 5)
	for i := range tasks {
		tasks[i] = Task{Fn: noop}
	}
	start := time.Now()
	res := e.ExecuteBatch(context.Background(), tasks)
	assert.Equal(t, 5, res.SuccessfulTasks)
	// 第一个令牌立即可用，其余每50ms一个
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, "token_bucket", e.Stats().Strategy)
}

func TestSetRateLimit(t *testing.T) {
	for _, strategy := range []Strategy{SlidingWindow, TokenBucket} {
		t.Run(string(strategy), func(t *testing.T) {
			e := newTestExecutor(t, Config{RatePerSecond: 5, Strategy: strategy})
			assert.Equal(t, 5, e.Stats().RatePerSecond)
			e.SetRateLimit(50)
			assert.Equal(t, 50, e.Stats().RatePerSecond)
		})
	}
}

func TestSlidingWindowLimiter(t *testing.T) {
	l := newWindowLimiter(2, time.Second)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Zero(t, l.reserve(now))
	assert.Zero(t, l.reserve(now.Add(100*time.Millisecond)))

	// 窗口已满，等待最早的时间戳超过1秒
	wait := l.reserve(now.Add(400 * time.Millisecond))
	assert.Greater(t, wait, 600*time.Millisecond)
	assert.LessOrEqual(t, wait, 602*time.Millisecond)

	assert.Zero(t, l.reserve(now.Add(1001*time.Millisecond)))
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := newWindowLimiter(1, time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative workers", Config{MaxWorkers: -1}},
		{"negative rate", Config{RatePerSecond: -3}},
		{"unknown strategy", Config{Strategy: "leaky"}},
		{"negative timeout", Config{BatchTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.True(t, errors.IsInvalidConfig(err))
		})
	}
}

func TestExecutorMetrics(t *testing.T) {
	m := metrics.New(&metrics.Config{Level: metrics.Detailed})
	e := newTestExecutor(t, Config{RatePerSecond: 1000, Metrics: m})

	e.ExecuteBatch(context.Background(), []Task{{Fn: noop}, {Fn: noop}})
	assert.Equal(t, uint64(1), e.Stats().TotalBatches)
	assert.Equal(t, int64(0), e.Stats().ActiveWorkers)

	n, err := testutil.GatherAndCount(m.Registry(), "hguard_executor_tasks_total", "hguard_executor_task_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one success series per metric")
}

func BenchmarkExecuteBatch(b *testing.B) {
	e, err := New(Config{MaxWorkers: 8})
	require.NoError(b, err)
	e.SetRateLimit(0)

	tasks := make([]Task, 64)
	for i := range tasks {
		tasks[i] = Task{ID: fmt.Sprintf("t%d", i), Fn: noop}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.ExecuteBatch(context.Background(), tasks)
	}
}
