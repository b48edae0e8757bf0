package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Strategy names the submission throttling algorithm.
//
// Strategy 表示任务提交的限流算法。
type Strategy string

const (
	// SlidingWindow keeps the submission timestamps of the last second and
	// blocks while the window is full.
	// SlidingWindow 记录最近一秒内的提交时间戳，窗口满时阻塞。
	SlidingWindow Strategy = "sliding_window"

	// TokenBucket refills tokens at the configured rate and allows bursts.
	// TokenBucket 按配置速率补充令牌，允许突发。
	TokenBucket Strategy = "token_bucket"
)

// Limiter throttles task submission.
//
// Limiter 限制任务提交速率。
type Limiter interface {
	// Wait blocks until one submission is allowed or ctx is done.
	// Wait 阻塞直到允许一次提交或ctx结束。
	Wait(ctx context.Context) error

	// SetRate changes the number of submissions allowed per second.
	// SetRate 修改每秒允许的提交次数。
	SetRate(perSecond int)

	// Rate returns the number of submissions allowed per second.
	// Rate 返回每秒允许的提交次数。
	Rate() int
}

// NewLimiter creates the limiter for a strategy.
//
// NewLimiter 根据策略创建限流器。
func NewLimiter(strategy Strategy, perSecond, burst int) (Limiter, error) {
	switch strategy {
	case "", SlidingWindow:
		return newWindowLimiter(perSecond, time.Second), nil
	case TokenBucket:
		return newBucketLimiter(perSecond, burst), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", strategy)
	}
}

// windowLimiter 滑动窗口日志限流器
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	span   time.Duration
	stamps []time.Time // 窗口内的提交时间，按时间升序
}

func newWindowLimiter(perSecond int, span time.Duration) *windowLimiter {
	return &windowLimiter{limit: perSecond, span: span}
}

func (l *windowLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		delay := l.reserve(time.Now())
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve 窗口未满时记录本次提交并返回0，否则返回最早时间戳滑出窗口前需要等待的时长
func (l *windowLimiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 丢弃已滑出窗口的时间戳
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) > l.span {
		i++
	}
	l.stamps = l.stamps[i:]

	if l.limit <= 0 || len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0
	}
	// 等到最早的时间戳超过一个窗口
	return l.span - now.Sub(l.stamps[0]) + time.Millisecond
}

func (l *windowLimiter) SetRate(perSecond int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = perSecond
}

func (l *windowLimiter) Rate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// bucketLimiter 基于x/time/rate的令牌桶限流器
type bucketLimiter struct {
	limiter *rate.Limiter
}

func newBucketLimiter(perSecond, burst int) *bucketLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &bucketLimiter{limiter: rate.NewLimiter(toLimit(perSecond), burst)}
}

func (l *bucketLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *bucketLimiter) SetRate(perSecond int) {
	l.limiter.SetLimit(toLimit(perSecond))
}

func (l *bucketLimiter) Rate() int {
	limit := l.limiter.Limit()
	if limit == rate.Inf {
		return 0
	}
	return int(limit)
}

// toLimit 0或负数表示不限速
func toLimit(perSecond int) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
