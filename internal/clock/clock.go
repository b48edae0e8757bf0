// Package clock 提供可注入的时间源
// 生产代码使用系统时钟，测试使用手动推进的时钟
package clock

import (
	"sync"
	"time"
)

// Clock 时间源接口
type Clock interface {
	// Now 返回当前时间
	Now() time.Time
}

// Real 系统时钟
type Real struct{}

// Now 返回系统当前时间
func (Real) Now() time.Time { return time.Now() }

// Default 返回系统时钟
func Default() Clock { return Real{} }

// OrDefault 在c为nil时返回系统时钟
func OrDefault(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}

// Manual 手动推进的时钟，只在调用Advance或Set时变化
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual 创建一个从start开始的手动时钟
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now 返回当前时间
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance 向前推进时钟
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set 设置时钟到指定时间
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
