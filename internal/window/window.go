// Package window 提供按时间分桶的滑动窗口计数器
package window

import (
	"sync"
	"time"

	"github.com/Humphrey-He/hguard/internal/clock"
)

// Window 表示一个滑动时间窗口
// 窗口被均分为若干个桶，过期的桶在读写时惰性清零
type Window struct {
	duration time.Duration // 窗口持续时间
	width    time.Duration // 每个桶的宽度
	counts   []int64       // 每个桶的计数
	slots    []int64       // 每个桶对应的时间槽编号
	clock    clock.Clock
	mu       sync.Mutex
}

// New 创建一个新的滑动时间窗口
// duration是窗口的总持续时间，buckets是窗口内的桶数量
func New(duration time.Duration, buckets int, clk clock.Clock) *Window {
	if buckets <= 0 {
		buckets = 10 // 默认10个桶
	}
	if duration < time.Duration(buckets) {
		duration = time.Duration(buckets)
	}
	return &Window{
		duration: duration,
		width:    duration / time.Duration(buckets),
		counts:   make([]int64, buckets),
		slots:    make([]int64, buckets),
		clock:    clock.OrDefault(clk),
	}
}

// Add 增加计数
func (w *Window) Add(delta int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot := w.clock.Now().UnixNano() / int64(w.width)
	idx := int(slot % int64(len(w.counts)))
	if w.slots[idx] != slot {
		w.slots[idx] = slot
		w.counts[idx] = 0
	}
	w.counts[idx] += delta
}

// Count 获取窗口内的总计数
func (w *Window) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.clock.Now().UnixNano() / int64(w.width)
	oldest := current - int64(len(w.counts)) + 1

	var total int64
	for i, slot := range w.slots {
		if slot >= oldest && slot <= current {
			total += w.counts[i]
		}
	}
	return total
}

// Rate 获取窗口内的平均速率（每秒）
func (w *Window) Rate() float64 {
	return float64(w.Count()) / w.duration.Seconds()
}
