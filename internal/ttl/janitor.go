// Package ttl 提供缓存项生命周期管理
// 负责按固定间隔在后台触发过期和陈旧条目的清理
package ttl

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SweepFunc 执行一次清理并返回移除的条目数
type SweepFunc func() int

// Janitor 后台清理器
// 按间隔调用SweepFunc，直到Close
type Janitor struct {
	sweep         SweepFunc      // 清理函数
	interval      time.Duration  // 清理间隔
	logger        *slog.Logger   // 日志
	closeChan     chan struct{}  // 关闭信号
	closeOnce     sync.Once      // 确保只关闭一次
	wg            sync.WaitGroup // 等待组
	sweepCount    uint64         // 清理次数
	removedCount  uint64         // 移除条目数
	sweepDuration int64          // 最近一次清理耗时（纳秒）
}

// Config 清理器配置
type Config struct {
	// 清理间隔
	Interval time.Duration

	// 日志，为nil时使用slog.Default()
	Logger *slog.Logger
}

// 默认清理间隔
const defaultInterval = 5 * time.Minute

// NewJanitor 创建并启动清理器
func NewJanitor(sweep SweepFunc, config *Config) *Janitor {
	if config == nil {
		config = &Config{}
	}
	interval := config.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		sweep:     sweep,
		interval:  interval,
		logger:    logger,
		closeChan: make(chan struct{}),
	}

	j.wg.Add(1)
	go j.loop()

	return j
}

// loop 清理循环
func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.run()
		case <-j.closeChan:
			return
		}
	}
}

// run 执行一次清理并更新统计
func (j *Janitor) run() {
	start := time.Now()
	removed := j.sweep()

	atomic.AddUint64(&j.sweepCount, 1)
	atomic.AddUint64(&j.removedCount, uint64(removed))
	atomic.StoreInt64(&j.sweepDuration, time.Since(start).Nanoseconds())

	if removed > 0 {
		j.logger.Debug("janitor sweep", "removed", removed, "duration", time.Since(start))
	}
}

// Close 停止清理器并等待循环退出
func (j *Janitor) Close() {
	j.closeOnce.Do(func() {
		close(j.closeChan)
	})
	j.wg.Wait()
}

// Stats 清理器统计
type Stats struct {
	SweepCount    uint64        `json:"sweep_count"`
	RemovedCount  uint64        `json:"removed_count"`
	LastDuration  time.Duration `json:"last_duration"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// GetStats 获取清理器的统计信息
func (j *Janitor) GetStats() Stats {
	return Stats{
		SweepCount:    atomic.LoadUint64(&j.sweepCount),
		RemovedCount:  atomic.LoadUint64(&j.removedCount),
		LastDuration:  time.Duration(atomic.LoadInt64(&j.sweepDuration)),
		SweepInterval: j.interval,
	}
}
