package transfer

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"go.uber.org/zap"
)

// AnalyticsSnapshot 是对外暴露的只读统计视图
type AnalyticsSnapshot struct {
	TotalUploads   uint64    `json:"total_uploads"` // completed + failed
	Completed      uint64    `json:"completed"`
	Failed         uint64    `json:"failed"`
	TotalBytes     int64     `json:"total_bytes"`
	AverageSpeed   float64   `json:"average_speed"` // bytes/sec，活跃任务按开始以来的耗时聚合
	SuccessRate    float64   `json:"success_rate"`  // completed / totalUploads，无任务时为 0
	ActiveUploads  int       `json:"active_uploads"`
	QueueLength    int       `json:"queue_length"`
	BandwidthUsage float64   `json:"bandwidth_usage"` // 限速器实测吞吐 bytes/sec
	MemoryBytes    uint64    `json:"memory_bytes"`    // 进程堆内存占用
	SampledAt      time.Time `json:"sampled_at"`
}

// Analytics 累积引擎的完成/失败/字节计数
// 快照计算从不阻塞调度路径，只读自己的计数器和引擎暴露的快照回调
type Analytics struct {
	mu         sync.Mutex
	completed  uint64
	failed     uint64
	totalBytes int64
}

// NewAnalytics 创建统计聚合器
func NewAnalytics() *Analytics {
	return &Analytics{}
}

// JobCompleted 任务成功计数加一
func (a *Analytics) JobCompleted() {
	a.mu.Lock()
	a.completed++
	a.mu.Unlock()
}

// JobFailed 任务失败计数加一
func (a *Analytics) JobFailed() {
	a.mu.Lock()
	a.failed++
	a.mu.Unlock()
}

// AddBytes 累计已传输字节数，每个分片完成时调用一次
func (a *Analytics) AddBytes(n int64) {
	a.mu.Lock()
	a.totalBytes += n
	a.mu.Unlock()
}

// activeJobStat 描述一个活跃任务的进度，由引擎在快照时提供
type activeJobStat struct {
	bytesUploaded int64
	startTime     time.Time
}

// snapshot 组装统计视图，engine 持有队列与活跃集，这里只做纯计算
func (a *Analytics) snapshot(queueLength int, active []activeJobStat, bandwidthUsage float64) AnalyticsSnapshot {
	a.mu.Lock()
	completed, failed, totalBytes := a.completed, a.failed, a.totalBytes
	a.mu.Unlock()

	now := time.Now()
	var avgSpeed float64
	for _, s := range active {
		elapsed := now.Sub(s.startTime).Seconds()
		if elapsed > 0 {
			avgSpeed += float64(s.bytesUploaded) / elapsed
		}
	}

	total := completed + failed
	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return AnalyticsSnapshot{
		TotalUploads:   total,
		Completed:      completed,
		Failed:         failed,
		TotalBytes:     totalBytes,
		AverageSpeed:   avgSpeed,
		SuccessRate:    successRate,
		ActiveUploads:  len(active),
		QueueLength:    queueLength,
		BandwidthUsage: bandwidthUsage,
		MemoryBytes:    mem.HeapAlloc,
		SampledAt:      now,
	}
}

// RunSampler 按固定间隔输出一条统计日志，直到 ctx 取消
// 快照同时可以随时按需获取，采样循环只是周期性落日志
func RunSampler(ctx context.Context, e *Engine, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.AnalyticsSnapshot()
			logger.Info("Transfer analytics sample",
				zap.Uint64("totalUploads", snap.TotalUploads),
				zap.Int64("totalBytes", snap.TotalBytes),
				zap.Float64("averageSpeed", snap.AverageSpeed),
				zap.Float64("successRate", snap.SuccessRate),
				zap.Int("activeUploads", snap.ActiveUploads),
				zap.Int("queueLength", snap.QueueLength),
				zap.Float64("bandwidthUsage", snap.BandwidthUsage))
		}
	}
}
