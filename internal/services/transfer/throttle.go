package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/xerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ThrottleSettings 是带宽限速的完整配置
type ThrottleSettings struct {
	MaxBytesPerSecond int64 // 0 表示不限速
	Adaptive          bool
	QuietStartHour    int     // [start,end) 整点小时窗口，相等表示无静默时段
	QuietEndHour      int
	QuietFactor       float64 // 静默时段速率折扣 (0,1]，0 表示暂停传输
}

const minBurst = 64 * 1024 // 避免极低速率下令牌桶无法容纳一次请求

// Throttle 是全局共享的带宽限速器
// 所有活跃任务的分片 worker 在发送前都要经过同一个实例，
// 令牌桶保证聚合速率不会超出预算一个分片以上的突发量
type Throttle struct {
	mu       sync.Mutex
	settings ThrottleSettings
	limiter  *rate.Limiter // nil 表示不限速

	adaptiveScale float64 // 自适应折扣系数，(0.5, 1.0]
	appliedRate   int64   // 当前生效的 limiter 速率

	windowStart time.Time
	windowBytes int64
	measuredBps float64

	now func() time.Time // 测试钩子
}

// NewThrottle 创建限速器，配置非法时返回错误
func NewThrottle(s ThrottleSettings) (*Throttle, error) {
	t := &Throttle{
		adaptiveScale: 1.0,
		now:           time.Now,
	}
	if err := t.Configure(s); err != nil {
		return nil, err
	}
	return t, nil
}

// Configure 原子地替换限速配置
// 校验失败时返回 ThrottleMisconfiguration 错误且保持原配置不变
func (t *Throttle) Configure(s ThrottleSettings) error {
	if s.MaxBytesPerSecond < 0 {
		return xerr.NewCodeError(xerr.ThrottleInvalidCode,
			fmt.Errorf("%w: max_bytes_per_second = %d", xerr.ErrThrottleInvalid, s.MaxBytesPerSecond))
	}
	if s.QuietStartHour < 0 || s.QuietStartHour > 23 || s.QuietEndHour < 0 || s.QuietEndHour > 23 {
		return xerr.NewCodeError(xerr.ThrottleInvalidCode,
			fmt.Errorf("%w: 静默时段必须在 [0,23] 内", xerr.ErrThrottleInvalid))
	}
	if s.QuietFactor < 0 || s.QuietFactor > 1 {
		return xerr.NewCodeError(xerr.ThrottleInvalidCode,
			fmt.Errorf("%w: quiet_factor = %f", xerr.ErrThrottleInvalid, s.QuietFactor))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings = s
	t.adaptiveScale = 1.0
	t.rebuildLocked()
	logger.Info("Bandwidth throttle configured",
		zap.Int64("maxBytesPerSecond", s.MaxBytesPerSecond),
		zap.Bool("adaptive", s.Adaptive))
	return nil
}

// rebuildLocked 根据当前配置、静默时段和自适应系数重建生效速率
func (t *Throttle) rebuildLocked() {
	if t.settings.MaxBytesPerSecond == 0 {
		t.limiter = nil
		t.appliedRate = 0
		return
	}

	effective := float64(t.settings.MaxBytesPerSecond) * t.adaptiveScale
	if t.inQuietHoursLocked() {
		effective *= t.settings.QuietFactor
	}
	applied := int64(effective)
	if applied < 1 {
		applied = 1
	}
	if t.limiter == nil || applied != t.appliedRate {
		burst := applied
		if burst < minBurst {
			burst = minBurst
		}
		t.limiter = rate.NewLimiter(rate.Limit(applied), int(burst))
		t.appliedRate = applied
	}
}

func (t *Throttle) inQuietHoursLocked() bool {
	s, e := t.settings.QuietStartHour, t.settings.QuietEndHour
	if s == e {
		return false
	}
	h := t.now().Hour()
	if s < e {
		return h >= s && h < e
	}
	// 跨午夜窗口，如 22 点到次日 6 点
	return h >= s || h < e
}

// Acquire 在发送 n 字节前取得配额，必要时阻塞等待
// ctx 取消时立即返回
func (t *Throttle) Acquire(ctx context.Context, n int64) error {
	for {
		t.mu.Lock()
		// 静默时段设置为暂停传输时，等到窗口结束再继续
		if t.settings.MaxBytesPerSecond > 0 && t.settings.QuietFactor == 0 && t.inQuietHoursLocked() {
			t.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Minute):
				continue
			}
		}
		t.rebuildLocked()
		limiter := t.limiter
		t.mu.Unlock()

		if limiter == nil {
			return nil
		}

		// 大于突发容量的分片按桶容量分批等待
		remaining := n
		for remaining > 0 {
			step := remaining
			if step > int64(limiter.Burst()) {
				step = int64(limiter.Burst())
			}
			if err := limiter.WaitN(ctx, int(step)); err != nil {
				return err
			}
			remaining -= step
		}
		return nil
	}
}

// Record 上报 n 字节已实际发出，用于吞吐测量和自适应调整
func (t *Throttle) Record(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.windowStart.IsZero() {
		t.windowStart = now
	}
	t.windowBytes += n

	elapsed := now.Sub(t.windowStart)
	if elapsed < time.Second {
		return
	}
	t.measuredBps = float64(t.windowBytes) / elapsed.Seconds()
	t.windowBytes = 0
	t.windowStart = now

	if !t.settings.Adaptive || t.settings.MaxBytesPerSecond == 0 {
		return
	}
	budget := float64(t.settings.MaxBytesPerSecond)
	switch {
	case t.measuredBps > budget:
		// 实测超预算，快速收缩
		t.adaptiveScale *= 0.85
		if t.adaptiveScale < 0.5 {
			t.adaptiveScale = 0.5
		}
	case t.measuredBps < budget*0.8:
		// 低于预算则谨慎扩张
		t.adaptiveScale *= 1.05
		if t.adaptiveScale > 1.0 {
			t.adaptiveScale = 1.0
		}
	}
	t.rebuildLocked()
}

// Usage 返回最近一个测量窗口的实际吞吐 (bytes/sec)
func (t *Throttle) Usage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.measuredBps
}

// Settings 返回当前配置的拷贝
func (t *Throttle) Settings() ThrottleSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}
