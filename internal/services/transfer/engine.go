package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/storage"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/xerr"
	"github.com/3Eeeecho/go-uploadhub/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	minConcurrentUploads = 1
	maxConcurrentUploads = 10

	defaultMaxConcurrentChunks = 3
)

// EngineDeps 汇集引擎的全部外部依赖，由启动流程显式注入
// 引擎本身没有任何全局单例，测试可以随意构造新实例
type EngineDeps struct {
	Transport storage.Transport
	Resume    repositories.ResumeRepository
	Throttle  *Throttle
	Bus       *EventBus
	Analytics *Analytics
}

// Engine 是上传调度器：持有等待队列和活跃集，
// 队列与活跃集只会被引擎自己的调度逻辑修改
type Engine struct {
	deps EngineDeps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	queue         *jobQueue
	active        map[string]*models.UploadJob
	finished      map[string]*models.UploadJob
	sources       map[string]SourceReader          // 尚未启动的任务的上传源
	resumeRecords map[string]*models.ResumeRecord  // 入队时预取的续传记录
	haltReason    map[string]models.EventType      // 区分 cancel 和 pause 的终态事件
	maxConcurrent int
	closed        bool
}

// NewEngine 创建上传引擎
// maxConcurrent 会被 clamp 到 [1,10]
func NewEngine(deps EngineDeps, maxConcurrent int) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:          deps,
		ctx:           ctx,
		cancel:        cancel,
		queue:         newJobQueue(),
		active:        make(map[string]*models.UploadJob),
		finished:      make(map[string]*models.UploadJob),
		sources:       make(map[string]SourceReader),
		resumeRecords: make(map[string]*models.ResumeRecord),
		haltReason:    make(map[string]models.EventType),
		maxConcurrent: clampConcurrency(maxConcurrent),
	}
}

func clampConcurrency(n int) int {
	if n < minConcurrentUploads {
		return minConcurrentUploads
	}
	if n > maxConcurrentUploads {
		return maxConcurrentUploads
	}
	return n
}

// Enqueue 构造一个 queued 状态的任务并插入优先级队列，立即返回
// 校验失败同步拒绝，任务不会被创建
func (e *Engine) Enqueue(ctx context.Context, fd models.FileDescriptor, priority int, opts models.UploadOptions, src SourceReader) (string, error) {
	if fd.Name == "" {
		return "", xerr.NewCodeError(xerr.FileNameInvalidCode, xerr.ErrFileNameInvalid)
	}
	if fd.Size < 0 {
		return "", xerr.NewCodeError(xerr.FileSizeInvalidCode, xerr.ErrFileSizeInvalid)
	}
	if priority < 1 || priority > 10 {
		return "", xerr.NewCodeError(xerr.PriorityOutOfRangeCode,
			fmt.Errorf("%w: got %d", xerr.ErrPriorityOutOfRange, priority))
	}
	if opts.ChunkSize <= 0 {
		return "", xerr.NewCodeError(xerr.ChunkSizeInvalidCode,
			fmt.Errorf("%w: got %d", xerr.ErrChunkSizeInvalid, opts.ChunkSize))
	}
	if opts.MaxConcurrentChunks <= 0 {
		opts.MaxConcurrentChunks = defaultMaxConcurrentChunks
	}

	id := opts.ResumeToken
	if id == "" {
		id = uuid.NewString()
	}

	// 续传：入队时预取记录，启动时据此跳过已完成的分片
	var record *models.ResumeRecord
	if opts.Resumable && opts.ResumeToken != "" {
		rec, err := e.deps.Resume.Get(ctx, opts.ResumeToken)
		if err == nil {
			record = rec
		} else if err != repositories.ErrResumeNotFound {
			logger.Warn("Enqueue: failed to load resume record, starting from scratch",
				zap.String("uploadID", id), zap.Error(err))
		}
	}

	// 记录里的分片索引只在记录时的分片大小下才有意义，
	// 配置默认值变化后仍沿用记录的分片大小，否则跳过的区间会错位
	if record != nil && record.ChunkSize > 0 && record.ChunkSize != opts.ChunkSize {
		logger.Warn("Enqueue: chunk size differs from resume record, using recorded size",
			zap.String("uploadID", id),
			zap.Int64("requested", opts.ChunkSize),
			zap.Int64("recorded", record.ChunkSize))
		opts.ChunkSize = record.ChunkSize
	}

	job := models.NewUploadJob(id, fd, priority, opts)
	if record != nil {
		// 排队期间的 Status 也要反映已恢复的进度，启动后由 SetChunks 重算
		job.RestoreProgress(ResumedBytes(fd.Size, record))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", xerr.NewCodeError(xerr.EngineClosedCode, xerr.ErrEngineClosed)
	}
	if e.queue.Get(id) != nil || e.active[id] != nil {
		e.mu.Unlock()
		return "", xerr.NewCodeError(xerr.InvalidParamsCode,
			fmt.Errorf("%w: 任务 %s 已在队列或活跃集中", xerr.ErrInvalidParams, id))
	}
	delete(e.finished, id) // 续传重新入队时丢弃旧终态
	e.queue.Push(job)
	e.sources[id] = src
	if record != nil {
		e.resumeRecords[id] = record
	}
	e.dispatchLocked()
	e.mu.Unlock()

	logger.Info("Upload job enqueued",
		zap.String("uploadID", id),
		zap.String("filename", fd.Name),
		zap.Int64("size", fd.Size),
		zap.Int("priority", priority))
	e.deps.Bus.Publish(models.TransferEvent{
		Type:       models.EventQueued,
		UploadID:   id,
		Filename:   fd.Name,
		TotalBytes: fd.Size,
	})
	return id, nil
}

// dispatchLocked 是事件驱动的调度决策：活跃集有空位且队列非空时
// 弹出队首任务并启动，入队和每个任务结束后都会重新执行
// 调用方必须持有 e.mu
func (e *Engine) dispatchLocked() {
	for !e.closed && len(e.active) < e.maxConcurrent && e.queue.Len() > 0 {
		job := e.queue.Pop()
		src := e.sources[job.ID]
		delete(e.sources, job.ID)
		record := e.resumeRecords[job.ID]
		delete(e.resumeRecords, job.ID)

		e.active[job.ID] = job
		e.wg.Add(1)
		go e.runJob(job, src, record)
	}
}

// settle 在任务进入终态后把它移出活跃集并推进调度
func (e *Engine) settle(job *models.UploadJob) {
	e.mu.Lock()
	delete(e.active, job.ID)
	e.finished[job.ID] = job
	e.dispatchLocked()
	e.mu.Unlock()
}

// Cancel 取消一个任务
// 排队中的任务同步移除；活跃任务协作式取消：在途分片允许完成，
// 不再启动新分片。id 未知或已终态时返回 false
func (e *Engine) Cancel(id string) bool {
	return e.halt(id, models.EventCancelled)
}

// Pause 与 Cancel 共享停止机制，但对外发出 paused 事件，
// 续传记录保留，之后可以用 Resume 继续
func (e *Engine) Pause(id string) bool {
	return e.halt(id, models.EventPaused)
}

func (e *Engine) halt(id string, reason models.EventType) bool {
	e.mu.Lock()
	if job := e.queue.Remove(id); job != nil {
		// 排队阶段传输从未开始，可以立刻终结
		if src := e.sources[id]; src != nil {
			src.Close()
			delete(e.sources, id)
		}
		delete(e.resumeRecords, id)
		job.Finish(models.StatusCancelled, "")
		e.finished[id] = job
		e.mu.Unlock()
		e.deps.Bus.Publish(models.TransferEvent{
			Type:     reason,
			UploadID: id,
			Filename: job.File.Name,
		})
		logger.Info("Queued job halted", zap.String("uploadID", id), zap.String("reason", string(reason)))
		return true
	}
	if job, ok := e.active[id]; ok && !job.Status().Terminal() {
		e.haltReason[id] = reason
		job.Cancel()
		e.mu.Unlock()
		logger.Info("Active job halt requested", zap.String("uploadID", id), zap.String("reason", string(reason)))
		return true
	}
	e.mu.Unlock()
	return false
}

// Resume 重新入队一个有续传记录的任务，调用方必须提供新的文件引用
// 只有 ResumeRecord 存在时才有效
func (e *Engine) Resume(ctx context.Context, id string, fd models.FileDescriptor, priority int, opts models.UploadOptions, src SourceReader) error {
	if _, err := e.deps.Resume.Get(ctx, id); err != nil {
		if err == repositories.ErrResumeNotFound {
			return xerr.NewCodeError(xerr.ResumeNotFoundCode, xerr.ErrResumeNotFound)
		}
		return xerr.NewCodeError(xerr.ResumeStoreErrorCode, err)
	}

	opts.Resumable = true
	opts.ResumeToken = id
	if _, err := e.Enqueue(ctx, fd, priority, opts, src); err != nil {
		return err
	}
	e.deps.Bus.Publish(models.TransferEvent{
		Type:     models.EventResumed,
		UploadID: id,
		Filename: fd.Name,
	})
	return nil
}

// SetMaxConcurrentUploads 调整引擎级并发上限，clamp 到 [1,10]
// 在下一次调度决策生效，不会驱逐已活跃的任务
func (e *Engine) SetMaxConcurrentUploads(n int) int {
	e.mu.Lock()
	e.maxConcurrent = clampConcurrency(n)
	applied := e.maxConcurrent
	e.dispatchLocked()
	e.mu.Unlock()
	logger.Info("Max concurrent uploads updated", zap.Int("value", applied))
	return applied
}

// SetThrottle 更新共享带宽限速配置
func (e *Engine) SetThrottle(s ThrottleSettings) error {
	return e.deps.Throttle.Configure(s)
}

// Status 返回单个任务的快照
func (e *Engine) Status(id string) (models.JobView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if job, ok := e.active[id]; ok {
		return job.View(), nil
	}
	if job := e.queue.Get(id); job != nil {
		return job.View(), nil
	}
	if job, ok := e.finished[id]; ok {
		return job.View(), nil
	}
	return models.JobView{}, xerr.NewCodeError(xerr.JobNotFoundCode, xerr.ErrJobNotFound)
}

// Snapshot 返回队列与活跃集的整体快照
func (e *Engine) Snapshot() models.EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := models.EngineSnapshot{
		MaxConcurrentUploads: e.maxConcurrent,
		QueueLength:          e.queue.Len(),
		ActiveCount:          len(e.active),
		Queued:               e.queue.Views(),
		Active:               make([]models.JobView, 0, len(e.active)),
	}
	for _, job := range e.active {
		snap.Active = append(snap.Active, job.View())
	}
	return snap
}

// AnalyticsSnapshot 组装当前的统计视图，从不阻塞调度路径
func (e *Engine) AnalyticsSnapshot() AnalyticsSnapshot {
	e.mu.Lock()
	queueLen := e.queue.Len()
	stats := make([]activeJobStat, 0, len(e.active))
	for _, job := range e.active {
		stats = append(stats, activeJobStat{
			bytesUploaded: job.BytesUploaded(),
			startTime:     job.StartTime(),
		})
	}
	e.mu.Unlock()
	return e.deps.Analytics.snapshot(queueLen, stats, e.deps.Throttle.Usage())
}

// Events 暴露事件总线供消费方订阅
func (e *Engine) Events() *EventBus {
	return e.deps.Bus
}

// Close 停止接收新任务并等待所有活跃任务结束
// 排队中的任务保持 queued，进程重启后可凭续传记录恢复
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
	e.cancel()
	logger.Info("Upload engine closed")
}
