package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/xerr"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// runJob 驱动一个任务从 uploading 到终态，结束后触发下一轮调度
func (e *Engine) runJob(job *models.UploadJob, src SourceReader, record *models.ResumeRecord) {
	defer e.wg.Done()
	defer e.settle(job)
	if src != nil {
		defer src.Close()
	}

	job.MarkUploading()

	resumed, err := e.deps.Transport.Open(e.ctx, job.ID, job.File.Name, job.File.Size, job.Options.ChunkSize)
	if err != nil {
		e.finishError(job, xerr.NewCodeError(xerr.StorageErrorCode, err))
		return
	}
	// 传输会话无法接续时（典型场景：multipart 会话随进程重启丢失），
	// 记录里的分片在新会话中并不存在，跳过它们会提交一个缺区间的对象。
	// 此时丢弃记录重传全部分片，续传退化为重新上传但结果保持正确
	if record != nil && len(record.CompletedChunks) > 0 && !resumed {
		logger.Warn("Transport session not recoverable, re-sending previously completed chunks",
			zap.String("uploadID", job.ID),
			zap.Int("recordedChunks", len(record.CompletedChunks)))
		record = nil
	}

	chunks := PlanChunks(job.File.Size, job.Options.ChunkSize)
	ApplyResume(chunks, record)
	job.SetChunks(chunks)

	if job.File.Size > job.Options.ChunkSize {
		err = e.runChunkPool(job, src, len(chunks))
	} else {
		// 单发路径：文件不超过一个分片大小，不需要分片并发池
		err = e.runDirect(job, src, len(chunks))
	}

	switch {
	case job.Cancelled() && !job.AllUploaded():
		e.releaseSession(job)
		e.finishHalted(job)
	case err != nil:
		e.releaseSession(job)
		e.finishError(job, err)
	default:
		if err := e.deps.Transport.Complete(e.ctx, job.ID); err != nil {
			e.releaseSession(job)
			e.finishError(job, xerr.NewCodeError(xerr.TransportErrorCode,
				fmt.Errorf("%w: complete: %v", xerr.ErrTransport, err)))
			return
		}
		e.finishCompleted(job)
	}
}

// releaseSession 在任务未完成就终结时处理传输会话
// 可续传任务保留会话，同进程内 Resume 可以接着用；
// 不可续传任务没有恢复的可能，立即 Abort 释放远端的 multipart 资源
func (e *Engine) releaseSession(job *models.UploadJob) {
	if job.Options.Resumable {
		return
	}
	if err := e.deps.Transport.Abort(e.ctx, job.ID); err != nil {
		logger.Warn("Failed to abort transport session",
			zap.String("uploadID", job.ID), zap.Error(err))
	}
}

// runChunkPool 是单任务内的有界 worker 池
// 活跃分片数始终不超过 MaxConcurrentChunks，空位一出现立即补位，
// 不是固定批次。首个失败会阻止新分片启动，在途分片允许跑完
func (e *Engine) runChunkPool(job *models.UploadJob, src SourceReader, totalChunks int) error {
	sem := make(chan struct{}, job.Options.MaxConcurrentChunks)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	chunks := job.Chunks()
	for i := range chunks {
		if chunks[i].Uploaded {
			continue
		}
		if job.Cancelled() {
			break
		}
		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			break
		}

		sem <- struct{}{} // 等待并发空位

		// 拿到空位后再次检查，避免失败/取消后继续启动
		mu.Lock()
		stop = firstErr != nil
		mu.Unlock()
		if stop || job.Cancelled() {
			<-sem
			break
		}

		wg.Add(1)
		go func(c models.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.transferChunk(job, src, c, totalChunks); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(chunks[i])
	}

	wg.Wait()
	return firstErr
}

// runDirect 处理不分片的小文件，单个区间走与分片相同的传输路径
func (e *Engine) runDirect(job *models.UploadJob, src SourceReader, totalChunks int) error {
	for _, c := range job.Chunks() {
		if c.Uploaded {
			continue
		}
		if job.Cancelled() {
			return nil
		}
		if err := e.transferChunk(job, src, c, totalChunks); err != nil {
			return err
		}
	}
	return nil
}

// transferChunk 完成一个分片的完整发送流程：
// 限速取额 → 读区间 → (可选压缩) → 传输 → 标记进度 → 持久化续传记录
func (e *Engine) transferChunk(job *models.UploadJob, src SourceReader, c models.Chunk, totalChunks int) error {
	if err := e.deps.Throttle.Acquire(e.ctx, c.Size); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}

	data, err := src.ReadRange(c.Start, c.Size)
	if err != nil {
		return xerr.NewCodeError(xerr.SourceReadErrorCode,
			fmt.Errorf("%w: chunk %d: %v", xerr.ErrSourceRead, c.Index, err))
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	payload := data
	if job.Options.Compress {
		payload, err = gzipCompress(data)
		if err != nil {
			return fmt.Errorf("compress chunk %d: %w", c.Index, err)
		}
	}

	if err := e.deps.Transport.SendChunk(e.ctx, job.ID, c.Index, payload); err != nil {
		// 传输失败导致整个任务失败，已完成分片的续传记录保留
		return xerr.NewCodeError(xerr.TransportErrorCode,
			fmt.Errorf("%w: chunk %d: %v", xerr.ErrTransport, c.Index, err))
	}

	uploaded := job.MarkChunkUploaded(c.Index, hash)
	e.deps.Throttle.Record(c.Size)
	e.deps.Analytics.AddBytes(c.Size)

	if job.Options.Resumable {
		e.persistChunk(job, c, totalChunks)
	}

	e.deps.Bus.Publish(models.TransferEvent{
		Type:          models.EventProgress,
		UploadID:      job.ID,
		Filename:      job.File.Name,
		BytesUploaded: uploaded,
		TotalBytes:    job.File.Size,
		ChunkIndex:    c.Index,
	})
	return nil
}

// persistChunk 把分片完成写入续传仓库
// 写入失败不影响分片本身（传输已经成功），重试一次后只告警：
// 若在下一次成功持久化前进程崩溃，该分片会在恢复时被重传
func (e *Engine) persistChunk(job *models.UploadJob, c models.Chunk, totalChunks int) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = e.deps.Resume.RecordChunkComplete(e.ctx, job.ID, c.Index,
			job.Options.ChunkSize, totalChunks, job.File.Name)
		if err == nil {
			return
		}
	}
	logger.Warn("Failed to persist resume record, chunk will be re-uploaded after a crash",
		zap.String("uploadID", job.ID),
		zap.Int("chunkIndex", c.Index),
		zap.Error(err))
}

func (e *Engine) finishCompleted(job *models.UploadJob) {
	if !job.Finish(models.StatusCompleted, "") {
		return
	}
	if job.Options.Resumable {
		if err := e.deps.Resume.Delete(e.ctx, job.ID); err != nil {
			logger.Warn("Failed to delete resume record for completed job",
				zap.String("uploadID", job.ID), zap.Error(err))
		}
	}
	e.deps.Analytics.JobCompleted()
	logger.Info("Upload job completed",
		zap.String("uploadID", job.ID),
		zap.Int64("bytes", job.BytesUploaded()))
	e.deps.Bus.Publish(models.TransferEvent{
		Type:          models.EventCompleted,
		UploadID:      job.ID,
		Filename:      job.File.Name,
		BytesUploaded: job.BytesUploaded(),
		TotalBytes:    job.File.Size,
	})
}

func (e *Engine) finishError(job *models.UploadJob, err error) {
	if !job.Finish(models.StatusError, err.Error()) {
		return
	}
	e.deps.Analytics.JobFailed()
	logger.Error("Upload job failed",
		zap.String("uploadID", job.ID),
		zap.Error(err))
	e.deps.Bus.Publish(models.TransferEvent{
		Type:          models.EventError,
		UploadID:      job.ID,
		Filename:      job.File.Name,
		BytesUploaded: job.BytesUploaded(),
		TotalBytes:    job.File.Size,
		Error:         err.Error(),
	})
}

// finishHalted 终结被 Cancel/Pause 的活跃任务，按请求来源发对应事件
func (e *Engine) finishHalted(job *models.UploadJob) {
	if !job.Finish(models.StatusCancelled, "") {
		return
	}
	e.mu.Lock()
	reason, ok := e.haltReason[job.ID]
	delete(e.haltReason, job.ID)
	e.mu.Unlock()
	if !ok {
		reason = models.EventCancelled
	}
	logger.Info("Upload job halted",
		zap.String("uploadID", job.ID),
		zap.String("reason", string(reason)),
		zap.Int64("bytes", job.BytesUploaded()))
	e.deps.Bus.Publish(models.TransferEvent{
		Type:          reason,
		UploadID:      job.ID,
		Filename:      job.File.Name,
		BytesUploaded: job.BytesUploaded(),
		TotalBytes:    job.File.Size,
	})
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
