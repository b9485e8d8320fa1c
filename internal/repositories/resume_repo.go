package repositories

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
)

// ErrResumeNotFound 表示某个上传任务没有续传记录
var ErrResumeNotFound = errors.New("断点续传记录不存在")

// ResumeRepository 是续传记录的持久化接口
// 记录按 uploadID 隔离，不同任务的写入互不竞争；同一任务的写入
// 由分片完成回调串行化（每条记录单写者）
type ResumeRepository interface {
	// Get 返回某个上传任务的续传记录，不存在时返回 ErrResumeNotFound
	Get(ctx context.Context, uploadID string) (*models.ResumeRecord, error)

	// RecordChunkComplete 记录一个分片完成，幂等：重复记录同一索引是无副作用的
	// 首个分片完成时创建记录
	RecordChunkComplete(ctx context.Context, uploadID string, chunkIndex int, chunkSize int64, totalChunks int, filename string) error

	// Delete 任务完成时删除记录，避免无限增长
	Delete(ctx context.Context, uploadID string) error
}

type memoryEntry struct {
	record models.ResumeRecord
	seen   map[int]struct{}
}

// MemoryResumeRepository 纯内存实现，用于单机默认配置和测试
// 不满足跨进程重启的持久性，生产部署应选择 redis 或 mysql 后端
type MemoryResumeRepository struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryResumeRepository 创建内存续传仓库
func NewMemoryResumeRepository() *MemoryResumeRepository {
	return &MemoryResumeRepository{entries: make(map[string]*memoryEntry)}
}

func (r *MemoryResumeRepository) Get(ctx context.Context, uploadID string) (*models.ResumeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[uploadID]
	if !ok {
		return nil, ErrResumeNotFound
	}
	rec := e.record
	rec.CompletedChunks = make([]int, 0, len(e.seen))
	for i := range e.seen {
		rec.CompletedChunks = append(rec.CompletedChunks, i)
	}
	sort.Ints(rec.CompletedChunks)
	return &rec, nil
}

func (r *MemoryResumeRepository) RecordChunkComplete(ctx context.Context, uploadID string, chunkIndex int, chunkSize int64, totalChunks int, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uploadID]
	if !ok {
		e = &memoryEntry{
			record: models.ResumeRecord{
				UploadID:    uploadID,
				TotalChunks: totalChunks,
				ChunkSize:   chunkSize,
				Filename:    filename,
			},
			seen: make(map[int]struct{}),
		}
		r.entries[uploadID] = e
	}
	e.seen[chunkIndex] = struct{}{}
	return nil
}

func (r *MemoryResumeRepository) Delete(ctx context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, uploadID)
	return nil
}
