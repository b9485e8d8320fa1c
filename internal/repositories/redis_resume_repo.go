package repositories

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/cache"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"go.uber.org/zap"
)

// RedisResumeRepository 把续传记录存在 Redis
// 元信息放 resume:<id>:meta，已完成分片集合放 resume:<id>:chunks
// 使用 Hash 存储，Field: chunkIndex, Value: 1，HSet 天然幂等
// Redis 配置 AOF 后即可满足崩溃恢复要求
type RedisResumeRepository struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewRedisResumeRepository 创建 Redis 续传仓库
// ttl 为记录保活时间，每次写入都会续期，0 表示不过期
func NewRedisResumeRepository(c cache.Cache, ttl time.Duration) *RedisResumeRepository {
	return &RedisResumeRepository{cache: c, ttl: ttl}
}

func (r *RedisResumeRepository) Get(ctx context.Context, uploadID string) (*models.ResumeRecord, error) {
	metaKey := cache.GenerateResumeMetaKey(uploadID)
	exists, err := r.cache.Exists(ctx, metaKey)
	if err != nil {
		return nil, fmt.Errorf("resume repository: failed to check record: %w", err)
	}
	if !exists {
		return nil, ErrResumeNotFound
	}

	meta, err := r.cache.HGetAll(ctx, metaKey)
	if err != nil {
		return nil, fmt.Errorf("resume repository: failed to get meta: %w", err)
	}
	chunkSize, _ := strconv.ParseInt(meta["chunk_size"], 10, 64)
	totalChunks, _ := strconv.Atoi(meta["total_chunks"])

	chunksMap, err := r.cache.HGetAll(ctx, cache.GenerateResumeChunksKey(uploadID))
	if err != nil {
		return nil, fmt.Errorf("resume repository: failed to get chunks: %w", err)
	}
	completed := make([]int, 0, len(chunksMap))
	for idxStr := range chunksMap {
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			logger.Warn("Skipping malformed chunk index in resume record",
				zap.String("uploadID", uploadID), zap.String("field", idxStr))
			continue
		}
		completed = append(completed, idx)
	}
	sort.Ints(completed)

	return &models.ResumeRecord{
		UploadID:        uploadID,
		TotalChunks:     totalChunks,
		CompletedChunks: completed,
		ChunkSize:       chunkSize,
		Filename:        meta["filename"],
	}, nil
}

func (r *RedisResumeRepository) RecordChunkComplete(ctx context.Context, uploadID string, chunkIndex int, chunkSize int64, totalChunks int, filename string) error {
	metaKey := cache.GenerateResumeMetaKey(uploadID)
	chunksKey := cache.GenerateResumeChunksKey(uploadID)

	// 首次写入建立元信息，HMSet 重复执行结果相同
	err := r.cache.HMSet(ctx, metaKey, map[string]any{
		"chunk_size":   chunkSize,
		"total_chunks": totalChunks,
		"filename":     filename,
	})
	if err != nil {
		return fmt.Errorf("resume repository: failed to save meta: %w", err)
	}

	if err := r.cache.HSet(ctx, chunksKey, strconv.Itoa(chunkIndex), 1); err != nil {
		return fmt.Errorf("resume repository: failed to record chunk: %w", err)
	}

	if r.ttl > 0 {
		// 续期失败不影响记录本身，只会提前过期
		_ = r.cache.Expire(ctx, metaKey, r.ttl)
		_ = r.cache.Expire(ctx, chunksKey, r.ttl)
	}
	return nil
}

func (r *RedisResumeRepository) Delete(ctx context.Context, uploadID string) error {
	err := r.cache.Del(ctx, cache.GenerateResumeMetaKey(uploadID), cache.GenerateResumeChunksKey(uploadID))
	if err != nil {
		return fmt.Errorf("resume repository: failed to delete record: %w", err)
	}
	return nil
}
