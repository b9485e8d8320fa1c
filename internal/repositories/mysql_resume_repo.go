package repositories

import (
	"context"
	"fmt"
	"sort"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MySQLResumeRepository 把续传记录存在 MySQL 的 resume_chunks 表
// 每个已完成分片一行，(upload_id, chunk_index) 唯一索引保证幂等
type MySQLResumeRepository struct {
	db *gorm.DB
}

// NewMySQLResumeRepository 创建 MySQL 续传仓库
func NewMySQLResumeRepository(db *gorm.DB) *MySQLResumeRepository {
	return &MySQLResumeRepository{db: db}
}

func (r *MySQLResumeRepository) Get(ctx context.Context, uploadID string) (*models.ResumeRecord, error) {
	var rows []models.ResumeChunk
	err := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).Find(&rows).Error
	if err != nil {
		logger.Error("Get: Failed to load resume chunks from DB",
			zap.String("uploadID", uploadID), zap.Error(err))
		return nil, fmt.Errorf("resume repository: failed to load record: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrResumeNotFound
	}

	completed := make([]int, 0, len(rows))
	for _, row := range rows {
		completed = append(completed, row.ChunkIndex)
	}
	sort.Ints(completed)

	return &models.ResumeRecord{
		UploadID:        uploadID,
		TotalChunks:     rows[0].TotalChunks,
		CompletedChunks: completed,
		ChunkSize:       rows[0].ChunkSize,
		Filename:        rows[0].Filename,
	}, nil
}

func (r *MySQLResumeRepository) RecordChunkComplete(ctx context.Context, uploadID string, chunkIndex int, chunkSize int64, totalChunks int, filename string) error {
	chunk := models.ResumeChunk{
		UploadID:    uploadID,
		ChunkIndex:  chunkIndex,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Filename:    filename,
	}
	// 已存在的 (upload_id, chunk_index) 行不会被重复创建
	result := r.db.WithContext(ctx).
		Where("upload_id = ? AND chunk_index = ?", uploadID, chunkIndex).
		FirstOrCreate(&chunk)
	if result.Error != nil {
		logger.Error("RecordChunkComplete: Failed to save resume chunk",
			zap.String("uploadID", uploadID),
			zap.Int("chunkIndex", chunkIndex),
			zap.Error(result.Error))
		return fmt.Errorf("resume repository: failed to record chunk: %w", result.Error)
	}
	return nil
}

func (r *MySQLResumeRepository) Delete(ctx context.Context, uploadID string) error {
	err := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).Delete(&models.ResumeChunk{}).Error
	if err != nil {
		logger.Error("Delete: Failed to delete resume chunks",
			zap.String("uploadID", uploadID), zap.Error(err))
		return fmt.Errorf("resume repository: failed to delete record: %w", err)
	}
	return nil
}
