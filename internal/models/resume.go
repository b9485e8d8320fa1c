package models

import (
	"time"

	"gorm.io/gorm"
)

// ResumeRecord 记录一个上传任务已确认完成的分片集合
// 任务(重新)启动时据此跳过已完成的分片，任务完成时删除
type ResumeRecord struct {
	UploadID        string `json:"upload_id"`
	TotalChunks     int    `json:"total_chunks"`
	CompletedChunks []int  `json:"completed_chunks"`
	ChunkSize       int64  `json:"chunk_size"`
	Filename        string `json:"filename"`
}

// Completed 判断某个分片索引是否已记录完成
func (r *ResumeRecord) Completed(index int) bool {
	for _, i := range r.CompletedChunks {
		if i == index {
			return true
		}
	}
	return false
}

// ResumeChunk 对应 resume_chunks 表，每行是某个上传任务的一个已完成分片
type ResumeChunk struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UploadID    string         `gorm:"type:varchar(64);not null;index:idx_resume_upload_chunk,unique" json:"upload_id"`
	ChunkIndex  int            `gorm:"not null;index:idx_resume_upload_chunk,unique" json:"chunk_index"`
	ChunkSize   int64          `gorm:"type:bigint;not null" json:"chunk_size"`
	TotalChunks int            `gorm:"not null" json:"total_chunks"`
	Filename    string         `gorm:"type:varchar(255);not null" json:"filename"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定 GORM 使用的表名
func (ResumeChunk) TableName() string {
	return "resume_chunks"
}
