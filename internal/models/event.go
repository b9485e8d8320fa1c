package models

import "time"

// EventType 是任务状态迁移对应的事件类型
type EventType string

const (
	EventQueued    EventType = "queued"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
)

// TransferEvent 在每次任务状态迁移时发出，携带驱动 UI 进度展示所需的全部信息，
// 消费方不需要再回查引擎内部状态
type TransferEvent struct {
	Type          EventType `json:"type"`
	UploadID      string    `json:"upload_id"`
	Filename      string    `json:"filename"`
	BytesUploaded int64     `json:"bytes_uploaded"`
	TotalBytes    int64     `json:"total_bytes"`
	ChunkIndex    int       `json:"chunk_index,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
