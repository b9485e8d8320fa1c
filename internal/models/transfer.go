package models

// EnqueueRequest 定义了入队上传任务的请求体
// chunk_size 和 max_bytes_per_second 类字段接受人类可读写法，如 "4MB"
type EnqueueRequest struct {
	Path                string `json:"path" binding:"required"`
	Priority            int    `json:"priority" binding:"required"`
	ChunkSize           string `json:"chunk_size"`
	MaxConcurrentChunks int    `json:"max_concurrent_chunks"`
	Resumable           bool   `json:"resumable"`
	Compress            bool   `json:"compress"`
	ResumeToken         string `json:"resume_token"`
}

// EnqueueResponse 定义了入队响应体
type EnqueueResponse struct {
	UploadID string `json:"upload_id"`
}

// ResumeRequest 定义了恢复上传的请求体，调用方必须提供新的文件引用
type ResumeRequest struct {
	Path     string `json:"path" binding:"required"`
	Priority int    `json:"priority"`
}

// ConcurrencyRequest 定义了调整引擎级并发上限的请求体
type ConcurrencyRequest struct {
	MaxConcurrentUploads int `json:"max_concurrent_uploads" binding:"required"`
}

// ThrottleRequest 定义了调整带宽限速的请求体
type ThrottleRequest struct {
	MaxBytesPerSecond string  `json:"max_bytes_per_second"`
	Adaptive          bool    `json:"adaptive"`
	QuietStartHour    int     `json:"quiet_start_hour"`
	QuietEndHour      int     `json:"quiet_end_hour"`
	QuietFactor       float64 `json:"quiet_factor"`
}

// EngineSnapshot 是引擎队列与活跃集的只读快照
type EngineSnapshot struct {
	MaxConcurrentUploads int       `json:"max_concurrent_uploads"`
	QueueLength          int       `json:"queue_length"`
	ActiveCount          int       `json:"active_count"`
	Queued               []JobView `json:"queued"`
	Active               []JobView `json:"active"`
}
