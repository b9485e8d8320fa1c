package models

import (
	"sync"
	"sync/atomic"
	"time"
)

// UploadStatus 表示上传任务的生命周期状态
type UploadStatus string

const (
	StatusQueued    UploadStatus = "queued"
	StatusUploading UploadStatus = "uploading"
	StatusCompleted UploadStatus = "completed"
	StatusError     UploadStatus = "error"
	StatusCancelled UploadStatus = "cancelled"
)

// Terminal 判断状态是否为终态
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// FileDescriptor 描述待上传的文件，入队后不可变
type FileDescriptor struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Chunk 是文件的一个连续字节区间，也是独立传输和断点续传的最小单位
// [Start, End) 区间共同无缝覆盖 [0, FileDescriptor.Size)
type Chunk struct {
	Index    int    `json:"index"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded"`
	Hash     string `json:"hash,omitempty"` // 分片内容的 SHA-256，可选
}

// UploadOptions 单个任务的配置，入队后不可变
type UploadOptions struct {
	ChunkSize           int64  `json:"chunk_size"`
	MaxConcurrentChunks int    `json:"max_concurrent_chunks"`
	Resumable           bool   `json:"resumable"`
	Compress            bool   `json:"compress"`     // 分片 gzip 压缩后再发送
	ResumeToken         string `json:"resume_token"` // 非空时用于查找 ResumeRecord
}

// UploadJob 是单个文件传输的状态机，持有自己的分片列表和进度计数
// 字段修改必须通过带锁方法进行，快照读取用 View()
type UploadJob struct {
	ID       string
	File     FileDescriptor
	Priority int
	Options  UploadOptions

	mu            sync.Mutex
	status        UploadStatus
	chunks        []Chunk
	bytesUploaded int64
	startTime     time.Time
	endTime       time.Time
	errMsg        string

	cancelled atomic.Bool
}

// NewUploadJob 构造一个处于 queued 状态的任务
func NewUploadJob(id string, fd FileDescriptor, priority int, opts UploadOptions) *UploadJob {
	return &UploadJob{
		ID:       id,
		File:     fd,
		Priority: priority,
		Options:  opts,
		status:   StatusQueued,
	}
}

// SetChunks 任务启动时挂载分片计划，并按已恢复的分片初始化进度
func (j *UploadJob) SetChunks(chunks []Chunk) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.chunks = chunks
	j.bytesUploaded = 0
	for _, c := range chunks {
		if c.Uploaded {
			j.bytesUploaded += c.Size
		}
	}
}

// RestoreProgress 在任务仍处于 queued 时预置已恢复的进度字节数，
// 让排队阶段的快照就能反映续传记录。启动后 SetChunks 会重新计算
func (j *UploadJob) RestoreProgress(n int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusQueued || n < 0 {
		return
	}
	j.bytesUploaded = n
}

// MarkUploading 将任务置为 uploading 并记录开始时间
func (j *UploadJob) MarkUploading() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusUploading
	j.startTime = time.Now()
}

// MarkChunkUploaded 标记一个分片上传完成并推进 bytesUploaded
// 对同一分片重复调用是幂等的，保证进度不会重复累加
func (j *UploadJob) MarkChunkUploaded(index int, hash string) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < 0 || index >= len(j.chunks) || j.chunks[index].Uploaded {
		return j.bytesUploaded
	}
	j.chunks[index].Uploaded = true
	j.chunks[index].Hash = hash
	j.bytesUploaded += j.chunks[index].Size
	return j.bytesUploaded
}

// Finish 迁移到终态，endTime 只会被设置一次
func (j *UploadJob) Finish(status UploadStatus, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.errMsg = errMsg
	j.endTime = time.Now()
	return true
}

// Cancel 置取消标记，分片调度会在分片边界处观察该标记
func (j *UploadJob) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled 返回取消标记是否已置位
func (j *UploadJob) Cancelled() bool {
	return j.cancelled.Load()
}

// AllUploaded 判断所有分片是否都已完成
func (j *UploadJob) AllUploaded() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.chunks) == 0 {
		return false
	}
	for _, c := range j.chunks {
		if !c.Uploaded {
			return false
		}
	}
	return true
}

// Status 返回当前状态
func (j *UploadJob) Status() UploadStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// BytesUploaded 返回已上传的字节数
func (j *UploadJob) BytesUploaded() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bytesUploaded
}

// StartTime 返回任务开始传输的时间，未开始则为零值
func (j *UploadJob) StartTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startTime
}

// Chunks 返回分片列表的拷贝
func (j *UploadJob) Chunks() []Chunk {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Chunk, len(j.chunks))
	copy(out, j.chunks)
	return out
}

// JobView 是任务状态的只读快照，用于 API 响应和事件上报
type JobView struct {
	ID            string         `json:"id"`
	File          FileDescriptor `json:"file"`
	Priority      int            `json:"priority"`
	Status        UploadStatus   `json:"status"`
	TotalChunks   int            `json:"total_chunks"`
	DoneChunks    int            `json:"done_chunks"`
	BytesUploaded int64          `json:"bytes_uploaded"`
	StartTime     *time.Time     `json:"start_time,omitempty"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// View 生成当前任务的一致性快照
func (j *UploadJob) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:            j.ID,
		File:          j.File,
		Priority:      j.Priority,
		Status:        j.status,
		TotalChunks:   len(j.chunks),
		BytesUploaded: j.bytesUploaded,
		Error:         j.errMsg,
	}
	for _, c := range j.chunks {
		if c.Uploaded {
			v.DoneChunks++
		}
	}
	if !j.startTime.IsZero() {
		t := j.startTime
		v.StartTime = &t
	}
	if !j.endTime.IsZero() {
		t := j.endTime
		v.EndTime = &t
	}
	return v
}
