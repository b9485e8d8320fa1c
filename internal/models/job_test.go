package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() *UploadJob {
	job := NewUploadJob("u1", FileDescriptor{Name: "a.bin", Size: 3 * 1024}, 5,
		UploadOptions{ChunkSize: 1024, MaxConcurrentChunks: 2})
	job.SetChunks([]Chunk{
		{Index: 0, Start: 0, End: 1024, Size: 1024},
		{Index: 1, Start: 1024, End: 2048, Size: 1024},
		{Index: 2, Start: 2048, End: 3072, Size: 1024},
	})
	return job
}

func TestMarkChunkUploadedIsIdempotent(t *testing.T) {
	job := newTestJob()

	assert.Equal(t, int64(1024), job.MarkChunkUploaded(0, "h0"))
	// 同一分片重复标记不会重复累加
	assert.Equal(t, int64(1024), job.MarkChunkUploaded(0, "h0"))
	assert.Equal(t, int64(2048), job.MarkChunkUploaded(1, "h1"))

	// 越界索引被忽略
	assert.Equal(t, int64(2048), job.MarkChunkUploaded(-1, ""))
	assert.Equal(t, int64(2048), job.MarkChunkUploaded(99, ""))
}

func TestSetChunksRestoresProgress(t *testing.T) {
	job := NewUploadJob("u1", FileDescriptor{Name: "a.bin", Size: 2048}, 5, UploadOptions{ChunkSize: 1024})
	job.SetChunks([]Chunk{
		{Index: 0, Size: 1024, Uploaded: true},
		{Index: 1, Size: 1024},
	})
	assert.Equal(t, int64(1024), job.BytesUploaded())
	assert.False(t, job.AllUploaded())

	job.MarkChunkUploaded(1, "h1")
	assert.True(t, job.AllUploaded())
}

func TestRestoreProgressOnlyWhileQueued(t *testing.T) {
	job := NewUploadJob("u1", FileDescriptor{Name: "a.bin", Size: 4096}, 5, UploadOptions{ChunkSize: 1024})
	job.RestoreProgress(2048)
	assert.Equal(t, int64(2048), job.BytesUploaded())

	// 启动后进度由分片计划重算，预置值被覆盖
	job.MarkUploading()
	job.RestoreProgress(4096)
	job.SetChunks([]Chunk{
		{Index: 0, Size: 1024, Uploaded: true},
		{Index: 1, Size: 1024},
	})
	assert.Equal(t, int64(1024), job.BytesUploaded())
}

func TestFinishIsTerminalOnce(t *testing.T) {
	job := newTestJob()
	job.MarkUploading()

	require.True(t, job.Finish(StatusCompleted, ""))
	first := job.View().EndTime
	require.NotNil(t, first)

	// 二次终态迁移被拒绝，endTime 不变
	assert.False(t, job.Finish(StatusError, "too late"))
	assert.Equal(t, StatusCompleted, job.Status())
	assert.Equal(t, *first, *job.View().EndTime)
}

func TestCancelFlag(t *testing.T) {
	job := newTestJob()
	assert.False(t, job.Cancelled())
	job.Cancel()
	assert.True(t, job.Cancelled())
	// 取消标记本身不改变状态，终态由调度器决定
	assert.Equal(t, StatusQueued, job.Status())
}

func TestViewSnapshot(t *testing.T) {
	job := newTestJob()
	job.MarkUploading()
	job.MarkChunkUploaded(0, "h0")

	v := job.View()
	assert.Equal(t, "u1", v.ID)
	assert.Equal(t, StatusUploading, v.Status)
	assert.Equal(t, 3, v.TotalChunks)
	assert.Equal(t, 1, v.DoneChunks)
	assert.Equal(t, int64(1024), v.BytesUploaded)
	assert.NotNil(t, v.StartTime)
	assert.Nil(t, v.EndTime)
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusUploading.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
