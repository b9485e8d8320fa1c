package repositories

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResumeRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryResumeRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrResumeNotFound)

	require.NoError(t, repo.RecordChunkComplete(ctx, "u1", 3, 1024, 8, "a.bin"))
	require.NoError(t, repo.RecordChunkComplete(ctx, "u1", 0, 1024, 8, "a.bin"))
	require.NoError(t, repo.RecordChunkComplete(ctx, "u1", 5, 1024, 8, "a.bin"))

	rec, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UploadID)
	assert.Equal(t, 8, rec.TotalChunks)
	assert.Equal(t, int64(1024), rec.ChunkSize)
	assert.Equal(t, "a.bin", rec.Filename)
	// 返回的索引有序
	assert.Equal(t, []int{0, 3, 5}, rec.CompletedChunks)
	assert.True(t, rec.Completed(3))
	assert.False(t, rec.Completed(1))
}

func TestMemoryResumeRepositoryIdempotentRecord(t *testing.T) {
	repo := NewMemoryResumeRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordChunkComplete(ctx, "u1", 2, 1024, 4, "a.bin"))
	}

	rec, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, rec.CompletedChunks)
}

func TestMemoryResumeRepositoryDelete(t *testing.T) {
	repo := NewMemoryResumeRepository()
	ctx := context.Background()

	require.NoError(t, repo.RecordChunkComplete(ctx, "u1", 0, 1024, 2, "a.bin"))
	require.NoError(t, repo.Delete(ctx, "u1"))

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrResumeNotFound)

	// 删除不存在的记录不报错
	assert.NoError(t, repo.Delete(ctx, "u1"))
}

func TestMemoryResumeRepositoryIsolatesUploads(t *testing.T) {
	repo := NewMemoryResumeRepository()
	ctx := context.Background()

	require.NoError(t, repo.RecordChunkComplete(ctx, "u1", 0, 1024, 2, "a.bin"))
	require.NoError(t, repo.RecordChunkComplete(ctx, "u2", 1, 2048, 4, "b.bin"))

	rec1, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	rec2, err := repo.Get(ctx, "u2")
	require.NoError(t, err)

	assert.Equal(t, []int{0}, rec1.CompletedChunks)
	assert.Equal(t, []int{1}, rec2.CompletedChunks)
	assert.Equal(t, int64(2048), rec2.ChunkSize)
}

func TestMemoryResumeRepositoryConcurrentWrites(t *testing.T) {
	repo := NewMemoryResumeRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = repo.RecordChunkComplete(ctx, "u1", idx, 1024, 32, "a.bin")
		}(i)
	}
	wg.Wait()

	rec, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rec.CompletedChunks, 32)
}
