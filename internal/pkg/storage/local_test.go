package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTransportAssemblesOutOfOrderChunks(t *testing.T) {
	base := t.TempDir()
	tr, err := NewLocalTransport(base)
	require.NoError(t, err)

	ctx := context.Background()
	const chunkSize = 4
	content := []byte("abcdefghij") // 3 个分片: abcd efgh ij

	resumed, err := tr.Open(ctx, "u1", "out.bin", int64(len(content)), chunkSize)
	require.NoError(t, err)
	assert.False(t, resumed)
	// 重复 Open 复用会话
	resumed, err = tr.Open(ctx, "u1", "out.bin", int64(len(content)), chunkSize)
	require.NoError(t, err)
	assert.True(t, resumed)

	// 乱序发送
	require.NoError(t, tr.SendChunk(ctx, "u1", 2, content[8:]))
	require.NoError(t, tr.SendChunk(ctx, "u1", 0, content[:4]))
	require.NoError(t, tr.SendChunk(ctx, "u1", 1, content[4:8]))
	require.NoError(t, tr.Complete(ctx, "u1"))

	got, err := os.ReadFile(filepath.Join(base, "u1", "out.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestLocalTransportSendWithoutSession(t *testing.T) {
	tr, err := NewLocalTransport(t.TempDir())
	require.NoError(t, err)

	err = tr.SendChunk(context.Background(), "ghost", 0, []byte("x"))
	assert.Error(t, err)
	assert.Error(t, tr.Complete(context.Background(), "ghost"))
}

func TestLocalTransportAbortRemovesPartialFile(t *testing.T) {
	base := t.TempDir()
	tr, err := NewLocalTransport(base)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = tr.Open(ctx, "u1", "part.bin", 8, 4)
	require.NoError(t, err)
	require.NoError(t, tr.SendChunk(ctx, "u1", 0, []byte("abcd")))
	require.NoError(t, tr.Abort(ctx, "u1"))

	_, err = os.Stat(filepath.Join(base, "u1"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalTransportResumesAcrossInstances(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	tr1, err := NewLocalTransport(base)
	require.NoError(t, err)
	_, err = tr1.Open(ctx, "u1", "keep.bin", 8, 4)
	require.NoError(t, err)
	require.NoError(t, tr1.SendChunk(ctx, "u1", 0, []byte("abcd")))

	// 新实例模拟进程重启：目标文件还在盘上，已写入的区间有效
	tr2, err := NewLocalTransport(base)
	require.NoError(t, err)
	resumed, err := tr2.Open(ctx, "u1", "keep.bin", 8, 4)
	require.NoError(t, err)
	assert.True(t, resumed)

	require.NoError(t, tr2.SendChunk(ctx, "u1", 1, []byte("efgh")))
	require.NoError(t, tr2.Complete(ctx, "u1"))

	got, err := os.ReadFile(filepath.Join(base, "u1", "keep.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefgh"), got)
}
