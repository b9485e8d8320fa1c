package transfer

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
	"github.com/3Eeeecho/go-uploadhub/internal/repositories"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport 记录所有收到的分片，可以按需阻塞或注入错误
type fakeTransport struct {
	mu        sync.Mutex
	opened    map[string]bool
	sent      map[string][]int
	payloads  map[string]map[int][]byte
	completed map[string]bool
	aborted   map[string]bool

	gate      chan struct{} // 非 nil 时每次 SendChunk 先从中取一个令牌
	sendErr   error
	sendDelay time.Duration
	durable   bool // 已发送分片在新会话中仍有效，模拟落盘类后端

	inFlight    int32
	maxInFlight int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		opened:    make(map[string]bool),
		sent:      make(map[string][]int),
		payloads:  make(map[string]map[int][]byte),
		completed: make(map[string]bool),
		aborted:   make(map[string]bool),
	}
}

func (f *fakeTransport) Open(ctx context.Context, uploadID, filename string, size, chunkSize int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resumed := f.opened[uploadID] || f.durable
	f.opened[uploadID] = true
	return resumed, nil
}

func (f *fakeTransport) SendChunk(ctx context.Context, uploadID string, chunkIndex int, data []byte) error {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}
	if f.sendErr != nil {
		return f.sendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[uploadID] = append(f.sent[uploadID], chunkIndex)
	if f.payloads[uploadID] == nil {
		f.payloads[uploadID] = make(map[int][]byte)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.payloads[uploadID][chunkIndex] = buf
	return nil
}

func (f *fakeTransport) Complete(ctx context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[uploadID] = true
	return nil
}

func (f *fakeTransport) Abort(ctx context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted[uploadID] = true
	return nil
}

func (f *fakeTransport) sentChunks(uploadID string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.sent[uploadID]))
	copy(out, f.sent[uploadID])
	return out
}

func (f *fakeTransport) isCompleted(uploadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[uploadID]
}

func (f *fakeTransport) isAborted(uploadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[uploadID]
}

func newTestEngine(t *testing.T, transport *fakeTransport, repo repositories.ResumeRepository, maxConcurrent int) *Engine {
	t.Helper()
	if repo == nil {
		repo = repositories.NewMemoryResumeRepository()
	}
	throttle, err := NewThrottle(ThrottleSettings{})
	require.NoError(t, err)
	e := NewEngine(EngineDeps{
		Transport: transport,
		Resume:    repo,
		Throttle:  throttle,
		Bus:       NewEventBus(),
		Analytics: NewAnalytics(),
	}, maxConcurrent)
	t.Cleanup(e.Close)
	return e
}

// waitEvent 丢弃无关事件，直到出现指定类型和任务的事件
func waitEvent(t *testing.T, ch <-chan models.TransferEvent, typ models.EventType, uploadID string) models.TransferEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ && ev.UploadID == uploadID {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event of %s", typ, uploadID)
		}
	}
}

func testFile(name string, size int64) (models.FileDescriptor, *BufferSource) {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return models.FileDescriptor{Name: name, Size: size, MimeType: "application/octet-stream"}, NewBufferSource(data)
}

func TestEngineUploadsFileInChunks(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil, 3)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	fd, src := testFile("big.bin", 10*1024*1024)
	id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{ChunkSize: 1024 * 1024}, src)
	require.NoError(t, err)

	ev := waitEvent(t, events, models.EventCompleted, id)
	assert.Equal(t, int64(10*1024*1024), ev.BytesUploaded)
	assert.Equal(t, int64(10*1024*1024), ev.TotalBytes)

	// 每个分片恰好发送一次
	sent := transport.sentChunks(id)
	require.Len(t, sent, 10)
	seen := make(map[int]bool)
	for _, idx := range sent {
		assert.False(t, seen[idx], "chunk %d sent twice", idx)
		seen[idx] = true
	}
	assert.True(t, transport.isCompleted(id))

	view, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.Equal(t, 10, view.TotalChunks)
	assert.Equal(t, 10, view.DoneChunks)
	assert.NotNil(t, view.StartTime)
	assert.NotNil(t, view.EndTime)

	snap := e.AnalyticsSnapshot()
	assert.Equal(t, uint64(1), snap.Completed)
	assert.Equal(t, int64(10*1024*1024), snap.TotalBytes)
	assert.Equal(t, 1.0, snap.SuccessRate)
}

func TestEngineEnqueueValidation(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), nil, 2)
	ctx := context.Background()
	opts := models.UploadOptions{ChunkSize: 1024}

	_, err := e.Enqueue(ctx, models.FileDescriptor{Name: "", Size: 10}, 5, opts, NewBufferSource(nil))
	assert.Error(t, err)

	_, err = e.Enqueue(ctx, models.FileDescriptor{Name: "a.bin", Size: -1}, 5, opts, NewBufferSource(nil))
	assert.Error(t, err)

	_, err = e.Enqueue(ctx, models.FileDescriptor{Name: "a.bin", Size: 10}, 0, opts, NewBufferSource(nil))
	assert.Error(t, err)

	_, err = e.Enqueue(ctx, models.FileDescriptor{Name: "a.bin", Size: 10}, 11, opts, NewBufferSource(nil))
	assert.Error(t, err)

	_, err = e.Enqueue(ctx, models.FileDescriptor{Name: "a.bin", Size: 10}, 5, models.UploadOptions{ChunkSize: 0}, NewBufferSource(nil))
	assert.Error(t, err)

	// 校验失败的任务不会出现在引擎里
	snap := e.Snapshot()
	assert.Zero(t, snap.QueueLength)
	assert.Zero(t, snap.ActiveCount)
}

func TestEngineSingleChunkFile(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil, 2)
	events, cancel := e.Events().Subscribe(16)
	defer cancel()

	fd, src := testFile("small.txt", 100)
	id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{ChunkSize: 1024}, src)
	require.NoError(t, err)

	waitEvent(t, events, models.EventCompleted, id)
	assert.Equal(t, []int{0}, transport.sentChunks(id))
}

func TestEngineZeroByteFile(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil, 2)
	events, cancel := e.Events().Subscribe(16)
	defer cancel()

	id, err := e.Enqueue(context.Background(), models.FileDescriptor{Name: "empty.txt"}, 5,
		models.UploadOptions{ChunkSize: 1024}, NewBufferSource(nil))
	require.NoError(t, err)

	ev := waitEvent(t, events, models.EventCompleted, id)
	assert.Zero(t, ev.BytesUploaded)
	assert.Empty(t, transport.sentChunks(id))
	assert.True(t, transport.isCompleted(id))
}

func TestEngineBoundsActiveUploads(t *testing.T) {
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	e := newTestEngine(t, transport, nil, 2)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		fd, src := testFile("f.bin", 512)
		id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{ChunkSize: 1024}, src)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// 活跃集立刻被填满到上限，其余排队等待
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.ActiveCount == 2 && snap.QueueLength == 3
	}, 2*time.Second, 10*time.Millisecond)

	// 全程不允许超过上限
	snap := e.Snapshot()
	assert.LessOrEqual(t, snap.ActiveCount, 2)

	close(transport.gate)
	for _, id := range ids {
		waitEvent(t, events, models.EventCompleted, id)
	}
}

func TestEnginePriorityOrder(t *testing.T) {
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	e := newTestEngine(t, transport, nil, 1)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	fdA, srcA := testFile("a.bin", 512)
	idA, err := e.Enqueue(context.Background(), fdA, 5, models.UploadOptions{ChunkSize: 1024}, srcA)
	require.NoError(t, err)

	// A 占住唯一活跃位后再入队 B 和 C
	require.Eventually(t, func() bool {
		return e.Snapshot().ActiveCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	fdB, srcB := testFile("b.bin", 512)
	idB, err := e.Enqueue(context.Background(), fdB, 5, models.UploadOptions{ChunkSize: 1024}, srcB)
	require.NoError(t, err)
	fdC, srcC := testFile("c.bin", 512)
	idC, err := e.Enqueue(context.Background(), fdC, 8, models.UploadOptions{ChunkSize: 1024}, srcC)
	require.NoError(t, err)

	close(transport.gate)

	// 高优先级的 C 插到 B 前面
	var order []string
	deadline := time.After(5 * time.Second)
	for len(order) < 3 {
		select {
		case ev := <-events:
			if ev.Type == models.EventCompleted {
				order = append(order, ev.UploadID)
			}
		case <-deadline:
			t.Fatal("timed out waiting for completions")
		}
	}
	assert.Equal(t, []string{idA, idC, idB}, order)
}

func TestEngineResumeSkipsCompletedChunks(t *testing.T) {
	repo := repositories.NewMemoryResumeRepository()
	ctx := context.Background()
	const id = "resume-1"
	require.NoError(t, repo.RecordChunkComplete(ctx, id, 0, 1024, 5, "r.bin"))
	require.NoError(t, repo.RecordChunkComplete(ctx, id, 2, 1024, 5, "r.bin"))

	transport := newFakeTransport()
	transport.durable = true // 已发送的分片在重启后的会话中仍然有效
	e := newTestEngine(t, transport, repo, 2)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	fd, src := testFile("r.bin", 5*1024)
	got, err := e.Enqueue(ctx, fd, 5, models.UploadOptions{
		ChunkSize:   1024,
		Resumable:   true,
		ResumeToken: id,
	}, src)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	ev := waitEvent(t, events, models.EventCompleted, id)
	// 进度含恢复的分片
	assert.Equal(t, int64(5*1024), ev.BytesUploaded)

	// 已完成的 0 和 2 不会重传
	sent := transport.sentChunks(id)
	assert.ElementsMatch(t, []int{1, 3, 4}, sent)

	// 完成后续传记录被清除
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, repositories.ErrResumeNotFound)
}

func TestEngineResumeResendsAllWhenSessionLost(t *testing.T) {
	repo := repositories.NewMemoryResumeRepository()
	ctx := context.Background()
	const id = "resume-lost"
	require.NoError(t, repo.RecordChunkComplete(ctx, id, 0, 1024, 5, "r.bin"))
	require.NoError(t, repo.RecordChunkComplete(ctx, id, 2, 1024, 5, "r.bin"))

	// 非落盘后端：旧的 multipart 会话随进程重启丢失
	transport := newFakeTransport()
	e := newTestEngine(t, transport, repo, 2)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	fd, src := testFile("r.bin", 5*1024)
	_, err := e.Enqueue(ctx, fd, 5, models.UploadOptions{
		ChunkSize:   1024,
		Resumable:   true,
		ResumeToken: id,
	}, src)
	require.NoError(t, err)

	ev := waitEvent(t, events, models.EventCompleted, id)
	assert.Equal(t, int64(5*1024), ev.BytesUploaded)

	// 记录声称完成的 0 和 2 在新会话里并不存在，
	// 必须全部重传，否则提交的对象会缺这两个区间
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, transport.sentChunks(id))
	assert.True(t, transport.isCompleted(id))
}

func TestEngineQueuedResumedJobReportsRestoredBytes(t *testing.T) {
	repo := repositories.NewMemoryResumeRepository()
	ctx := context.Background()
	const id = "resume-queued"
	require.NoError(t, repo.RecordChunkComplete(ctx, id, 0, 1024, 4, "q.bin"))
	require.NoError(t, repo.RecordChunkComplete(ctx, id, 1, 1024, 4, "q.bin"))

	transport := newFakeTransport()
	transport.durable = true
	transport.gate = make(chan struct{})
	e := newTestEngine(t, transport, repo, 1)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	// 占满唯一的活跃位，让续传任务停在队列里
	fdA, srcA := testFile("hold.bin", 512)
	idA, err := e.Enqueue(ctx, fdA, 9, models.UploadOptions{ChunkSize: 1024}, srcA)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return e.Snapshot().ActiveCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	fd, src := testFile("q.bin", 4*1024)
	require.NoError(t, e.Resume(ctx, id, fd, 5, models.UploadOptions{ChunkSize: 1024}, src))

	// 还没启动，快照已经反映记录里恢复的 2048 字节
	view, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, view.Status)
	assert.Equal(t, int64(2048), view.BytesUploaded)

	close(transport.gate)
	waitEvent(t, events, models.EventCompleted, idA)
	ev := waitEvent(t, events, models.EventCompleted, id)
	assert.Equal(t, int64(4*1024), ev.BytesUploaded)
}

func TestEngineResumeAdoptsRecordedChunkSize(t *testing.T) {
	repo := repositories.NewMemoryResumeRepository()
	ctx := context.Background()
	const id = "resume-stride"
	require.NoError(t, repo.RecordChunkComplete(ctx, id, 0, 1024, 4, "s.bin"))

	transport := newFakeTransport()
	transport.durable = true
	e := newTestEngine(t, transport, repo, 2)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	// 记录按 1024 写入，恢复时请求方给的默认分片大小已变成 2048
	fd, src := testFile("s.bin", 4*1024)
	require.NoError(t, e.Resume(ctx, id, fd, 5, models.UploadOptions{ChunkSize: 2048}, src))

	ev := waitEvent(t, events, models.EventCompleted, id)
	assert.Equal(t, int64(4*1024), ev.BytesUploaded)

	// 分片大小沿用记录的 1024，跳过的区间才能对得上
	assert.ElementsMatch(t, []int{1, 2, 3}, transport.sentChunks(id))
	transport.mu.Lock()
	for idx, payload := range transport.payloads[id] {
		assert.Len(t, payload, 1024, "chunk %d", idx)
	}
	transport.mu.Unlock()
}

func TestEngineResumeRequiresRecord(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), nil, 2)
	fd, src := testFile("r.bin", 1024)
	err := e.Resume(context.Background(), "no-such-upload", fd, 5, models.UploadOptions{ChunkSize: 1024}, src)
	assert.Error(t, err)
}

func TestEngineCancelQueuedJobNeverSends(t *testing.T) {
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	e := newTestEngine(t, transport, nil, 1)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	fdA, srcA := testFile("a.bin", 512)
	idA, err := e.Enqueue(context.Background(), fdA, 5, models.UploadOptions{ChunkSize: 1024}, srcA)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.Snapshot().ActiveCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	fdB, srcB := testFile("b.bin", 512)
	idB, err := e.Enqueue(context.Background(), fdB, 5, models.UploadOptions{ChunkSize: 1024}, srcB)
	require.NoError(t, err)

	// 排队阶段取消同步生效
	assert.True(t, e.Cancel(idB))
	assert.False(t, e.Cancel(idB))
	assert.False(t, e.Cancel("unknown-id"))

	waitEvent(t, events, models.EventCancelled, idB)
	view, err := e.Status(idB)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, view.Status)
	assert.Empty(t, transport.sentChunks(idB))

	close(transport.gate)
	waitEvent(t, events, models.EventCompleted, idA)
}

func TestEngineCancelActiveJobStopsAtChunkBoundary(t *testing.T) {
	transport := newFakeTransport()
	transport.gate = make(chan struct{}, 4)
	e := newTestEngine(t, transport, nil, 1)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	fd, src := testFile("big.bin", 4*1024)
	id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{
		ChunkSize:           1024,
		MaxConcurrentChunks: 1,
	}, src)
	require.NoError(t, err)

	// 第一个分片正在 SendChunk 中阻塞
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&transport.inFlight) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, e.Cancel(id))

	// 放行所有分片：在途的允许完成，新分片不再启动
	for i := 0; i < 4; i++ {
		transport.gate <- struct{}{}
	}

	waitEvent(t, events, models.EventCancelled, id)
	view, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, view.Status)
	assert.Less(t, len(transport.sentChunks(id)), 4)

	// 不可续传的任务取消后会话被释放，不会留下孤儿 multipart 上传
	assert.True(t, transport.isAborted(id))
	assert.False(t, transport.isCompleted(id))
}

func TestEnginePauseThenResume(t *testing.T) {
	repo := repositories.NewMemoryResumeRepository()
	transport := newFakeTransport()
	// 只放行第一个分片，第二个分片在 SendChunk 中阻塞
	transport.gate = make(chan struct{}, 4)
	transport.gate <- struct{}{}
	e := newTestEngine(t, transport, repo, 1)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	ctx := context.Background()
	fd, src := testFile("doc.bin", 4*1024)
	id, err := e.Enqueue(ctx, fd, 5, models.UploadOptions{
		ChunkSize:           1024,
		MaxConcurrentChunks: 1,
		Resumable:           true,
	}, src)
	require.NoError(t, err)

	waitEvent(t, events, models.EventProgress, id)
	require.True(t, e.Pause(id))

	// 放行在途分片，任务在分片边界停下
	for i := 0; i < 3; i++ {
		transport.gate <- struct{}{}
	}
	waitEvent(t, events, models.EventPaused, id)

	// 可续传任务暂停时保留会话，Resume 可以接着用
	assert.False(t, transport.isAborted(id))

	// 续传记录保留了已完成的分片
	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.CompletedChunks)
	doneBefore := len(rec.CompletedChunks)

	// 凭记录恢复，只重传剩余分片
	_, src2 := testFile("doc.bin", 4*1024)
	require.NoError(t, e.Resume(ctx, id, fd, 5, models.UploadOptions{ChunkSize: 1024, MaxConcurrentChunks: 1}, src2))
	waitEvent(t, events, models.EventCompleted, id)

	sent := transport.sentChunks(id)
	seen := make(map[int]bool)
	for _, idx := range sent {
		assert.False(t, seen[idx], "chunk %d sent twice", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, 4)
	assert.GreaterOrEqual(t, doneBefore, 1)

	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, repositories.ErrResumeNotFound)
}

func TestEngineChunkConcurrencyBounded(t *testing.T) {
	transport := newFakeTransport()
	transport.sendDelay = 10 * time.Millisecond
	e := newTestEngine(t, transport, nil, 1)
	events, cancel := e.Events().Subscribe(128)
	defer cancel()

	fd, src := testFile("wide.bin", 12*1024)
	id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{
		ChunkSize:           1024,
		MaxConcurrentChunks: 3,
	}, src)
	require.NoError(t, err)

	waitEvent(t, events, models.EventCompleted, id)
	assert.LessOrEqual(t, atomic.LoadInt32(&transport.maxInFlight), int32(3))
	assert.Len(t, transport.sentChunks(id), 12)
}

func TestEngineTransportErrorFailsJob(t *testing.T) {
	transport := newFakeTransport()
	transport.sendErr = assert.AnError
	e := newTestEngine(t, transport, nil, 2)
	events, cancel := e.Events().Subscribe(16)
	defer cancel()

	fd, src := testFile("bad.bin", 512)
	id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{ChunkSize: 1024}, src)
	require.NoError(t, err)

	ev := waitEvent(t, events, models.EventError, id)
	assert.NotEmpty(t, ev.Error)

	view, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, view.Status)

	// 不可续传的失败任务同样释放传输会话
	assert.True(t, transport.isAborted(id))

	snap := e.AnalyticsSnapshot()
	assert.Equal(t, uint64(1), snap.Failed)
	assert.Zero(t, snap.SuccessRate)
}

func TestEngineCompressedChunksArriveGzipped(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil, 2)
	events, cancel := e.Events().Subscribe(16)
	defer cancel()

	fd, src := testFile("logs.txt", 600)
	raw, err := src.ReadRange(0, 600)
	require.NoError(t, err)

	id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{
		ChunkSize: 1024,
		Compress:  true,
	}, src)
	require.NoError(t, err)
	waitEvent(t, events, models.EventCompleted, id)

	transport.mu.Lock()
	payload := transport.payloads[id][0]
	transport.mu.Unlock()
	require.NotNil(t, payload)

	r, err := gzip.NewReader(bytes.NewReader(payload))
	require.NoError(t, err)
	decompressed, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, raw, decompressed)
}

func TestEngineConcurrencyClampAndRaise(t *testing.T) {
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	e := newTestEngine(t, transport, nil, 1)
	events, cancel := e.Events().Subscribe(64)
	defer cancel()

	assert.Equal(t, 1, e.SetMaxConcurrentUploads(0))
	assert.Equal(t, 10, e.SetMaxConcurrentUploads(50))
	assert.Equal(t, 1, e.SetMaxConcurrentUploads(1))

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		fd, src := testFile("f.bin", 512)
		id, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{ChunkSize: 1024}, src)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.ActiveCount == 1 && snap.QueueLength == 2
	}, 2*time.Second, 10*time.Millisecond)

	// 上调并发后排队中的任务立即被调度
	e.SetMaxConcurrentUploads(3)
	require.Eventually(t, func() bool {
		return e.Snapshot().ActiveCount == 3
	}, 2*time.Second, 10*time.Millisecond)

	close(transport.gate)
	for _, id := range ids {
		waitEvent(t, events, models.EventCompleted, id)
	}
}

func TestEngineRejectsDuplicateToken(t *testing.T) {
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	defer close(transport.gate)
	e := newTestEngine(t, transport, nil, 1)

	fd, src := testFile("dup.bin", 512)
	opts := models.UploadOptions{ChunkSize: 1024, Resumable: true, ResumeToken: "dup-token"}
	_, err := e.Enqueue(context.Background(), fd, 5, opts, src)
	require.NoError(t, err)

	_, src2 := testFile("dup.bin", 512)
	_, err = e.Enqueue(context.Background(), fd, 5, opts, src2)
	assert.Error(t, err)
}

func TestEngineCloseRejectsNewJobs(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), nil, 2)
	e.Close()

	fd, src := testFile("late.bin", 512)
	_, err := e.Enqueue(context.Background(), fd, 5, models.UploadOptions{ChunkSize: 1024}, src)
	assert.Error(t, err)
}

func TestEngineStatusUnknownJob(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), nil, 2)
	_, err := e.Status("ghost")
	assert.Error(t, err)
}
