package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"go.uber.org/zap"
)

type localSession struct {
	file      *os.File
	chunkSize int64
}

// LocalTransport 把分片按偏移写入本地文件，用于单机部署和联调
// 分片乱序到达也没有问题，WriteAt 保证各自落在正确的区间
type LocalTransport struct {
	basePath string

	mu       sync.Mutex
	sessions map[string]*localSession
}

// NewLocalTransport 创建本地落盘传输后端
func NewLocalTransport(basePath string) (*LocalTransport, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("创建本地存储目录失败: %w", err)
	}
	return &LocalTransport{
		basePath: basePath,
		sessions: make(map[string]*localSession),
	}, nil
}

// Open 建立或复用一次落盘会话
// 已写入的分片直接留在目标文件里，所以目标文件已存在时返回
// resumed=true，重启后的进程也能接着写剩余区间
func (t *LocalTransport) Open(ctx context.Context, uploadID, filename string, size, chunkSize int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[uploadID]; ok {
		return true, nil
	}

	dir := filepath.Join(t.basePath, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("创建上传目录失败: %w", err)
	}
	path := filepath.Join(dir, filename)
	_, statErr := os.Stat(path)
	resumed := statErr == nil

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("打开本地目标文件失败: %w", err)
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return false, fmt.Errorf("预分配本地目标文件失败: %w", err)
		}
	}
	t.sessions[uploadID] = &localSession{file: f, chunkSize: chunkSize}
	return resumed, nil
}

func (t *LocalTransport) session(uploadID string) (*localSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[uploadID]
	if !ok {
		return nil, fmt.Errorf("本地传输会话不存在: %s", uploadID)
	}
	return s, nil
}

func (t *LocalTransport) SendChunk(ctx context.Context, uploadID string, chunkIndex int, data []byte) error {
	s, err := t.session(uploadID)
	if err != nil {
		return err
	}
	// 分片等长（最后一片除外），偏移由 chunkIndex * chunkSize 决定
	offset := int64(chunkIndex) * s.chunkSize
	if _, err := s.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("写入本地分片失败: %w", err)
	}
	return nil
}

func (t *LocalTransport) Complete(ctx context.Context, uploadID string) error {
	t.mu.Lock()
	s, ok := t.sessions[uploadID]
	delete(t.sessions, uploadID)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("本地传输会话不存在: %s", uploadID)
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("刷盘失败: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("关闭本地目标文件失败: %w", err)
	}
	logger.Info("本地上传完成", zap.String("uploadID", uploadID))
	return nil
}

func (t *LocalTransport) Abort(ctx context.Context, uploadID string) error {
	t.mu.Lock()
	s, ok := t.sessions[uploadID]
	delete(t.sessions, uploadID)
	t.mu.Unlock()
	if ok {
		s.file.Close()
	}
	return os.RemoveAll(filepath.Join(t.basePath, uploadID))
}
