package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/3Eeeecho/go-uploadhub/internal/config"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type minioSession struct {
	objectName string
	uploadID   string // MinIO 侧的 multipart uploadID

	mu    sync.Mutex
	parts map[int]minio.CompletePart
}

// MinIOTransport 把分片映射到 MinIO 的 multipart 上传
// 引擎的 chunkIndex 是 0 基，MinIO 的 partNumber 是 1 基
type MinIOTransport struct {
	core *minio.Core
	cfg  *config.MinIOConfig

	mu       sync.Mutex
	sessions map[string]*minioSession
}

// NewMinIOTransport 创建并返回一个 MinIOTransport 实例
func NewMinIOTransport(cfg *config.MinIOConfig) (*MinIOTransport, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	}

	core, err := minio.NewCore(cfg.Endpoint, opts)
	if err != nil {
		logger.Error("初始化 MinIO Core 失败", zap.Error(err))
		return nil, fmt.Errorf("无法初始化 MinIO Core: %w", err)
	}

	logger.Info("MinIO 传输后端初始化成功", zap.String("endpoint", cfg.Endpoint))
	return &MinIOTransport{
		core:     core,
		cfg:      cfg,
		sessions: make(map[string]*minioSession),
	}, nil
}

// Open 建立或复用一次 multipart 会话
// 会话标识和各分块的 ETag 只保存在进程内存中，进程重启后无法接管
// 旧的 multipart 上传，所以只有内存中已有会话时才返回 resumed=true
func (t *MinIOTransport) Open(ctx context.Context, uploadID, filename string, size, chunkSize int64) (bool, error) {
	t.mu.Lock()
	if _, ok := t.sessions[uploadID]; ok {
		t.mu.Unlock()
		return true, nil
	}
	t.mu.Unlock()

	obj := objectName(uploadID, filename)
	minioUploadID, err := t.core.NewMultipartUpload(ctx, t.cfg.BucketName, obj, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return false, fmt.Errorf("MinIO 初始化分块上传失败: %w", err)
	}

	t.mu.Lock()
	t.sessions[uploadID] = &minioSession{
		objectName: obj,
		uploadID:   minioUploadID,
		parts:      make(map[int]minio.CompletePart),
	}
	t.mu.Unlock()

	logger.Info("MinIO 分块上传会话已建立",
		zap.String("uploadID", uploadID),
		zap.String("object", obj))
	return false, nil
}

func (t *MinIOTransport) session(uploadID string) (*minioSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[uploadID]
	if !ok {
		return nil, fmt.Errorf("MinIO 传输会话不存在: %s", uploadID)
	}
	return s, nil
}

func (t *MinIOTransport) SendChunk(ctx context.Context, uploadID string, chunkIndex int, data []byte) error {
	s, err := t.session(uploadID)
	if err != nil {
		return err
	}

	partNumber := chunkIndex + 1
	info, err := t.core.PutObjectPart(ctx, t.cfg.BucketName, s.objectName, s.uploadID,
		partNumber, bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return fmt.Errorf("MinIO 上传分块失败: %w", err)
	}

	s.mu.Lock()
	s.parts[partNumber] = minio.CompletePart{PartNumber: info.PartNumber, ETag: info.ETag}
	s.mu.Unlock()
	return nil
}

func (t *MinIOTransport) Complete(ctx context.Context, uploadID string) error {
	s, err := t.session(uploadID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	completeParts := make([]minio.CompletePart, 0, len(s.parts))
	for _, p := range s.parts {
		completeParts = append(completeParts, p)
	}
	s.mu.Unlock()
	sort.Slice(completeParts, func(i, j int) bool {
		return completeParts[i].PartNumber < completeParts[j].PartNumber
	})

	if _, err := t.core.CompleteMultipartUpload(ctx, t.cfg.BucketName, s.objectName, s.uploadID, completeParts, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("MinIO 完成分块上传失败: %w", err)
	}

	t.mu.Lock()
	delete(t.sessions, uploadID)
	t.mu.Unlock()
	return nil
}

func (t *MinIOTransport) Abort(ctx context.Context, uploadID string) error {
	s, err := t.session(uploadID)
	if err != nil {
		return nil // 会话不存在时无事可做
	}
	t.mu.Lock()
	delete(t.sessions, uploadID)
	t.mu.Unlock()
	return t.core.AbortMultipartUpload(ctx, t.cfg.BucketName, s.objectName, s.uploadID)
}
