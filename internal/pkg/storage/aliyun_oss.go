package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/3Eeeecho/go-uploadhub/internal/config"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"
)

type ossSession struct {
	imur oss.InitiateMultipartUploadResult

	mu    sync.Mutex
	parts []oss.UploadPart
}

// AliyunOSSTransport 把分片映射到阿里云OSS的分片上传
type AliyunOSSTransport struct {
	bucket *oss.Bucket
	cfg    *config.AliyunOSSConfig

	mu       sync.Mutex
	sessions map[string]*ossSession
}

// NewAliyunOSSTransport 创建并返回一个 AliyunOSSTransport 实例
func NewAliyunOSSTransport(cfg *config.AliyunOSSConfig) (*AliyunOSSTransport, error) {
	// OSS Endpoint 应该包含 http:// 或 https:// 前缀
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logger.Error("初始化阿里云OSS客户端失败", zap.Error(err))
		return nil, fmt.Errorf("无法初始化阿里云OSS客户端: %w", err)
	}
	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}

	logger.Info("阿里云OSS传输后端初始化成功", zap.String("endpoint", cfg.Endpoint))
	return &AliyunOSSTransport{
		bucket:   bucket,
		cfg:      cfg,
		sessions: make(map[string]*ossSession),
	}, nil
}

// Open 建立或复用一次分片上传会话
// imur 和各分片的 ETag 只在进程内存中，重启后无法接管旧会话，
// 只有内存中已有会话时才返回 resumed=true
func (t *AliyunOSSTransport) Open(ctx context.Context, uploadID, filename string, size, chunkSize int64) (bool, error) {
	t.mu.Lock()
	if _, ok := t.sessions[uploadID]; ok {
		t.mu.Unlock()
		return true, nil
	}
	t.mu.Unlock()

	imur, err := t.bucket.InitiateMultipartUpload(objectName(uploadID, filename))
	if err != nil {
		return false, fmt.Errorf("阿里云OSS初始化分片上传失败: %w", err)
	}

	t.mu.Lock()
	t.sessions[uploadID] = &ossSession{imur: imur}
	t.mu.Unlock()
	return false, nil
}

func (t *AliyunOSSTransport) session(uploadID string) (*ossSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[uploadID]
	if !ok {
		return nil, fmt.Errorf("阿里云OSS传输会话不存在: %s", uploadID)
	}
	return s, nil
}

func (t *AliyunOSSTransport) SendChunk(ctx context.Context, uploadID string, chunkIndex int, data []byte) error {
	s, err := t.session(uploadID)
	if err != nil {
		return err
	}

	part, err := t.bucket.UploadPart(s.imur, bytes.NewReader(data), int64(len(data)), chunkIndex+1)
	if err != nil {
		return fmt.Errorf("阿里云OSS上传分片失败: %w", err)
	}

	s.mu.Lock()
	s.parts = append(s.parts, part)
	s.mu.Unlock()
	return nil
}

func (t *AliyunOSSTransport) Complete(ctx context.Context, uploadID string) error {
	s, err := t.session(uploadID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	parts := make([]oss.UploadPart, len(s.parts))
	copy(parts, s.parts)
	s.mu.Unlock()
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if _, err := t.bucket.CompleteMultipartUpload(s.imur, parts); err != nil {
		return fmt.Errorf("阿里云OSS完成分片上传失败: %w", err)
	}

	t.mu.Lock()
	delete(t.sessions, uploadID)
	t.mu.Unlock()
	return nil
}

func (t *AliyunOSSTransport) Abort(ctx context.Context, uploadID string) error {
	s, err := t.session(uploadID)
	if err != nil {
		return nil
	}
	t.mu.Lock()
	delete(t.sessions, uploadID)
	t.mu.Unlock()
	if err := t.bucket.AbortMultipartUpload(s.imur); err != nil {
		return fmt.Errorf("阿里云OSS中止分片上传失败: %w", err)
	}
	return nil
}
