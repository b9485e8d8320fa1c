package storage

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-uploadhub/internal/config"
)

// Transport 抽象了分片字节的实际发送，引擎不关心线上格式
// 同一个 uploadID 的 Open/SendChunk/Complete 构成一次传输会话:
//   - Open 在任务启动时调用，幂等，已存在的会话被复用；
//     返回值 resumed 表示之前发送过的分片在该会话中仍然有效，
//     为 false 时调用方必须重传所有分片
//   - SendChunk 并发安全，分片可以乱序到达
//   - Complete 在所有分片送达后调用，Abort 在任务放弃时调用
type Transport interface {
	Open(ctx context.Context, uploadID, filename string, size, chunkSize int64) (resumed bool, err error)
	SendChunk(ctx context.Context, uploadID string, chunkIndex int, data []byte) error
	Complete(ctx context.Context, uploadID string) error
	Abort(ctx context.Context, uploadID string) error
}

// NewTransport 根据配置选择传输后端
func NewTransport(cfg *config.Config) (Transport, error) {
	switch cfg.Storage.Type {
	case "minio":
		return NewMinIOTransport(&cfg.MinIO)
	case "aliyun_oss":
		return NewAliyunOSSTransport(&cfg.AliyunOSS)
	case "local":
		return NewLocalTransport(cfg.Storage.LocalBasePath)
	default:
		return nil, fmt.Errorf("storage: 不支持的传输后端类型: %s", cfg.Storage.Type)
	}
}

// objectName 统一拼接存储后端使用的对象名
func objectName(uploadID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s", uploadID, filename)
}
