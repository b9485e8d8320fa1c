package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache 缓存通用接口
// 续传记录仓库只依赖这里声明的操作，便于替换实现
type Cache interface {
	// Set 在缓存中设置一个值，并指定过期时间
	// value 应该是一个可以被 JSON 封送的结构体或指向结构体的指针
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Get 从缓存中检索一个值，并将其解编组到目标接口
	// target 应该是一个指针，指向希望解编组成的类型
	Get(ctx context.Context, key string, target any) error

	// Del 删除一个或多个 key
	Del(ctx context.Context, keys ...string) error

	// Exists 检查 key 是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// 哈希操作函数，续传记录按分片索引存入 Hash
	HSet(ctx context.Context, key string, field string, value any) error
	HMSet(ctx context.Context, key string, fields map[string]any) error
	HGet(ctx context.Context, key string, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// GenerateResumeMetaKey 返回某个上传任务续传元信息的缓存键
func GenerateResumeMetaKey(uploadID string) string {
	return fmt.Sprintf("resume:%s:meta", uploadID)
}

// GenerateResumeChunksKey 返回某个上传任务已完成分片集合的缓存键
func GenerateResumeChunksKey(uploadID string) string {
	return fmt.Sprintf("resume:%s:chunks", uploadID)
}
