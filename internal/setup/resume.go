package setup

import (
	"fmt"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/config"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/cache"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadhub/internal/repositories"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResumeBackends 持有按配置初始化的续传后端连接
type ResumeBackends struct {
	Redis *redis.Client
	DB    *gorm.DB
}

// InitResumeRepository 按配置选择断点续传记录的存储后端
func InitResumeRepository(cfg *config.Config) (repositories.ResumeRepository, *ResumeBackends, error) {
	backends := &ResumeBackends{}

	switch cfg.Engine.ResumeBackend {
	case "redis":
		client, err := InitRedis(&cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		backends.Redis = client
		ttl := time.Duration(cfg.Engine.ResumeTTLHours) * time.Hour
		logger.Info("Using Redis resume backend", zap.Duration("ttl", ttl))
		return repositories.NewRedisResumeRepository(cache.NewRedisCache(client), ttl), backends, nil

	case "mysql":
		db, err := InitMySQL(&cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		backends.DB = db
		logger.Info("Using MySQL resume backend")
		return repositories.NewMySQLResumeRepository(db), backends, nil

	case "memory":
		logger.Info("Using in-memory resume backend, records will not survive restart")
		return repositories.NewMemoryResumeRepository(), backends, nil

	default:
		return nil, nil, fmt.Errorf("setup: unknown resume backend %q", cfg.Engine.ResumeBackend)
	}
}

// Close 释放已初始化的后端连接
func (b *ResumeBackends) Close() {
	if b == nil {
		return
	}
	CloseRedis(b.Redis)
	CloseMySQL(b.DB)
}
