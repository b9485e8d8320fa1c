package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/config"
	"github.com/3Eeeecho/go-uploadhub/internal/handlers"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/mq"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/storage"
	"github.com/3Eeeecho/go-uploadhub/internal/router"
	"github.com/3Eeeecho/go-uploadhub/internal/services/transfer"
	"github.com/3Eeeecho/go-uploadhub/internal/setup"
	"go.uber.org/zap"
)

const analyticsSampleInterval = 10 * time.Second

// Server 聚合所有组件，负责启动与优雅关机
type Server struct {
	httpServer     *http.Server
	engine         *transfer.Engine
	backends       *setup.ResumeBackends
	rabbitMQClient *mq.RabbitMQClient

	// 后台协程的生命周期由这个 cancel 控制
	bgCancel context.CancelFunc
}

// NewServer 按依赖顺序装配整个应用
func NewServer(cfg *config.Config) (*Server, error) {
	// 断点续传后端
	resumeRepo, backends, err := setup.InitResumeRepository(cfg)
	if err != nil {
		return nil, err
	}

	// 传输后端
	transport, err := storage.NewTransport(cfg)
	if err != nil {
		backends.Close()
		return nil, err
	}

	// 带宽限速器
	maxBps, err := config.ParseByteSize(cfg.Throttle.MaxBytesPerSecond)
	if err != nil {
		backends.Close()
		return nil, fmt.Errorf("server: parse throttle bandwidth: %w", err)
	}
	throttle, err := transfer.NewThrottle(transfer.ThrottleSettings{
		MaxBytesPerSecond: maxBps,
		Adaptive:          cfg.Throttle.Adaptive,
		QuietStartHour:    cfg.Throttle.QuietStartHour,
		QuietEndHour:      cfg.Throttle.QuietEndHour,
		QuietFactor:       cfg.Throttle.QuietFactor,
	})
	if err != nil {
		backends.Close()
		return nil, err
	}

	// 上传引擎
	engine := transfer.NewEngine(transfer.EngineDeps{
		Transport: transport,
		Resume:    resumeRepo,
		Throttle:  throttle,
		Bus:       transfer.NewEventBus(),
		Analytics: transfer.NewAnalytics(),
	}, cfg.Engine.MaxConcurrentUploads)

	bgCtx, bgCancel := context.WithCancel(context.Background())

	// 统计采样协程
	go transfer.RunSampler(bgCtx, engine, analyticsSampleInterval)

	// 可选的 RabbitMQ 事件发布
	var rabbitMQClient *mq.RabbitMQClient
	if cfg.RabbitMQ.EventQueue != "" {
		rabbitMQClient, err = mq.NewRabbitMQClient(cfg.RabbitMQ.URL)
		if err != nil {
			bgCancel()
			backends.Close()
			return nil, err
		}
		publisher, err := mq.NewEventPublisher(rabbitMQClient, cfg.RabbitMQ.EventQueue)
		if err != nil {
			bgCancel()
			rabbitMQClient.Close()
			backends.Close()
			return nil, err
		}
		events, cancelSub := engine.Events().Subscribe(256)
		go func() {
			defer cancelSub()
			publisher.Run(bgCtx, events)
		}()
		logger.Info("Publishing transfer events to RabbitMQ", zap.String("queue", cfg.RabbitMQ.EventQueue))
	}

	// 初始化 Handlers
	transferHandler := handlers.NewTransferHandler(engine, cfg)
	eventHandler := handlers.NewEventStreamHandler(engine)

	// 初始化 Gin 引擎和注册路由
	ginEngine := router.InitRouter(transferHandler, eventHandler)

	addr := ":" + cfg.Server.Port
	logger.Info(fmt.Sprintf("Server is running on %s", addr))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: ginEngine,
	}

	return &Server{
		httpServer:     httpServer,
		engine:         engine,
		backends:       backends,
		rabbitMQClient: rabbitMQClient,
		bgCancel:       bgCancel,
	}, nil
}

// Run 启动 HTTP 服务器并处理优雅关机
func (s *Server) Run(ctx context.Context, stopChan chan os.Signal) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 等待停止信号
	<-stopChan
	logger.Info("Shutting down server...")

	// 先停止接收新请求
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	// 再关闭引擎，等待活跃任务落到终态
	s.engine.Close()
	s.bgCancel()

	if s.rabbitMQClient != nil {
		s.rabbitMQClient.Close()
	}
	s.backends.Close()

	logger.Info("Server exited gracefully")
}
