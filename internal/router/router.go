package router

import (
	"net/http"

	"github.com/3Eeeecho/go-uploadhub/internal/handlers"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// InitRouter 初始化 Gin 引擎并注册所有路由
func InitRouter(transferHandler *handlers.TransferHandler, eventHandler *handlers.EventStreamHandler) *gin.Engine {
	router := gin.Default() // 默认引擎自带 Logger 和 Recovery 中间件

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// WebSocket 事件流
	router.GET("/ws/events", eventHandler.Stream)

	v1 := router.Group("/api/v1")
	{
		transfers := v1.Group("/transfers")
		{
			transfers.POST("", transferHandler.Enqueue)
			transfers.GET("", transferHandler.Snapshot)
			transfers.GET("/:id", transferHandler.Status)
			transfers.POST("/:id/cancel", transferHandler.Cancel)
			transfers.POST("/:id/pause", transferHandler.Pause)
			transfers.POST("/:id/resume", transferHandler.Resume)
		}

		settings := v1.Group("/settings")
		{
			settings.PUT("/concurrency", transferHandler.SetConcurrency)
			settings.PUT("/throttle", transferHandler.SetThrottle)
		}

		v1.GET("/analytics", transferHandler.Analytics)
	}

	router.NoRoute(func(c *gin.Context) {
		xerr.Error(c, http.StatusNotFound, xerr.NotFoundCode, "route not found")
	})

	return router
}
