package handlers

import (
	"net/http"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadhub/internal/services/transfer"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	// 每个连接的事件缓冲，写入慢的客户端会丢弃超出部分
	wsEventBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventStreamHandler 以 WebSocket 推送引擎事件流
type EventStreamHandler struct {
	engine *transfer.Engine
}

// NewEventStreamHandler 创建事件流处理器
func NewEventStreamHandler(engine *transfer.Engine) *EventStreamHandler {
	return &EventStreamHandler{engine: engine}
}

// Stream 把订阅到的事件作为 JSON 帧写给客户端，连接断开时取消订阅
func (h *EventStreamHandler) Stream(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.engine.Events().Subscribe(wsEventBuffer)
	defer cancel()

	// 读循环只用于感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed, closing", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
