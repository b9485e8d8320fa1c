package mq

import (
	"context"
	"encoding/json"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
	"github.com/3Eeeecho/go-uploadhub/internal/pkg/logger"
	"go.uber.org/zap"
)

// EventPublisher 把引擎事件流转发到 RabbitMQ，供上游的进度上报服务消费
type EventPublisher struct {
	client *RabbitMQClient
	queue  string
}

// NewEventPublisher 声明事件队列并返回发布器
func NewEventPublisher(client *RabbitMQClient, queueName string) (*EventPublisher, error) {
	if _, err := client.DeclareQueue(queueName); err != nil {
		return nil, err
	}
	return &EventPublisher{client: client, queue: queueName}, nil
}

// Run 消费事件通道直到通道关闭或 ctx 取消
// 发布失败只记录告警，事件流不反压引擎
func (p *EventPublisher) Run(ctx context.Context, events <-chan models.TransferEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				logger.Error("Failed to marshal transfer event", zap.Error(err))
				continue
			}
			if err := p.client.Publish(p.queue, body); err != nil {
				logger.Warn("Failed to publish transfer event",
					zap.String("uploadID", ev.UploadID),
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}
