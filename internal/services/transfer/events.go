package transfer

import (
	"sync"
	"time"

	"github.com/3Eeeecho/go-uploadhub/internal/models"
)

// EventBus 是类型化的事件总线，替代全局监听器注册
// 每个订阅者有独立的带缓冲通道，发布方从不阻塞：
// 订阅者消费不及时时丢弃事件，慢消费者不能拖住调度路径
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan models.TransferEvent
	nextID int
}

// NewEventBus 创建事件总线
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan models.TransferEvent)}
}

// Subscribe 注册一个订阅者，返回事件通道和取消函数
// buffer 是通道缓冲大小，进度事件密集时建议 >= 64
func (b *EventBus) Subscribe(buffer int) (<-chan models.TransferEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.TransferEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish 向所有订阅者广播事件，非阻塞
func (b *EventBus) Publish(ev models.TransferEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// 订阅者跟不上就丢弃，保证发布方不被拖住
		}
	}
}

// Close 关闭所有订阅通道
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
