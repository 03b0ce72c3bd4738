// Package broadcast 实时投递：所有新消息推送到同一个共享主题，由监听者自行过滤
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/localhunt/internal/datamodels/chat"
	"github.com/example/localhunt/internal/service"
)

// Filter 监听者侧过滤条件，nil 表示接收全部
type Filter func(m *chat.Message) bool

// PartyFilter 只保留 p 参与的会话
func PartyFilter(p chat.Party) Filter {
	return func(m *chat.Message) bool {
		return m.Involves(p)
	}
}

// Subscription 一个在线监听者
type Subscription struct {
	ID string
	C  <-chan *chat.Message

	ch     chan *chat.Message
	filter Filter
}

// Hub 进程内扇出。Publish 从不阻塞：监听者缓冲区满时直接丢弃，最多投递一次，不做回放
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
}

// NewHub 创建 Hub，buffer 为每个监听者的缓冲区大小
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe 注册监听者，之后发布的消息才会收到
func (h *Hub) Subscribe(filter Filter) *Subscription {
	ch := make(chan *chat.Message, h.buffer)
	s := &Subscription{
		ID:     uuid.NewString(),
		C:      ch,
		ch:     ch,
		filter: filter,
	}

	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()

	service.GetMonitor().ListenerConnected()
	return s
}

// Unsubscribe 注销并关闭通道，可重复调用
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s.ID]
	if ok {
		delete(h.subs, s.ID)
		close(s.ch)
	}
	h.mu.Unlock()

	if ok {
		service.GetMonitor().ListenerDisconnected()
	}
}

// Publish 推送给所有匹配的监听者
func (h *Hub) Publish(_ context.Context, m *chat.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if s.filter != nil && !s.filter(m) {
			continue
		}
		select {
		case s.ch <- m:
		default:
			service.GetMonitor().RecordBroadcastDropped()
		}
	}
	return nil
}

// Len 当前监听者数量
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
