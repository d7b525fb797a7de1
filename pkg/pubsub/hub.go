// Package pubsub 进程内事件广播
package pubsub

import "sync"

// Hub 多订阅者广播，订阅方消费过慢时丢弃事件，发布方永不阻塞
type Hub[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]chan T
}

// Subscribe 返回事件通道与取消函数，取消后通道关闭
func (h *Hub[T]) Subscribe(buf int) (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]chan T)
	}
	id := h.next
	h.next++
	ch := make(chan T, max(1, buf))
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Publish 非阻塞投递
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close 关闭全部订阅
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Len 当前订阅数
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
