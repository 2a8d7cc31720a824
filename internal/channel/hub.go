package channel

import (
	"context"
	"fmt"
	"sync"
)

const defaultBuffer = 64

// Hub 是进程内的 Broker，适用于单实例部署与测试。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSub]struct{}
	buffer int
}

type hubSub struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[string]map[*hubSub]struct{}), buffer: buffer}
}

func (h *Hub) Publish(_ context.Context, connID string, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.subs[connID]
	if len(set) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSubscriber, connID)
	}
	var dropped bool
	for s := range set {
		select {
		case s.ch <- msg:
		default:
			dropped = true
		}
	}
	if dropped {
		return fmt.Errorf("%w: %s", ErrSlowConsumer, connID)
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, connID string) (<-chan Message, func(), error) {
	s := &hubSub{ch: make(chan Message, h.buffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.subs[connID] == nil {
		h.subs[connID] = make(map[*hubSub]struct{})
	}
	h.subs[connID][s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[connID], s)
			if len(h.subs[connID]) == 0 {
				delete(h.subs, connID)
			}
			h.mu.Unlock()
			close(s.ch)
			close(s.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-s.done:
		}
	}()
	return s.ch, cancel, nil
}

// Connections 返回当前订阅的连接数。
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
