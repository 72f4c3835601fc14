package store

import (
	"context"
	"sync"
	"sync/atomic"

	"roomchat/pkg/domain"
)

type subscription struct {
	mu     sync.Mutex
	closed atomic.Bool
	fn     Listener
}

func (s *subscription) deliver(rooms []domain.ChatRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.fn(cloneRooms(rooms))
}

// hub fans a room collection out to registered listeners.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscription
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscription)}
}

// add registers fn and returns the subscription with its dispose func.
// dispose waits for an in-flight delivery to finish, so it must not be
// called from inside fn itself.
func (h *hub) add(ctx context.Context, fn Listener) (*subscription, func()) {
	sub := &subscription{fn: fn}
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			sub.closed.Store(true)
			sub.mu.Lock()
			sub.mu.Unlock()
		})
	}
	if ctx == nil {
		return sub, dispose
	}
	stop := context.AfterFunc(ctx, dispose)
	return sub, func() {
		stop()
		dispose()
	}
}

func (h *hub) broadcast(rooms []domain.ChatRoom) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(rooms)
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscription)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.closed.Store(true)
	}
}
