package ws

import (
	"log/slog"
	"sync"

	"coursechat/internal/models"
)

const listenerBuffer = 100

// Hub fans socket frames out. The primary handler sees every frame
// synchronously; listeners get a buffered copy and miss frames while their
// buffer is full.
type Hub struct {
	primary   Handler
	listeners map[string]chan models.SocketEvent

	mu sync.RWMutex
}

func NewHub(primary Handler) *Hub {
	return &Hub{
		primary:   primary,
		listeners: make(map[string]chan models.SocketEvent),
	}
}

// Join registers a listener. Joining twice under the same name replaces the
// previous channel, which is closed.
func (h *Hub) Join(name string) chan models.SocketEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.listeners[name]; ok {
		close(old)
	}
	ch := make(chan models.SocketEvent, listenerBuffer)
	h.listeners[name] = ch
	return ch
}

func (h *Hub) Leave(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.listeners[name]; ok {
		close(ch)
		delete(h.listeners, name)
	}
}

func (h *Hub) Handle(event models.SocketEvent) {
	if h.primary != nil {
		h.primary.Handle(event)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for name, ch := range h.listeners {
		select {
		case ch <- event:
		default:
			slog.Warn("listener buffer full, dropping event", "listener", name, "event", event.Event)
		}
	}
}
