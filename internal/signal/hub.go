package signal

import (
	"sync"

	"go.uber.org/atomic"
)

// Hub indexes the live sessions of this instance by connection id.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	live     atomic.Int64
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exist := h.sessions[s.ID]; !exist {
		h.live.Inc()
	}
	h.sessions[s.ID] = s
}

func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exist := h.sessions[connectionID]; exist {
		delete(h.sessions, connectionID)
		h.live.Dec()
	}
}

func (h *Hub) Get(connectionID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, exist := h.sessions[connectionID]
	return s, exist
}

func (h *Hub) Len() int64 {
	return h.live.Load()
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*Session)}
}
