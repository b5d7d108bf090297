package ws

import (
	"sync"

	"facecam-server/internal/utils"
)

// Hub tracks the active websocket sessions for a transport instance.
type Hub struct {
	logger   *utils.Logger
	sessions sync.Map // map[string]*Session
}

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		logger: logger,
	}
}

// Register adds session and reports false when its id is already taken.
func (h *Hub) Register(session *Session) bool {
	if session == nil {
		return false
	}
	_, loaded := h.sessions.LoadOrStore(session.ID(), session)
	return !loaded
}

// Unregister removes session only if it is still the one stored under its id.
func (h *Hub) Unregister(session *Session) {
	if session == nil {
		return
	}
	h.sessions.CompareAndDelete(session.ID(), session)
}

// CloseAll terminates all active sessions and waits for their shutdown.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
	h.logger.InfoTag("WebSocket", "all sessions closed: %v", reason)
}

// Count returns the number of active sessions.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}
