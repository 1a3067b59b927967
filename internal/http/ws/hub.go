// README: WebSocket hub pushing assignment offers to connected drivers.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"tram/internal/modules/dispatch"
	"tram/internal/types"
)

// session serializes writes to one driver connection.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub tracks driver connections and implements the matcher's notifier.
// Delivery is best-effort: a driver without a live session simply gets no
// push, the assignment itself already committed.
type Hub struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[types.ID]*session
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, sessions: make(map[types.ID]*session)}
}

// Attach registers the connection and replaces any previous session for the
// same driver.
func (h *Hub) Attach(driverID types.ID, conn *websocket.Conn) {
	h.mu.Lock()
	if old, ok := h.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	h.sessions[driverID] = &session{conn: conn}
	h.mu.Unlock()
}

func (h *Hub) Detach(driverID types.ID, conn *websocket.Conn) {
	h.mu.Lock()
	if cur, ok := h.sessions[driverID]; ok && cur.conn == conn {
		delete(h.sessions, driverID)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) NotifyAssignment(_ context.Context, driverID types.ID, offer dispatch.Offer) error {
	h.mu.RLock()
	s, ok := h.sessions[driverID]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("no ws session for driver", "driver_id", driverID)
		return nil
	}
	if err := s.send(offer); err != nil {
		h.log.Warn("ws send failed", "driver_id", driverID, "err", err)
		return err
	}
	return nil
}
