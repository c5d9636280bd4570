package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/simulant-labs/simulant/internal/logging"
)

// wsConn is one subscriber connection. Writes are serialized because the
// hub's broadcast goroutines and the handler's keepalive loop both write.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub fans run events out to websocket subscribers. It implements the
// orchestrator's Broadcaster contract: delivery is best-effort, a dead or
// missing subscriber never affects the run.
type Hub struct {
	logger logging.Logger

	mu   sync.Mutex
	subs map[string]map[*wsConn]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewStdoutLogger("hub")
	}
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[*wsConn]struct{}),
	}
}

func (h *Hub) subscribe(runID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*wsConn]struct{})
	}
	h.subs[runID][c] = struct{}{}
}

func (h *Hub) unsubscribe(runID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns := h.subs[runID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.subs, runID)
		}
	}
}

// Broadcast sends event to every subscriber of runID. Connections that fail
// to accept the write are dropped.
func (h *Hub) Broadcast(runID string, event map[string]any) {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.subs[runID]))
	for c := range h.subs[runID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(event); err != nil {
			h.logger.Debug("dropping websocket subscriber",
				logging.Field{Key: "run_id", Value: runID},
				logging.Field{Key: "error", Value: err.Error()})
			h.unsubscribe(runID, c)
			_ = c.conn.Close()
		}
	}
}
