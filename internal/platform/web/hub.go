package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dontdude/qdoas/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one websocket connection watching a session. Only its writer goroutine
// writes to conn.
type client struct {
	session string
	conn    *websocket.Conn
	send    chan []byte
}

// Hub fans response batches out to the websocket clients watching each session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[string]map[*client]struct{}), logger: logger}
}

// Clients returns the number of connections watching session.
func (h *Hub) Clients(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[session])
}

// Run delivers every batch read from batches until ctx is done or batches closes.
func (h *Hub) Run(ctx context.Context, batches <-chan domain.ResponseBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			h.Deliver(b)
		}
	}
}

// Deliver queues batch for every client of its session. A client whose buffer is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Deliver(batch domain.ResponseBatch) {
	h.mu.RLock()
	clients := h.sessions[batch.SessionID]
	if len(clients) == 0 {
		h.mu.RUnlock()
		return
	}
	data, err := json.Marshal(batch)
	if err != nil {
		h.mu.RUnlock()
		h.logger.Error("Failed to marshal batch", "session", batch.SessionID, "error", err)
		return
	}
	var slow []*client
	for c := range clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow websocket client", "session", c.session, "remoteAddr", c.conn.RemoteAddr())
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.session]
	if !ok {
		set = make(map[*client]struct{})
		h.sessions[c.session] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[c.session]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.sessions, c.session)
	}
}

// ServeWS upgrades the connection and streams the batches of the session named by the
// session_id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session_id")
	if session == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{session: session, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	h.logger.Info("Client connected via WebSocket", "session", session, "remoteAddr", conn.RemoteAddr())

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.logger.Info("Client disconnected", "session", c.session)
		h.unregister(c)
		c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("Failed to write to websocket", "session", c.session, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
