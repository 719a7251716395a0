// Package statuspush rebroadcasts uievents.Event over WebSocket to any
// number of read-only viewers, adapted from the reference chat Hub down to
// a pure fan-out: viewers never send anything the hub acts on besides pings.
package statuspush

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ngoclaw/agentwatch/internal/uievents"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON shape pushed to viewers.
type wireEvent struct {
	Kind            string `json:"kind"`
	Line            string `json:"line,omitempty"`
	IterationNumber int    `json:"iteration_number,omitempty"`
	VerdictAction   string `json:"verdict_action,omitempty"`
	VerdictReason   string `json:"verdict_reason,omitempty"`
	RetryCount      int    `json:"retry_count,omitempty"`
	Status          string `json:"status,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

func toWire(e uievents.Event) wireEvent {
	w := wireEvent{Kind: string(e.Kind), Timestamp: time.Now().Unix()}
	switch e.Kind {
	case uievents.KindWorkerOutputLine:
		w.Line = e.Line
	case uievents.KindIterationStarted:
		w.IterationNumber = e.IterationNumber
	case uievents.KindReviewerDecision:
		w.VerdictAction = string(e.Verdict.Action)
		w.VerdictReason = e.Verdict.Reason
		w.RetryCount = e.RetryCount
	case uievents.KindStatusChanged:
		w.Status = e.Status
	case uievents.KindTerminated:
		w.Outcome = e.Outcome
		w.Reason = e.Reason
	}
	return w
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts every event it receives to all currently connected viewers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	logger     *zap.Logger
}

// NewHub creates a Hub. Run must be started in its own goroutine.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
}

// Run processes registrations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

// Forward broadcasts every event received on events (a channel the caller
// obtained from the bus's Subscribe) until the channel closes. Intended to run in its own goroutine for the run's
// lifetime.
func (h *Hub) Forward(events <-chan uievents.Event) {
	for e := range events {
		data, err := json.Marshal(toWire(e))
		if err != nil {
			continue
		}
		h.broadcast(data)
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("statuspush: dropping slow viewer", zap.String("client_id", id))
		}
	}
}

// ServeWS upgrades the connection and registers it as a broadcast viewer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("statuspush: upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: r.RemoteAddr + "-" + time.Now().Format("150405.000"), conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	go c.writePump(h)
	go c.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump(h *Hub) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
