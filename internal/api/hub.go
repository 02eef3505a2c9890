package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// client is one WebSocket subscriber. Only its write pump writes to conn.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	project *uint64 // nil receives every project
}

func (c *client) wants(ev model.Event) bool {
	return c.project == nil || *c.project == ev.ProjectID
}

type broadcast struct {
	ev   model.Event
	data []byte
}

// WSHub fans committed events out to connected WebSocket clients. It
// implements the engine's Publisher.
type WSHub struct {
	clients    map[*client]struct{}
	broadcast  chan broadcast
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewWSHub creates a hub. allowOrigin decides which browser origins may
// connect; nil allows all.
func NewWSHub(allowOrigin func(origin string) bool) *WSHub {
	h := &WSHub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowOrigin == nil || origin == "" || allowOrigin(origin)
		},
	}
	return h
}

// Run is the hub's event loop. It returns when ctx is done, after closing
// every client.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.ev) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer.
					h.drop(c)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
		}
	}
}

// drop removes c. Callers hold h.mu.
func (h *WSHub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues ev for every interested client. It never blocks; when the
// queue is full the event is dropped for WebSocket subscribers only.
func (h *WSHub) Publish(_ context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcast{ev: ev, data: data}:
	default:
		slog.Warn("ws broadcast queue full, dropping event", "seq", ev.Seq, "type", ev.Type)
	}
	return nil
}

// HandleWS handles GET /api/v1/ws. An optional ?project=<id> restricts the
// stream to one project.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var project *uint64
	if raw := r.URL.Query().Get("project"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_project", "project must be a non-negative integer")
			return
		}
		project = &id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), project: project}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump keeps the connection alive and detects disconnects. Client
// messages are ignored.
func (h *WSHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on c.conn. It pings through proxies and exits
// when the hub closes c.send.
func (h *WSHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
