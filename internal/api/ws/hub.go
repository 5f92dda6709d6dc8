// Package ws streams live session activity (marks, photo progress, the final
// summary) to teacher dashboards.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client is one connected dashboard. A client subscribed to a session only
// receives that session's events; an unfiltered client sees everything.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

type envelope struct {
	sessionID string
	payload   []byte
}

// Hub fans session events out to connected clients. All bookkeeping happens
// on the Run goroutine; handlers only send on channels.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "session_filter", client.sessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				observability.WSConnections.Dec()
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	var stalled []*Client
	for client := range h.clients {
		if client.sessionID != "" && client.sessionID != env.sessionID {
			continue
		}
		select {
		case client.send <- env.payload:
		default:
			// Buffer full: the dashboard stopped reading.
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	if len(stalled) > 0 {
		h.mu.Lock()
		for _, client := range stalled {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				observability.WSConnections.Dec()
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast sends an event to every client watching its session.
func (h *Hub) Broadcast(event *dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	h.broadcast <- envelope{sessionID: event.SessionID.String(), payload: data}
}

// HandleWS upgrades the connection. A session_id query parameter subscribes
// the client to one session.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 64),
		sessionID: c.Query("session_id"),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// Incoming messages are ignored; the loop detects disconnects.
	}
}
