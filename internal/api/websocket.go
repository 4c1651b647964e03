// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/calligrapher/internal/utils"
)

// event types
const (
	EventConnected = "connected"
	EventTurn      = "turn"
	EventClosed    = "closed"
	EventReload    = "reload"
	EventError     = "error"
)

// upgrader for /ws
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// preview server binds to localhost by default
		return true
	},
}

// Event is pushed to preview clients whenever a session changes.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Path      string      `json:"path,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsConn is the subset of *websocket.Conn the hub needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// wsClient is one websocket connection.
type wsClient struct {
	conn wsConn
	// sessionID filters events; empty receives everything.
	sessionID string
	send      chan []byte
	closed    int32
	lastPing  atomic.Int64
}

func newWSClient(conn wsConn, sessionID string) *wsClient {
	client := &wsClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 64),
	}
	client.touch()
	return client
}

// Close closes the client once.
func (client *wsClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

func (client *wsClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

func (client *wsClient) touch() {
	client.lastPing.Store(time.Now().UnixNano())
}

func (client *wsClient) expired(timeout time.Duration, now time.Time) bool {
	return now.Sub(time.Unix(0, client.lastPing.Load())) > timeout
}

func (client *wsClient) wants(ev *Event) bool {
	return client.sessionID == "" || ev.SessionID == "" || client.sessionID == ev.SessionID
}

// Hub fans preview events out to connected WebSocket clients.
type Hub struct {
	clients     map[*wsClient]struct{}
	broadcast   chan *Event
	register    chan *wsClient
	unregister  chan *wsClient
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger
	done        chan struct{}
	once        sync.Once
}

// NewHub creates an event hub.
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Hub{
		clients:     make(map[*wsClient]struct{}),
		broadcast:   make(chan *Event, 256),
		register:    make(chan *wsClient, 16),
		unregister:  make(chan *wsClient, 16),
		pingTimeout: 60 * time.Second,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Run is the hub loop; it returns when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	cleanup := time.NewTicker(30 * time.Second)
	defer cleanup.Stop()
	defer h.Shutdown()

	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = struct{}{}
			h.mutex.Unlock()
			h.logger.Debug("websocket client connected", map[string]interface{}{"session": client.sessionID})

		case client := <-h.unregister:
			h.remove(client)

		case ev := <-h.broadcast:
			h.deliver(ev)

		case now := <-cleanup.C:
			h.cleanupExpired(now)

		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mutex.Lock()
	delete(h.clients, client)
	h.mutex.Unlock()
	client.Close()
}

func (h *Hub) cleanupExpired(now time.Time) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		if client.IsClosed() || client.expired(h.pingTimeout, now) {
			delete(h.clients, client)
			client.Close()
		}
	}
}

func (h *Hub) deliver(ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", map[string]interface{}{"error": err.Error()})
		return
	}

	h.mutex.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		if !client.IsClosed() && client.wants(ev) {
			targets = append(targets, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- payload:
		default:
			// slow consumer
			h.logger.Warn("websocket send queue full, dropping client", map[string]interface{}{"session": client.sessionID})
			client.Close()
		}
	}
}

// Publish queues an event for delivery. It never blocks the caller.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- &ev:
	case <-h.done:
	default:
		h.logger.Warn("event queue full, dropping event", map[string]interface{}{"type": ev.Type})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.done)
		h.mutex.Lock()
		for client := range h.clients {
			client.Close()
		}
		h.clients = make(map[*wsClient]struct{})
		h.mutex.Unlock()
	})
}
