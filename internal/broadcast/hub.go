// Package broadcast pushes token and stats updates to dashboard WebSocket
// clients.
package broadcast

import (
	_ "embed"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/observability"
)

//go:embed dashboard.html
var dashboardHTML []byte

const writeTimeout = 10 * time.Second

// envelope is the wire format consumed by the dashboard.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client wraps a connection with a write lock. Broadcasts come from many
// goroutines and gorilla/websocket allows one writer per connection.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans updates out to connected WebSocket clients. Clients that fail a
// write are dropped; delivery is best-effort.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger
	obs      *observability.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger, obs *observability.Metrics) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard is same-origin in practice; keep local setups easy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		obs:     obs,
		clients: make(map[*client]struct{}),
	}
}

// ServeDashboard serves the embedded dashboard page.
func (h *Hub) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(dashboardHTML)
}

// ServeWS upgrades the connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Printf("dashboard client connected (%d total)", n)
	if h.obs != nil {
		h.obs.BroadcastClients.Set(float64(n))
	}

	// Reader goroutine: drains control frames and detects close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(c)
				return
			}
		}
	}()
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		h.logger.Printf("dashboard client disconnected (%d total)", n)
		if h.obs != nil {
			h.obs.BroadcastClients.Set(float64(n))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SendUpdate broadcasts a token create/refresh.
func (h *Hub) SendUpdate(t *domain.Token) {
	h.broadcast(envelope{Type: "token", Data: t})
}

// SendStats broadcasts the trailing-window performance summary.
func (h *Hub) SendStats(stats []domain.CategoryStats) {
	h.broadcast(envelope{Type: "stats", Data: stats})
}

func (h *Hub) broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("broadcast marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.drop(c)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.conn.Close()
	}
}
