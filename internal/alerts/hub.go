package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/metrics"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/pkg/tokens"
)

// TokenValidator authenticates WebSocket clients.
type TokenValidator interface {
	Validate(tokenString string) (*tokens.Claims, error)
}

// Hub maintains the set of authenticated operator connections and fans
// alerts out to them. A slow connection never stalls the broadcast: its
// send queue is bounded and overflowing messages are dropped.
type Hub struct {
	validator TokenValidator
	logger    *logging.Logger
	upgrader  websocket.Upgrader

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Alert

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(ctx context.Context, validator TokenValidator, logger *logging.Logger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		validator: validator,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Alert, 256),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run processes registration and broadcast traffic until the hub stops.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.AlertConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.AlertConnections.Dec()
			}
			h.mu.Unlock()

		case alert := <-h.broadcast:
			h.deliver(alert)
		}
	}
}

// Stop shuts the hub down and closes every client connection.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		metrics.AlertConnections.Dec()
	}
}

// Publish queues an alert for fan-out. Never blocks the caller.
func (h *Hub) Publish(alert *Alert) {
	metrics.AlertsPublished.WithLabelValues(string(alert.ThreatLevel)).Inc()
	select {
	case h.broadcast <- alert:
	case <-h.ctx.Done():
	default:
		metrics.AlertsDropped.Inc()
		h.logger.Warn("alert broadcast queue full, alert dropped", "alert_id", alert.ID)
	}
}

func (h *Hub) deliver(alert *Alert) {
	payload, err := json.Marshal(serverMessage{Type: "security_alert", Data: alert})
	if err != nil {
		h.logger.Error("failed to marshal alert", "alert_id", alert.ID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(alert) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Queue full. Drop this alert for this client only.
			metrics.AlertsDropped.Inc()
		}
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a WebSocket connection. The client
// is only registered with the hub once it authenticates.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn)
	go client.writePump()
	go client.readPump()
}

// HandleEvent lets the hub act as an audit sink: every recorded event is
// classified and published as an alert.
func (h *Hub) HandleEvent(ctx context.Context, event *models.SecurityEvent) {
	h.Publish(NewAlert(event, nil))
}
