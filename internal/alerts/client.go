package alerts

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

type clientMessage struct {
	Type     string   `json:"type"`
	Token    string   `json:"token,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    *Alert `json:"data,omitempty"`
}

// Client is one WebSocket connection. It must authenticate before the hub
// registers it; until then it receives nothing.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// writeMu serializes frames between writePump and the synchronous
	// control replies written from the read side.
	writeMu sync.Mutex

	mu            sync.RWMutex
	authenticated bool
	userID        string
	role          string
	channels      map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		channels: make(map[string]bool),
	}
}

// wants applies the delivery rule: privileged role, and either a
// critical/high alert or an explicit subscription to the alert's channel.
func (c *Client) wants(alert *Alert) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.authenticated || !models.PrivilegedRoles[c.role] {
		return false
	}
	if alert.ThreatLevel == ThreatCritical || alert.ThreatLevel == ThreatHigh {
		return true
	}
	return c.channels[alert.Type]
}

func (c *Client) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			// After Stop the hub no longer drains unregister.
			select {
			case c.hub.unregister <- c:
			case <-c.hub.ctx.Done():
			}
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "authenticate":
			claims, err := c.hub.validator.Validate(msg.Token)
			if err != nil {
				// The rejection must reach the wire before the deferred
				// conn.Close(), so it bypasses the send queue.
				if payload, merr := json.Marshal(serverMessage{Type: "auth_error", Message: "invalid token"}); merr == nil {
					c.write(websocket.TextMessage, payload)
				}
				c.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
				return
			}
			c.mu.Lock()
			c.authenticated = true
			c.userID = claims.Subject
			c.role = claims.Role
			c.mu.Unlock()

			c.reply(serverMessage{Type: "auth_success"})
			if !registered {
				select {
				case c.hub.register <- c:
					registered = true
				case <-c.hub.ctx.Done():
					return
				}
			}

		case "subscribe":
			c.mu.Lock()
			if c.authenticated {
				for _, ch := range msg.Channels {
					c.channels[ch] = true
				}
			}
			c.mu.Unlock()
		}
	}
}

// reply pushes a control message onto the send queue. Control traffic is
// tiny; if the queue is already full the connection is beyond saving and
// the message is dropped with it.
func (c *Client) reply(msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// Stop cancels the hub context before closing send queues, so a
	// stopped hub is detected here instead of panicking on the send.
	select {
	case <-c.hub.ctx.Done():
		return
	default:
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
