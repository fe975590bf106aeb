package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth is not part of the browser WebSocket handshake; the
	// subscribe protocol only ever reveals status and score for an
	// application id the client already knows.
	CheckOrigin: func(*http.Request) bool { return true },
}

// client is one WebSocket connection. Writes go through send so only the
// write pump touches the underlying connection.
type client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	watching map[string]struct{}
	closed   sync.Once
}

func (c *client) close() {
	c.closed.Do(func() {
		close(c.send)
	})
}

// trySend queues payload without blocking. False means the buffer is full
// or the connection is closing.
func (c *client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// clientMessage is what a connected client may send: subscribe to one
// application's updates, or ping.
type clientMessage struct {
	Action        string `json:"action"`
	ApplicationID string `json:"application_id,omitempty"`
}

// Handler upgrades GET /ws and speaks the subscribe protocol.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			slog.Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}
		c := &client{
			id:       uuid.NewString(),
			conn:     conn,
			send:     make(chan []byte, sendBuffer),
			watching: make(map[string]struct{}),
		}
		hub.register(c)

		welcome, _ := json.Marshal(map[string]string{"type": "connection", "connection_id": c.id})
		if !c.trySend(welcome) {
			hub.unregister(c.id)
			return
		}

		go writePump(c)
		readPump(hub, c)
	}
}

// readPump owns the read side: it applies the client protocol until the
// connection errors or closes, then tears the registration down.
func readPump(hub *Hub, c *client) {
	defer hub.unregister(c.id)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", slog.String("conn_id", c.id), slog.Any("error", err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			if _, err := uuid.Parse(msg.ApplicationID); err != nil {
				continue
			}
			hub.subscribe(c.id, msg.ApplicationID)
			ack, _ := json.Marshal(map[string]string{"type": "subscribed", "application_id": msg.ApplicationID})
			c.trySend(ack)
		case "ping":
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			c.trySend(pong)
		}
	}
}

// writePump owns the write side: queued payloads plus protocol pings. It
// exits when the send channel closes or a write fails.
func writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
