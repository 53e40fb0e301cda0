package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
	"github.com/unitlink/unitlink-core/internal/infrastructure/logging"
	"github.com/unitlink/unitlink-core/internal/infrastructure/metrics"
	"github.com/unitlink/unitlink-core/internal/notify"
)

// WebSocket message types.
const (
	WSTypePing  = "ping"
	WSTypePong  = "pong"
	WSTypeError = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// hubSubscriberBuffer is the hub's queue on the broker.
	hubSubscriberBuffer = 256
)

// Fallbacks for a zero WebSocketConfig.
const (
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 8192
)

// WSMessage is a control message sent to or from a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub tracks websocket clients and fans broker updates out to them.
type Hub struct {
	logger       *logging.Logger
	pingInterval time.Duration
	pongWait     time.Duration
	maxMessage   int64
	clients      map[*WSClient]struct{}
	mu           sync.RWMutex
}

// WSClient is one connected websocket client.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a websocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		logger:       logger,
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:     time.Duration(cfg.PongTimeout) * time.Second,
		maxMessage:   int64(cfg.MaxMessageSize),
		clients:      make(map[*WSClient]struct{}),
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongTimeout
	}
	if h.maxMessage <= 0 {
		h.maxMessage = defaultMaxMessageSize
	}
	return h
}

// Run subscribes to the broker and broadcasts every status update until
// ctx is cancelled or the broker closes. All clients are disconnected on
// return.
func (h *Hub) Run(ctx context.Context, broker *notify.Broker) {
	sub := broker.Subscribe("websocket", hubSubscriberBuffer)
	defer broker.Unsubscribe(sub)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			h.Broadcast(notify.NewEnvelope(u))
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetWebsocketClients(n)
	h.logger.Debug("websocket client connected", "clients", n, "user_id", client.userID)
}

// Unregister removes a client and closes its send channel. Only the call
// that removes the client closes the channel, so it is safe to repeat.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	if existed {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		metrics.SetWebsocketClients(n)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends v as JSON to every client. A client whose buffer is full
// is disconnected instead of stalling the broadcast.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	var slow []*WSClient
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("dropping slow websocket client", "user_id", client.userID)
		h.Unregister(client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client so their pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	metrics.SetWebsocketClients(0)
}

// send queues data for one client if it is still registered. Holding the
// read lock keeps Unregister from closing the channel mid-send.
func (h *Hub) send(client *WSClient, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// handleWebSocket upgrades an authenticated request to a websocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		client.userID = claims.Subject
	}

	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump owns the read side. The read deadline is pushed out by every
// pong and every inbound message.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessage)
	c.extendRead()
	c.conn.SetPongHandler(func(string) error { return c.extendRead() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err, "user_id", c.userID)
			}
			return
		}
		c.extendRead() //nolint:errcheck // a dead conn fails the next read
		c.handleMessage(message)
	}
}

func (c *WSClient) extendRead() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.hub.pingInterval + c.hub.pongWait))
}

// write sends one frame, giving up after pongWait.
func (c *WSClient) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// writePump owns the write side: queued updates plus a ping every
// pingInterval. A closed send channel means the hub dropped us.
func (c *WSClient) writePump() {
	ping := time.NewTicker(c.hub.pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case message, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			err = c.write(websocket.TextMessage, message)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// handleMessage answers client control messages. Only ping is understood.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(WSMessage{Type: WSTypeError, Payload: map[string]string{"message": "invalid JSON message"}})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.reply(WSMessage{
			Type:    WSTypeError,
			ID:      msg.ID,
			Payload: map[string]string{"message": "unknown message type: " + msg.Type},
		})
	}
}

func (c *WSClient) reply(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.send(c, data)
}
