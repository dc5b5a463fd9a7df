package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/portacool-apex/internal/bridge"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/logging"
)

// ChannelState carries entity.State after every successful coordinator
// update. Every client receives it; there is nothing to subscribe to.
const ChannelState = "entity.state"

// WebSocket message types.
//
// Server to client: event, ack, pong, error.
// Client to server: ping, refresh, command.
const (
	WSTypeEvent   = "event"
	WSTypeAck     = "ack"
	WSTypePong    = "pong"
	WSTypeError   = "error"
	WSTypePing    = "ping"
	WSTypeRefresh = "refresh"
	WSTypeCommand = "command"
)

const (
	wsSendBuffer = 16

	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 4096
)

// WSMessage is a frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client. Payload is a
// bridge.CommandMessage for command frames and ignored otherwise.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub tracks connected clients and fans state out to them.
type Hub struct {
	pingInterval time.Duration
	pongTimeout  time.Duration
	maxMessage   int64
	logger       *logging.Logger

	// ctx bounds commands issued by clients. It ends when Run returns.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub creates a hub. Zero settings fall back to a 30s ping interval,
// a 10s pong timeout and a 4 KiB inbound frame limit.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:  time.Duration(cfg.PongTimeout) * time.Second,
		maxMessage:   int64(cfg.MaxMessageSize),
		logger:       logger,
		clients:      make(map[*wsClient]struct{}),
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.pongTimeout <= 0 {
		h.pongTimeout = defaultPongTimeout
	}
	if h.maxMessage <= 0 {
		h.maxMessage = defaultMaxMessageSize
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.cancel()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends an event to every client. Clients whose buffer is full
// miss the event; the next one carries the full state again.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "error", err)
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.enqueue(data)
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// wsClient is one connection. The write pump owns conn writes; everything
// else hands frames over through send.
type wsClient struct {
	srv  *Server
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue hands a frame to the write pump, dropping it when the client
// is closed or too slow.
func (c *wsClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsClient) reply(msg WSMessage) {
	data, err := encodeFrame(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// handleWebSocket upgrades the connection and sends the current state
// as the first event.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		srv:  s,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	s.hub.add(c)
	c.reply(WSMessage{Type: WSTypeEvent, EventType: ChannelState, Payload: s.state.State()})

	go c.writePump()
	go c.readPump()
}

func (c *wsClient) readPump() {
	hub := c.srv.hub
	defer func() {
		hub.remove(c)
		c.conn.Close()
	}()

	deadline := func() time.Time { return time.Now().Add(hub.pingInterval + hub.pongTimeout) }
	c.conn.SetReadLimit(hub.maxMessage)
	c.conn.SetReadDeadline(deadline()) //nolint:errcheck // read error surfaces below
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(deadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(deadline()) //nolint:errcheck // read error surfaces on next read
		c.handle(data)
	}
}

func (c *wsClient) writePump() {
	hub := c.srv.hub
	ticker := time.NewTicker(hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hub.pongTimeout)) //nolint:errcheck // write error surfaces below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hub.pongTimeout)) //nolint:errcheck // write error surfaces below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one client frame. Commands run on their own goroutine
// so a slow cloud call never stalls reads.
func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(WSMessage{Type: WSTypeError, Payload: errorPayload("invalid JSON message")})
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: req.ID})
	case WSTypeRefresh:
		c.srv.coord.RequestRefresh()
		c.reply(WSMessage{Type: WSTypeAck, ID: req.ID, Payload: map[string]string{"status": "refresh requested"}})
	case WSTypeCommand:
		var cmd bridge.CommandMessage
		if err := json.Unmarshal(req.Payload, &cmd); err != nil {
			c.reply(WSMessage{Type: WSTypeError, ID: req.ID, Payload: errorPayload("invalid command payload")})
			return
		}
		cmd.Source = "websocket"
		go func() {
			ack := c.srv.dispatcher.Dispatch(c.srv.hub.ctx, cmd)
			c.reply(WSMessage{Type: WSTypeAck, ID: req.ID, Payload: ack})
		}()
	default:
		c.reply(WSMessage{Type: WSTypeError, ID: req.ID, Payload: errorPayload("unknown message type: " + req.Type)})
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
