package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the set of live viewer connections and fans battle
// state out to all of them.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[*Connection]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one viewer. Outbound messages go through the buffered Send
// channel; writePump is the only goroutine writing to the socket.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	// sendMu orders trySend against close so a broadcast racing a removal
	// never writes to a closed channel.
	sendMu sync.Mutex
	closed bool
}

// trySend queues a message without blocking. False means the connection is
// gone or its buffer is full.
func (c *Connection) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.Send)
	return true
}

func (c *Connection) close() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

// ConnectionConfig holds per-connection I/O settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the settings used in production.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates an empty registry.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Upgrade switches an HTTP request to a WebSocket connection, registers it
// and starts its read/write pumps.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		Conn:        ws,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	cm.add(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Int("total", cm.Count()).
		Msg("viewer connected")
	return conn, nil
}

func (cm *ConnectionManager) add(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true
}

// Remove deregisters a connection and closes its send channel. Safe to call
// more than once for the same connection.
func (cm *ConnectionManager) Remove(conn *Connection) {
	cm.mu.Lock()
	_, registered := cm.connections[conn]
	if registered {
		delete(cm.connections, conn)
	}
	total := len(cm.connections)
	cm.mu.Unlock()

	if registered {
		conn.closeSend()
		log.Info().
			Str("connection_id", conn.ID).
			Int("total", total).
			Msg("viewer disconnected")
	}
}

// Count returns the number of registered connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// Broadcast sends a message to every registered connection. The payload is
// marshalled once and delivered against a point-in-time snapshot of the
// membership, so connections added or removed mid-broadcast are picked up by
// the next one. Connections whose send buffer is full are collected during
// the fan-out and pruned in one batch afterwards; a dead viewer never blocks
// delivery to the rest.
func (cm *ConnectionManager) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast message")
		return
	}

	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	var stale []*Connection
	for _, conn := range targets {
		if !conn.trySend(data) {
			stale = append(stale, conn)
		}
	}

	for _, conn := range stale {
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping viewer")
		cm.Remove(conn)
		conn.close()
	}
}

// SendTo delivers a message to a single connection, pruning it on failure.
func (cm *ConnectionManager) SendTo(conn *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return
	}
	if !conn.trySend(data) {
		log.Warn().Str("connection_id", conn.ID).Msg("failed to send to viewer, dropping")
		cm.Remove(conn)
		conn.close()
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings. Pings go out on a fixed interval
// rather than only after idle periods: regular state broadcasts mean the
// socket is rarely idle, and an unconditional probe also detects dead peers
// while traffic is flowing.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.Remove(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("failed to write to viewer")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client messages. Viewers only ever send liveness pings.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.Remove(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			return
		}
		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	if string(message) == "ping" {
		c.Manager.SendTo(c, pongMessage())
		return
	}
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &m); err == nil && m.Type == "ping" {
		c.Manager.SendTo(c, pongMessage())
	}
}
