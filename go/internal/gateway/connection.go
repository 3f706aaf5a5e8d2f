package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/bidhouse/go/internal/metrics"
	"github.com/rs/zerolog/log"
)

// MessageHandler reacts to connection lifecycle and typed inbound messages.
// All calls for one connection come from that connection's processing
// goroutine, never concurrently.
type MessageHandler interface {
	OnConnect(ctx context.Context, c *Connection)
	HandleMessage(ctx context.Context, c *Connection, msg ClientMessage)
	OnDisconnect(c *Connection)
}

// ConnectionManager owns every live WebSocket connection.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler
	metrics  metrics.Collector
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	id       string
	bidderID string
	conn     *websocket.Conn
	send     chan []byte
	inbox    chan ClientMessage
	done     chan struct{}
	closer   sync.Once
	manager  *ConnectionManager

	ConnectedAt time.Time
	lastPing    atomic.Int64
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler MessageHandler, collector metrics.Collector) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		handler: handler,
		metrics: collector,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, bidderID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		id:          uuid.New().String(),
		bidderID:    bidderID,
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		inbox:       make(chan ClientMessage, 16),
		done:        make(chan struct{}),
		manager:     cm,
		ConnectedAt: time.Now(),
	}
	c.lastPing.Store(time.Now().UnixMilli())

	cm.registerConnection(c)

	ctx, cancel := context.WithCancel(context.Background())
	go c.writePump()
	go c.readPump()
	go c.processLoop(ctx, cancel)

	log.Info().
		Str("connection_id", c.id).
		Str("bidder_id", bidderID).
		Msg("WebSocket connection established")

	return c, nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) {
	cm.mu.Lock()
	cm.connections[c.id] = c
	total := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.SetConnections(total)
	log.Debug().
		Str("connection_id", c.id).
		Int("total_connections", total).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connections[c.id]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, c.id)
	total := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.SetConnections(total)
	log.Info().
		Str("connection_id", c.id).
		Str("bidder_id", c.bidderID).
		Msg("connection unregistered")
}

// Connections returns a snapshot of every open connection.
func (cm *ConnectionManager) Connections() []Subscriber {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]Subscriber, 0, len(cm.connections))
	for _, c := range cm.connections {
		out = append(out, c)
	}
	return out
}

// Count returns the number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every connection; their cleanup runs asynchronously.
func (cm *ConnectionManager) CloseAll() {
	for _, s := range cm.Connections() {
		s.(*Connection).Close()
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) BidderID() string { return c.bidderID }

// Send queues frame for the write pump without blocking. A connection whose
// buffer is full is too slow to keep up and is closed; it resynchronises by
// reconnecting and joining again.
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		log.Warn().
			Str("connection_id", c.id).
			Str("bidder_id", c.bidderID).
			Msg("connection send buffer full, closing connection")
		c.Close()
		return false
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Connection) Close() {
	c.closer.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection starts shutting down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump turns inbound frames into typed messages for processLoop.
func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		close(c.inbox)
		c.Close()
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.lastPing.Store(time.Now().UnixMilli())
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		msg, err := ParseClientMessage(raw)
		if err != nil {
			log.Debug().
				Err(err).
				Str("connection_id", c.id).
				Msg("malformed client message")
			c.sendError("", err.Error())
			continue
		}

		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// processLoop is the only goroutine that acts on this connection's messages.
// Its exit is the single cleanup point for every disconnect path.
func (c *Connection) processLoop(ctx context.Context, cancel context.CancelFunc) {
	h := c.manager.handler
	defer func() {
		cancel()
		if h != nil {
			h.OnDisconnect(c)
		}
		c.manager.unregisterConnection(c)
	}()

	if h != nil {
		h.OnConnect(ctx, c)
	}
	for msg := range c.inbox {
		if h == nil {
			continue
		}
		h.HandleMessage(ctx, c, msg)
	}
}

func (c *Connection) sendError(code, message string) {
	frame, err := EncodeMessage(MessageError, ErrorPayload{Code: code, Message: message}, time.Now().UTC())
	if err != nil {
		return
	}
	c.Send(frame)
}
