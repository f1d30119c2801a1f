package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agentmux/agentmux/pkg/events"
)

// ClientMessage is what a WebSocket client may send.
type ClientMessage struct {
	Action   string `json:"action"` // "subscribe", "unsubscribe", "ping"
	WorkerID string `json:"workerId,omitempty"`
}

// ConnectionManager fans bus events out to WebSocket clients. Each
// connection gets its own bus subscriber and forwarding goroutine; a
// connection with no explicit subscriptions receives every event, one
// with subscriptions receives only events for those worker ids.
type ConnectionManager struct {
	bus          *events.Bus
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*wsConnection
}

type wsConnection struct {
	id   string
	conn *websocket.Conn
	ctx  context.Context

	// filterMu guards workerFilter; the read loop writes it while the
	// forward loop reads it.
	filterMu     sync.RWMutex
	workerFilter map[string]bool
}

// NewConnectionManager creates a connection manager over the bus.
func NewConnectionManager(bus *events.Bus, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*wsConnection),
	}
}

// HandleConnection runs one WebSocket client: a forwarding goroutine for
// bus events plus a read loop for client messages. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	c := &wsConnection{
		id:           uuid.NewString(),
		conn:         conn,
		ctx:          ctx,
		workerFilter: make(map[string]bool),
	}

	m.mu.Lock()
	m.connections[c.id] = c
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.connections, c.id)
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	m.sendJSON(c, map[string]string{
		"type":         "connection.established",
		"connectionId": c.id,
	})

	sub := m.bus.Subscribe()
	defer sub.Close()

	go m.forwardEvents(c, sub)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

// forwardEvents pushes bus events to one connection until the subscriber
// channel closes or the connection dies.
func (m *ConnectionManager) forwardEvents(c *wsConnection, sub *events.Subscriber) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if !c.wants(evt) {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := m.sendRaw(c, data); err != nil {
				slog.Warn("WebSocket send failed, dropping client",
					"connection_id", c.id, "error", err)
				return
			}
		}
	}
}

// wants applies the connection's worker filter. Events without a worker id
// (activity, custom emits) always pass.
func (c *wsConnection) wants(evt events.Event) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.workerFilter) == 0 || evt.WorkerID == "" {
		return true
	}
	return c.workerFilter[evt.WorkerID]
}

func (m *ConnectionManager) handleClientMessage(c *wsConnection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.WorkerID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "workerId is required for subscribe"})
			return
		}
		c.filterMu.Lock()
		c.workerFilter[msg.WorkerID] = true
		c.filterMu.Unlock()
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "workerId": msg.WorkerID})

	case "unsubscribe":
		if msg.WorkerID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "workerId is required for unsubscribe"})
			return
		}
		c.filterMu.Lock()
		delete(c.workerFilter, msg.WorkerID)
		c.filterMu.Unlock()

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// ActiveConnections returns the number of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) sendJSON(c *wsConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("WebSocket send failed", "connection_id", c.id, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *wsConnection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
