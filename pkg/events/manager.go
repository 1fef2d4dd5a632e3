package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// catchupLimit caps the number of replayed thinking steps on subscribe.
// Beyond this the client is told to do a full REST reload.
const catchupLimit = 200

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Type      string              `json:"type"` // "subscribe_session", "chat", "ping", "cancel"
	SessionID string              `json:"session_id,omitempty"`
	Content   *models.ChatRequest `json:"content,omitempty"`
}

// ChatRunner starts and cancels chat tasks. Implemented by the Manager.
type ChatRunner interface {
	StartChat(ctx context.Context, req models.ChatRequest) (sessionID, taskUID string, err error)
	CancelTask(taskUID string) bool
}

// CatchupQuerier replays the durable timeline of a session as ChatEvents so
// reconnecting clients rebuild state before live delivery starts. The bool
// result reports that the timeline was truncated to the newest limit events.
type CatchupQuerier interface {
	CatchupEvents(ctx context.Context, sessionID string, limit int) ([]models.ChatEvent, bool, error)
}

// ConnectionManager owns all WebSocket connections of this process.
type ConnectionManager struct {
	bus          *Bus
	runner       ChatRunner
	catchup      CatchupQuerier
	heartbeat    time.Duration
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*connection
}

// connection is a single WebSocket client. Its fields are owned by the
// read-loop goroutine; only the outbound side is shared (guarded by wmu).
type connection struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	wmu     sync.Mutex
	sub     *Subscription
	subDone chan struct{}
	// lastTaskUID is the most recent task started over this connection,
	// targeted by a bare "cancel" message.
	lastTaskUID string
	taskMu      sync.Mutex
}

// NewConnectionManager creates a ConnectionManager. runner and catchup may be
// nil in tests that exercise only the subscription path.
func NewConnectionManager(bus *Bus, runner ChatRunner, catchup CatchupQuerier, heartbeat, writeTimeout time.Duration) *ConnectionManager {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &ConnectionManager{
		bus:          bus,
		runner:       runner,
		catchup:      catchup,
		heartbeat:    heartbeat,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*connection),
	}
}

// ActiveConnections returns the count of open WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// userID is the authenticated caller; it is stamped onto chat requests that
// omit one. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	m.register(c)
	defer m.unregister(c)

	// Heartbeat: idle connections must survive long silences.
	go m.heartbeatLoop(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": "invalid message"})
			continue
		}
		m.handleClientMessage(c, &msg, userID)
	}
}

func (m *ConnectionManager) handleClientMessage(c *connection, msg *ClientMessage, userID string) {
	switch msg.Type {
	case "subscribe_session":
		if msg.SessionID == "" {
			m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": "session_id is required"})
			return
		}
		m.subscribeSession(c, msg.SessionID)

	case "chat":
		if msg.Content == nil || msg.Content.Message == "" {
			m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": "chat content is required"})
			return
		}
		if m.runner == nil {
			m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": "chat not available"})
			return
		}
		req := *msg.Content
		if req.UserID == "" {
			req.UserID = userID
		}
		sessionID, taskUID, err := m.runner.StartChat(c.ctx, req)
		if err != nil {
			slog.Warn("Failed to start chat task", "connection_id", c.id, "error", err)
			m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": err.Error()})
			return
		}
		c.taskMu.Lock()
		c.lastTaskUID = taskUID
		c.taskMu.Unlock()
		// Subscribe so the caller sees its own task's events even when it
		// never sent subscribe_session (fresh session case).
		if c.sub == nil || c.sub.sessionID != sessionID {
			m.subscribeSession(c, sessionID)
		}

	case "ping":
		m.sendJSON(c, map[string]any{"type": string(models.EventPong), "ts": time.Now().Format(time.RFC3339Nano)})

	case "cancel":
		c.taskMu.Lock()
		taskUID := c.lastTaskUID
		c.taskMu.Unlock()
		if taskUID == "" || m.runner == nil {
			m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": "no task to cancel"})
			return
		}
		if !m.runner.CancelTask(taskUID) {
			m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": "task is not running"})
		}

	default:
		m.sendJSON(c, map[string]string{"type": string(models.EventError), "content": "unknown message type: " + msg.Type})
	}
}

// subscribeSession switches the connection to a session: replaces any prior
// subscription, replays the durable timeline, then starts live delivery.
// Subscribing before catchup keeps the window closed; events published
// during replay queue on the subscription and are delivered after, ordered.
func (m *ConnectionManager) subscribeSession(c *connection, sessionID string) {
	if c.sub != nil {
		c.sub.Close()
		<-c.subDone
	}

	sub := m.bus.Subscribe(sessionID)
	c.sub = sub
	c.subDone = make(chan struct{})

	m.sendJSON(c, map[string]string{
		"type":       "subscription.confirmed",
		"session_id": sessionID,
	})

	if m.catchup != nil {
		evs, overflow, err := m.catchup.CatchupEvents(c.ctx, sessionID, catchupLimit)
		if err != nil {
			slog.Error("Catchup query failed", "session_id", sessionID, "error", err)
		} else {
			for _, ev := range evs {
				m.sendJSON(c, ev)
			}
			if overflow {
				m.sendJSON(c, map[string]any{
					"type":       "catchup.overflow",
					"session_id": sessionID,
					"has_more":   true,
				})
			}
		}
	}

	go func() {
		defer close(c.subDone)
		for ev := range sub.C() {
			m.sendJSON(c, ev)
		}
	}()
}

func (m *ConnectionManager) heartbeatLoop(c *connection) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (m *ConnectionManager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *ConnectionManager) unregister(c *connection) {
	if c.sub != nil {
		c.sub.Close()
	}
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and writes a message with the configured write timeout.
// Serialized per connection so the catchup replay and the live pump cannot
// interleave frames.
func (m *ConnectionManager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.id, "error", err)
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.id, "error", err)
	}
}
