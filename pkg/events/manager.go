package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/amelia-dev/amelia/pkg/eventstore"
)

// backfillCap is the hard contract from §6.2: clients must fall back to
// REST if they need more history than this.
const backfillCap = 1000

// wildcardSubscription is the internal key used for a connection's
// `subscribe_all` registration.
const wildcardSubscription = "*"

// BackfillSource resolves a WebSocket reconnect cursor and lists the events
// that followed it. Implemented by *eventstore.Store.
type BackfillSource interface {
	GetByID(ctx context.Context, eventID string) (*eventstore.Event, error)
	ListAfter(ctx context.Context, workflowID string, afterSeq, limit int) ([]*eventstore.Event, error)
}

// ConnectionManager is the WebSocket fan-out component (§4.5): it tracks
// per-connection subscription sets (specific workflow ids, or the wildcard
// "all"), routes events to matching connections, and backfills a
// reconnecting client from a `since` cursor.
type ConnectionManager struct {
	source BackfillSource

	connections map[string]*Connection
	mu          sync.RWMutex

	// subscriptions: workflow_id -> set of connection ids. The wildcard
	// registration lives under wildcardSubscription.
	subscriptions map[string]map[string]bool
	subMu         sync.RWMutex

	writeTimeout  time.Duration
	heartbeatTick time.Duration
	idleTimeout   time.Duration
}

// Connection represents a single WebSocket client. lastPong is updated by
// HandleConnection's read loop when a pong arrives and read by the heartbeat
// goroutine's ticker loop; it uses atomic.Int64 rather than a mutex since it
// is the only field touched cross-goroutine on this type.
type Connection struct {
	ID       string
	Conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	lastPong atomic.Int64 // unix nanos
}

// NewConnectionManager builds a ConnectionManager. heartbeatTick and
// idleTimeout implement §5's WebSocket idle timeout (default 5 minutes) and
// §4.5's ping cadence.
func NewConnectionManager(source BackfillSource, writeTimeout, heartbeatTick, idleTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		source:        source,
		connections:   make(map[string]*Connection),
		subscriptions: make(map[string]map[string]bool),
		writeTimeout:  writeTimeout,
		heartbeatTick: heartbeatTick,
		idleTimeout:   idleTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection,
// per §6.2. sinceEventID is the optional `?since=<event_id>` cursor; an
// empty string skips backfill entirely. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sinceEventID string) {
	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{ID: connID, Conn: conn, ctx: ctx, cancel: cancel}
	c.lastPong.Store(time.Now().UnixNano())

	m.register(c)
	defer m.unregister(c)

	if sinceEventID != "" {
		m.backfill(ctx, c, sinceEventID)
	}

	go m.heartbeat(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("connection manager: invalid client message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

// backfill replays events newer than the cursor for its owning workflow, per
// §6.2: the cursor resolves to exactly one workflow and only that
// workflow's later events are replayed, capped at backfillCap.
func (m *ConnectionManager) backfill(ctx context.Context, c *Connection, sinceEventID string) {
	cursor, err := m.source.GetByID(ctx, sinceEventID)
	if err != nil {
		if errors.Is(err, eventstore.ErrCursorNotFound) {
			m.sendJSON(c, map[string]any{"type": "backfill_expired", "message": "cursor event not found"})
			return
		}
		slog.Error("connection manager: resolve backfill cursor failed", "error", err)
		m.sendJSON(c, map[string]any{"type": "backfill_expired", "message": "failed to resolve cursor"})
		return
	}

	evts, err := m.source.ListAfter(ctx, cursor.WorkflowID, cursor.Sequence, backfillCap)
	if err != nil {
		slog.Error("connection manager: backfill list failed", "error", err)
		return
	}
	for _, evt := range evts {
		m.sendJSON(c, map[string]any{"type": "event", "payload": toCreatedPayload(evt)})
	}
	m.sendJSON(c, map[string]any{"type": "backfill_complete", "count": len(evts)})
}

// heartbeat pings the connection every heartbeatTick and closes it if no
// pong has arrived within idleTimeout (§5, §6.2).
func (m *ConnectionManager) heartbeat(c *Connection) {
	ticker := time.NewTicker(m.heartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, c.lastPong.Load())) > m.idleTimeout {
				slog.Info("connection manager: idle timeout, closing", "connection_id", c.ID)
				c.cancel()
				return
			}
			m.sendJSON(c, map[string]string{"type": "ping"})
		}
	}
}

// Broadcast routes a persisted-or-trace-only event to matching connections,
// per §4.5's broadcast policy: trace events reach every connection
// (wildcard semantics by design), non-trace events only reach connections
// subscribed to that workflow or the wildcard.
func (m *ConnectionManager) Broadcast(evt *eventstore.Event) {
	payload := map[string]any{"type": "event", "payload": toCreatedPayload(evt)}

	var targets []string
	if evt.Level == LevelTrace {
		targets = m.allConnectionIDs()
	} else {
		targets = m.subscriberIDs(evt.WorkflowID)
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(targets))
	for _, id := range targets {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.sendJSON(c, payload)
	}
}

func (m *ConnectionManager) allConnectionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	return ids
}

func (m *ConnectionManager) subscriberIDs(workflowID string) []string {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	seen := make(map[string]bool)
	for id := range m.subscriptions[workflowID] {
		seen[id] = true
	}
	for id := range m.subscriptions[wildcardSubscription] {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.WorkflowID == "" {
			return
		}
		m.subscribe(c, msg.WorkflowID)
	case "unsubscribe":
		if msg.WorkflowID == "" {
			return
		}
		m.unsubscribe(c, msg.WorkflowID)
	case "subscribe_all":
		m.subscribe(c, wildcardSubscription)
	case "pong":
		c.lastPong.Store(time.Now().UnixNano())
	}
}

func (m *ConnectionManager) subscribe(c *Connection, key string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subscriptions[key] == nil {
		m.subscriptions[key] = make(map[string]bool)
	}
	m.subscriptions[key][c.ID] = true
}

func (m *ConnectionManager) unsubscribe(c *Connection, key string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if subs, ok := m.subscriptions[key]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.subscriptions, key)
		}
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.subMu.Lock()
	for key, subs := range m.subscriptions {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.subscriptions, key)
		}
	}
	m.subMu.Unlock()

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("connection manager: marshal failed", "connection_id", c.ID, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.Conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("connection manager: send failed, connection will be removed", "connection_id", c.ID, "error", err)
		c.cancel()
	}
}

// ActiveConnections reports the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}
