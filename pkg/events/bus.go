package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amelia-dev/amelia/pkg/eventstore"
)

// Bus is the EventBus (§4.2): in-process synchronous fan-out to a
// subscriber registry, with an always-reached tail — the WebSocket
// ConnectionManager, since live viewing is independent of persistence.
//
// emit()'s classification rule: a trace-level event is skipped for
// persistence (and therefore for EventStore subscribers) when trace
// persistence is disabled, but it is unconditionally offered to the
// broadcaster so live viewers still see it.
type Bus struct {
	store              *eventstore.Store
	broadcaster        Broadcaster
	tracePersistenceOn func() bool

	subscribers []Subscriber
}

// Broadcaster is the live-view tail every emitted event reaches regardless
// of persistence. Implemented by *ConnectionManager; a NotifyListener-backed
// cross-process implementation can be substituted for multi-pod deployments
// (see listener.go) without changing Bus.
type Broadcaster interface {
	Broadcast(evt *eventstore.Event)
}

// Subscriber receives every event the Bus decides to persist. A subscriber
// must never block the pipeline: an error is logged and swallowed.
type Subscriber interface {
	OnEvent(ctx context.Context, evt *eventstore.Event) error
}

// NewBus builds an EventBus. tracePersistenceOn is re-evaluated on every
// Emit so a config reload takes effect without restarting the bus.
func NewBus(store *eventstore.Store, broadcaster Broadcaster, tracePersistenceOn func() bool) *Bus {
	return &Bus{store: store, broadcaster: broadcaster, tracePersistenceOn: tracePersistenceOn}
}

// Subscribe registers a subscriber. Not safe to call concurrently with Emit;
// intended to be called once during wiring.
func (b *Bus) Subscribe(s Subscriber) {
	b.subscribers = append(b.subscribers, s)
}

// Emit classifies evt by level and either persists-and-broadcasts or
// broadcasts-only, per §4.2. Returns the persisted event (with its assigned
// sequence) when persistence happened, or the input event unchanged
// (sequence left at whatever the caller set, typically 0) when it was
// trace-only and dropped.
func (b *Bus) Emit(ctx context.Context, evt *eventstore.Event) (*eventstore.Event, error) {
	if evt.Level == LevelTrace && !b.tracePersistenceOn() {
		b.broadcastSafely(evt)
		return evt, nil
	}

	persisted, err := b.store.Append(ctx, evt)
	if err != nil {
		return nil, fmt.Errorf("event bus emit: append: %w", err)
	}

	for _, s := range b.subscribers {
		if err := s.OnEvent(ctx, persisted); err != nil {
			slog.Error("event bus: subscriber error", "workflow_id", evt.WorkflowID, "error", err)
		}
	}

	b.broadcastSafely(persisted)
	return persisted, nil
}

// broadcastSafely never panics or returns from a misbehaving broadcaster —
// a dead WebSocket fan-out must not break the append pipeline.
func (b *Bus) broadcastSafely(evt *eventstore.Event) {
	if b.broadcaster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event bus: broadcaster panicked", "workflow_id", evt.WorkflowID, "recover", r)
		}
	}()
	b.broadcaster.Broadcast(evt)
}
