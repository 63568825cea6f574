// Package eventstore implements append-only persistence of workflow events
// with a monotonic per-workflow sequence, cursor-based backfill reads, and
// retention sweeps (§4.1).
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amelia-dev/amelia/ent"
	"github.com/amelia-dev/amelia/ent/event"
	"github.com/google/uuid"
)

// Event is the in-memory representation of a single append-only record.
// Sequence is assigned by Append and is therefore never set by the caller.
type Event struct {
	ID            string
	WorkflowID    string
	Sequence      int
	Timestamp     time.Time
	Agent         string
	EventType     string
	Level         string
	Message       string
	Data          map[string]any
	CorrelationID string
	TraceID       string
	ParentID      string
	ToolName      string
	ToolInput     map[string]any
	IsError       bool
}

// Store is the EventStore. Reads go through the generated ent client; the
// sequence-assigning Append writes with raw SQL against the same underlying
// *sql.DB, matching the technique the corpus's own NOTIFY-coupled writer
// uses for inserts that must share a single database/sql transaction with a
// pg_notify call (ent's generated Tx type doesn't expose ExecContext, only
// its typed per-entity builders).
type Store struct {
	client *ent.Client
	db     *sql.DB
}

// New builds a Store over an existing ent client and its underlying
// *sql.DB (database.Client.DB()).
func New(client *ent.Client, db *sql.DB) *Store {
	return &Store{client: client, db: db}
}

// Append assigns the next per-workflow sequence number and persists evt
// durably before returning. The assignment is serialized per workflow_id by
// taking an exclusive row lock on the owning Workflow row for the duration
// of the transaction, so concurrent appenders for the same workflow cannot
// race on the sequence value — the same technique the corpus uses for
// `SELECT ... FOR UPDATE` backed work queues, applied here to lock a single
// row instead of claiming one of many.
func (s *Store) Append(ctx context.Context, evt *Event) (*Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`SELECT id FROM workflows WHERE id = $1 FOR UPDATE`, evt.WorkflowID,
	); err != nil {
		return nil, fmt.Errorf("lock workflow: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = $1`, evt.WorkflowID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("compute next sequence: %w", err)
	}

	id := evt.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	dataJSON, err := marshalOptional(evt.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	toolInputJSON, err := marshalOptional(evt.ToolInput)
	if err != nil {
		return nil, fmt.Errorf("marshal tool_input: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (
			id, workflow_id, sequence, "timestamp", agent, event_type, level,
			message, data, correlation_id, trace_id, parent_id, tool_name,
			tool_input, is_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		id, evt.WorkflowID, seq, ts, evt.Agent, evt.EventType, evt.Level,
		evt.Message, dataJSON, nullIfEmpty(evt.CorrelationID), nullIfEmpty(evt.TraceID),
		nullIfEmpty(evt.ParentID), nullIfEmpty(evt.ToolName), toolInputJSON, evt.IsError,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	out := *evt
	out.ID = id
	out.Sequence = seq
	out.Timestamp = ts
	return &out, nil
}

// ErrCursorNotFound is returned by GetByID when the cursor event id does
// not exist in the store (e.g. purged by retention). Callers surface this
// as CursorNotFound / WebSocket backfill_expired (§6.2, §7).
var ErrCursorNotFound = fmt.Errorf("cursor event not found")

// GetByID resolves a single event by id, used to translate a WebSocket
// client's `?since=<event_id>` cursor into a (workflow_id, sequence) pair
// before calling ListAfter. Returns ErrCursorNotFound if the id is unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Event, error) {
	row, err := s.client.Event.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrCursorNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return toEvents([]*ent.Event{row})[0], nil
}

// NextSequence reports the sequence that would be assigned to the next
// event appended for workflowID, without reserving it.
func (s *Store) NextSequence(ctx context.Context, workflowID string) (int, error) {
	max, err := s.client.Event.Query().
		Where(event.WorkflowID(workflowID)).
		Aggregate(ent.Max(event.FieldSequence)).
		Int(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("query max sequence: %w", err)
	}
	return max + 1, nil
}

// ListAfter returns events for workflowID with sequence > afterSeq, in
// ascending sequence order, capped at limit. Used for WebSocket backfill:
// the caller enforces the hard cap documented in §6.2 and falls back to
// "backfill_expired" when the cursor predates retention.
func (s *Store) ListAfter(ctx context.Context, workflowID string, afterSeq, limit int) ([]*Event, error) {
	rows, err := s.client.Event.Query().
		Where(event.WorkflowID(workflowID), event.SequenceGT(afterSeq)).
		Order(ent.Asc(event.FieldSequence)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list after: %w", err)
	}
	return toEvents(rows), nil
}

// Recent returns the most recent events for workflowID, oldest-first, capped
// at limit.
func (s *Store) Recent(ctx context.Context, workflowID string, limit int) ([]*Event, error) {
	rows, err := s.client.Event.Query().
		Where(event.WorkflowID(workflowID)).
		Order(ent.Desc(event.FieldSequence)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	out := toEvents(rows)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PurgeOlderThan deletes events older than cutoff, optionally filtered to
// specific levels, then trims the remainder to maxKept most-recent rows
// when maxKept > 0. Both the age-based delete and the count-based trim honor
// levelFilter: a level-scoped sweep (e.g. retention's trace-only cap) must
// never count or delete rows of a level it wasn't asked to touch. Returns
// the number of rows deleted. Implements the retention sweep.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time, maxKept int, levelFilter ...string) (int, error) {
	q := s.client.Event.Delete().
		Where(event.TimestampLT(cutoff))
	if len(levelFilter) > 0 {
		q = q.Where(event.LevelIn(levelFilter...))
	}
	deleted, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge older than cutoff: %w", err)
	}

	if maxKept <= 0 {
		return deleted, nil
	}

	countQ := s.client.Event.Query()
	selectQ := s.client.Event.Query()
	if len(levelFilter) > 0 {
		countQ = countQ.Where(event.LevelIn(levelFilter...))
		selectQ = selectQ.Where(event.LevelIn(levelFilter...))
	}

	total, err := countQ.Count(ctx)
	if err != nil {
		return deleted, fmt.Errorf("count remaining: %w", err)
	}
	if total <= maxKept {
		return deleted, nil
	}

	excess := total - maxKept
	stale, err := selectQ.
		Order(ent.Asc(event.FieldTimestamp)).
		Limit(excess).
		All(ctx)
	if err != nil {
		return deleted, fmt.Errorf("select excess rows: %w", err)
	}
	ids := make([]string, len(stale))
	for i, e := range stale {
		ids[i] = e.ID
	}
	trimmed, err := s.client.Event.Delete().Where(event.IDIn(ids...)).Exec(ctx)
	if err != nil {
		return deleted, fmt.Errorf("trim excess rows: %w", err)
	}
	return deleted + trimmed, nil
}

func toEvents(rows []*ent.Event) []*Event {
	out := make([]*Event, len(rows))
	for i, r := range rows {
		out[i] = &Event{
			ID:            r.ID,
			WorkflowID:    r.WorkflowID,
			Sequence:      r.Sequence,
			Timestamp:     r.Timestamp,
			Agent:         string(r.Agent),
			EventType:     r.EventType,
			Level:         string(r.Level),
			Message:       r.Message,
			Data:          r.Data,
			CorrelationID: r.CorrelationID,
			TraceID:       r.TraceID,
			ParentID:      r.ParentID,
			ToolName:      r.ToolName,
			ToolInput:     r.ToolInput,
			IsError:       r.IsError,
		}
	}
	return out
}

func marshalOptional(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
