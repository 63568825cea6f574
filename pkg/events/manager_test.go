package events_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
)

// fakeBackfillSource is an in-memory BackfillSource so ConnectionManager
// tests don't need a real Postgres instance.
type fakeBackfillSource struct {
	byID map[string]*eventstore.Event
	byWF map[string][]*eventstore.Event
}

func newFakeBackfillSource() *fakeBackfillSource {
	return &fakeBackfillSource{byID: map[string]*eventstore.Event{}, byWF: map[string][]*eventstore.Event{}}
}

func (f *fakeBackfillSource) add(evt *eventstore.Event) {
	f.byID[evt.ID] = evt
	f.byWF[evt.WorkflowID] = append(f.byWF[evt.WorkflowID], evt)
}

func (f *fakeBackfillSource) GetByID(_ context.Context, id string) (*eventstore.Event, error) {
	evt, ok := f.byID[id]
	if !ok {
		return nil, eventstore.ErrCursorNotFound
	}
	return evt, nil
}

func (f *fakeBackfillSource) ListAfter(_ context.Context, workflowID string, afterSeq, limit int) ([]*eventstore.Event, error) {
	var out []*eventstore.Event
	for _, evt := range f.byWF[workflowID] {
		if evt.Sequence > afterSeq {
			out = append(out, evt)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func startTestServer(t *testing.T, mgr *events.ConnectionManager, since string) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		mgr.HandleConnection(r.Context(), conn, r.URL.Query().Get("since"))
	}))

	url := "ws" + srv.URL[len("http"):] + "/ws"
	if since != "" {
		url += "?since=" + since
	}
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	return conn, func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		srv.Close()
	}
}

func readJSON(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestConnectionManager_BroadcastReachesSubscribedConnection(t *testing.T) {
	mgr := events.NewConnectionManager(newFakeBackfillSource(), time.Second, time.Hour, time.Hour)
	conn, cleanup := startTestServer(t, mgr, "")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"subscribe","workflow_id":"wf-1"}`)))

	// Give the server a moment to process the subscribe message before
	// broadcasting, since the connection's read loop runs concurrently.
	require.Eventually(t, func() bool { return mgr.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mgr.Broadcast(&eventstore.Event{
		ID: "evt-1", WorkflowID: "wf-1", Sequence: 1, Agent: "system",
		EventType: events.EventTypeWorkflowCompleted, Level: events.LevelInfo, Message: "done",
	})

	msg := readJSON(t, ctx, conn)
	require.Equal(t, "event", msg["type"])
}

func TestConnectionManager_BroadcastSkipsUnsubscribedWorkflow(t *testing.T) {
	mgr := events.NewConnectionManager(newFakeBackfillSource(), time.Second, time.Hour, time.Hour)
	conn, cleanup := startTestServer(t, mgr, "")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"subscribe","workflow_id":"wf-1"}`)))
	require.Eventually(t, func() bool { return mgr.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mgr.Broadcast(&eventstore.Event{
		ID: "evt-1", WorkflowID: "wf-other", Sequence: 1, Agent: "system",
		EventType: events.EventTypeWorkflowCompleted, Level: events.LevelInfo, Message: "done",
	})

	readCtx, readCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer readCancel()
	_, _, err := conn.Read(readCtx)
	require.Error(t, err, "non-trace event for an unsubscribed workflow must not be delivered")
}

func TestConnectionManager_BroadcastTraceReachesEveryConnectionRegardlessOfSubscription(t *testing.T) {
	mgr := events.NewConnectionManager(newFakeBackfillSource(), time.Second, time.Hour, time.Hour)
	conn, cleanup := startTestServer(t, mgr, "")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Eventually(t, func() bool { return mgr.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	mgr.Broadcast(&eventstore.Event{
		ID: "evt-1", WorkflowID: "wf-unsubscribed", Sequence: 1, Agent: "architect",
		EventType: events.EventTypeLLMThinking, Level: events.LevelTrace, Message: "thinking",
	})

	msg := readJSON(t, ctx, conn)
	require.Equal(t, "event", msg["type"])
}

func TestConnectionManager_BackfillReplaysTailThenCompletes(t *testing.T) {
	source := newFakeBackfillSource()
	source.add(&eventstore.Event{ID: "evt-1", WorkflowID: "wf-1", Sequence: 1, Message: "one"})
	source.add(&eventstore.Event{ID: "evt-2", WorkflowID: "wf-1", Sequence: 2, Message: "two"})
	source.add(&eventstore.Event{ID: "evt-3", WorkflowID: "wf-1", Sequence: 3, Message: "three"})

	mgr := events.NewConnectionManager(source, time.Second, time.Hour, time.Hour)
	conn, cleanup := startTestServer(t, mgr, "evt-1")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := readJSON(t, ctx, conn)
	require.Equal(t, "event", first["type"])
	second := readJSON(t, ctx, conn)
	require.Equal(t, "event", second["type"])
	done := readJSON(t, ctx, conn)
	require.Equal(t, "backfill_complete", done["type"])
	require.EqualValues(t, 2, done["count"])
}

func TestConnectionManager_BackfillExpiredOnUnknownCursor(t *testing.T) {
	mgr := events.NewConnectionManager(newFakeBackfillSource(), time.Second, time.Hour, time.Hour)
	conn, cleanup := startTestServer(t, mgr, "unknown-cursor")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := readJSON(t, ctx, conn)
	require.Equal(t, "backfill_expired", msg["type"])
}
