package sqlitewriter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaycore/lunaroute/pkg/session"
)

func openTestWriter(t *testing.T) *Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func querySession(t *testing.T, w *Writer, sessionID, column string) interface{} {
	t.Helper()
	var v interface{}
	row := w.db.QueryRow(`SELECT `+column+` FROM sessions WHERE session_id = ?`, sessionID)
	if err := row.Scan(&v); err != nil {
		t.Fatalf("unexpected error querying %s: %v", column, err)
	}
	return v
}

func TestOpen_SeedsSchemaVersion(t *testing.T) {
	w := openTestWriter(t)
	var version int
	if err := w.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}
}

func TestWriteEvent_StartedInsertsSessionRow(t *testing.T) {
	w := openTestWriter(t)
	ev := session.Started("sess-1", "req-1", "claude-3-5-sonnet", "anthropic", "api", true, nil)
	if err := w.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := querySession(t, w, "sess-1", "provider"); got != "anthropic" {
		t.Errorf("unexpected provider: %v", got)
	}
}

func TestWriteEvent_StartedIsIdempotent(t *testing.T) {
	w := openTestWriter(t)
	ev := session.Started("sess-1", "req-1", "m", "anthropic", "api", false, nil)
	w.WriteEvent(context.Background(), ev)
	// A retried Started event (e.g. at-least-once delivery) must not error.
	if err := w.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("expected INSERT OR IGNORE to tolerate a duplicate Started event, got %v", err)
	}
}

func TestHandleStatsUpdated_TakesMaxAcrossUpdates(t *testing.T) {
	w := openTestWriter(t)
	w.WriteEvent(context.Background(), session.Started("sess-1", "req-1", "m", "p", "l", false, nil))

	w.WriteEvent(context.Background(), session.Event{
		Kind: session.EventStatsUpdated, SessionID: "sess-1",
		Tokens: &session.TokenTotals{InputTokens: 10, OutputTokens: 20},
	})
	w.WriteEvent(context.Background(), session.Event{
		Kind: session.EventStatsUpdated, SessionID: "sess-1",
		Tokens: &session.TokenTotals{InputTokens: 5, OutputTokens: 50},
	})

	if got := querySession(t, w, "sess-1", "input_tokens"); got != int64(10) {
		t.Errorf("expected input_tokens to stay at the max (10), got %v", got)
	}
	if got := querySession(t, w, "sess-1", "output_tokens"); got != int64(50) {
		t.Errorf("expected output_tokens to take the new max (50), got %v", got)
	}
}

func TestHandleCompleted_UpdatesSuccessAndFinishReason(t *testing.T) {
	w := openTestWriter(t)
	start := time.Now().UTC()
	ev := session.Started("sess-1", "req-1", "m", "p", "l", false, nil)
	ev.Timestamp = start
	w.WriteEvent(context.Background(), ev)

	completed := session.Completed("sess-1", "req-1", true, "", "stop", nil)
	completed.Timestamp = start.Add(500 * time.Millisecond)
	if err := w.WriteEvent(context.Background(), completed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := querySession(t, w, "sess-1", "finish_reason"); got != "stop" {
		t.Errorf("unexpected finish_reason: %v", got)
	}
	if got := querySession(t, w, "sess-1", "success"); got != true {
		t.Errorf("expected success=true, got %v", got)
	}
}

func TestHandleToolCallRecorded_UpsertsOnConflict(t *testing.T) {
	w := openTestWriter(t)
	w.WriteEvent(context.Background(), session.Started("sess-1", "req-1", "m", "p", "l", false, nil))

	execMS := int64(100)
	ev := session.ToolCallRecorded("sess-1", "req-1", "get_weather", "toolu_1", &execMS, 20, nil, nil, `{"loc":"NYC"}`)
	if err := w.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-recording the same call (e.g. a retried execution result) must
	// update in place rather than violating the unique index.
	execMS2 := int64(150)
	ev2 := session.ToolCallRecorded("sess-1", "req-1", "get_weather", "toolu_1", &execMS2, 20, nil, nil, `{"loc":"NYC"}`)
	if err := w.WriteEvent(context.Background(), ev2); err != nil {
		t.Fatalf("unexpected error on upsert: %v", err)
	}

	var count int
	if err := w.db.QueryRow(`SELECT COUNT(*) FROM tool_call_executions WHERE session_id = ?`, "sess-1").Scan(&count); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one tool_call_executions row after upsert, got %d", count)
	}
}

func TestWriteEvent_UnhandledKindErrors(t *testing.T) {
	w := openTestWriter(t)
	err := w.WriteEvent(context.Background(), session.Event{Kind: session.EventKind(999)})
	if err == nil {
		t.Error("expected an error for an unhandled event kind")
	}
}
