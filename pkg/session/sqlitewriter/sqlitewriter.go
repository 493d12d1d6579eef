// Package sqlitewriter implements a session.Writer backed by a local
// SQLite database, versioned migrations, and MAX-update semantics on
// token columns so concurrent partial updates never double-count.
package sqlitewriter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaycore/lunaroute/pkg/session"
)

// Writer persists session events to a local SQLite file.
type Writer struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path, runs schema
// setup and any pending migrations, and returns a ready Writer.
func Open(path string) (*Writer, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("sqlitewriter: open: %w", err)
	}
	// SQLite serializes writers internally; a single open connection
	// avoids SQLITE_BUSY from this process's own concurrent goroutines.
	db.SetMaxOpenConns(1)

	w := &Writer{db: db}
	if err := w.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Name() string { return "sqlite" }

func (w *Writer) migrate() error {
	for _, stmt := range baseSchema {
		if _, err := w.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlitewriter: schema setup: %w (%s)", err, stmt)
		}
	}
	if _, err := w.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
		return fmt.Errorf("sqlitewriter: seed schema_version: %w", err)
	}
	// Clean up any duplicate version rows from a prior buggy INSERT OR
	// IGNORE, keeping only the minimum (the version to migrate from).
	if _, err := w.db.Exec(`DELETE FROM schema_version WHERE version NOT IN (SELECT MIN(version) FROM schema_version)`); err != nil {
		return fmt.Errorf("sqlitewriter: clean schema_version: %w", err)
	}

	var version int
	if err := w.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("sqlitewriter: read schema_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("sqlitewriter: database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	for version < currentSchemaVersion {
		stmts, ok := migrationStatements[version]
		if !ok {
			return fmt.Errorf("sqlitewriter: no migration registered from version %d", version)
		}
		tx, err := w.db.Begin()
		if err != nil {
			return fmt.Errorf("sqlitewriter: begin migration %d->%d: %w", version, version+1, err)
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("sqlitewriter: migration %d->%d failed: %w (%s)", version, version+1, err, stmt)
			}
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, version+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlitewriter: migration %d->%d version update failed: %w", version, version+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlitewriter: commit migration %d->%d: %w", version, version+1, err)
		}
		version++
	}
	return nil
}

func marshalJSON(v interface{}) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func (w *Writer) WriteEvent(ctx context.Context, ev session.Event) error {
	switch ev.Kind {
	case session.EventStarted:
		return w.handleStarted(ctx, ev)
	case session.EventRequestRecorded:
		return w.handleRequestRecorded(ctx, ev)
	case session.EventStreamStarted:
		return w.handleStreamStarted(ctx, ev)
	case session.EventResponseRecorded:
		return w.handleResponseRecorded(ctx, ev)
	case session.EventToolCallRecorded:
		return w.handleToolCallRecorded(ctx, ev)
	case session.EventStatsUpdated:
		return w.handleStatsUpdated(ctx, ev)
	case session.EventStatsSnapshot:
		return nil // transient, never persisted
	case session.EventCompleted:
		return w.handleCompleted(ctx, ev)
	default:
		return fmt.Errorf("sqlitewriter: unhandled event kind %v", ev.Kind)
	}
}

func (w *Writer) WriteBatch(ctx context.Context, evs []session.Event) error {
	for _, ev := range evs {
		if err := w.WriteEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Flush(_ context.Context) error { return nil }

func (w *Writer) Close() error { return w.db.Close() }

func (w *Writer) handleStarted(ctx context.Context, ev session.Event) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (session_id, request_id, started_at, provider, listener, model_requested, is_streaming)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.RequestID, ev.Timestamp, ev.Provider, ev.Listener, ev.ModelRequested, ev.IsStreaming,
	)
	return err
}

func (w *Writer) handleRequestRecorded(ctx context.Context, ev session.Event) error {
	_, err := w.db.ExecContext(ctx, `UPDATE sessions SET request_text = ? WHERE session_id = ?`, ev.RequestText, ev.SessionID)
	return err
}

func (w *Writer) handleStreamStarted(ctx context.Context, ev session.Event) error {
	_, err := w.db.ExecContext(ctx, `UPDATE sessions SET time_to_first_token_ms = ? WHERE session_id = ?`, ev.TimeToFirstTokenMS, ev.SessionID)
	return err
}

// handleResponseRecorded is a straight write: the last write wins for
// non-token columns and the token columns keep the larger value, matching
// the original's "ResponseRecorded already sets tokens" comment on the
// Completed handler.
func (w *Writer) handleResponseRecorded(ctx context.Context, ev session.Event) error {
	stats := ev.ResponseStats
	input, output := tokensFromStats(stats)
	_, err := w.db.ExecContext(ctx, `
		UPDATE sessions SET response_text = ?, model_used = ?,
			input_tokens = MAX(COALESCE(input_tokens, 0), ?),
			output_tokens = MAX(COALESCE(output_tokens, 0), ?)
		WHERE session_id = ?`,
		ev.ResponseText, ev.ModelUsed, input, output, ev.SessionID,
	)
	return err
}

func tokensFromStats(stats map[string]interface{}) (int64, int64) {
	var input, output int64
	if v, ok := stats["input_tokens"]; ok {
		input, _ = toInt64(v)
	}
	if v, ok := stats["output_tokens"]; ok {
		output, _ = toInt64(v)
	}
	return input, output
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func (w *Writer) handleToolCallRecorded(ctx context.Context, ev session.Event) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO tool_call_executions
			(session_id, request_id, tool_call_id, tool_name, tool_arguments, execution_time_ms, input_size_bytes, output_size_bytes, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, request_id, tool_call_id) DO UPDATE SET
			execution_time_ms = excluded.execution_time_ms,
			output_size_bytes = excluded.output_size_bytes,
			success = excluded.success`,
		ev.SessionID, ev.RequestID, ev.ToolCallID, ev.ToolName, ev.ToolArgumentsRaw,
		ev.ToolExecutionMS, ev.ToolInputSize, ev.ToolOutputSize, ev.ToolSuccess,
	)
	if err != nil {
		return err
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO tool_stats (session_id, request_id, tool_name, call_count, avg_execution_time_ms, error_count)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (session_id, request_id, tool_name) DO UPDATE SET
			call_count = call_count + 1,
			avg_execution_time_ms = (COALESCE(avg_execution_time_ms, 0) * call_count + COALESCE(excluded.avg_execution_time_ms, 0)) / (call_count + 1),
			error_count = error_count + excluded.error_count`,
		ev.SessionID, ev.RequestID, ev.ToolName, ev.ToolExecutionMS, toolErrorCount(ev.ToolSuccess),
	)
	return err
}

func toolErrorCount(success *bool) int {
	if success != nil && !*success {
		return 1
	}
	return 0
}

func (w *Writer) handleStatsUpdated(ctx context.Context, ev session.Event) error {
	if ev.Tokens == nil {
		return nil
	}
	t := ev.Tokens
	_, err := w.db.ExecContext(ctx, `
		UPDATE sessions SET
			input_tokens = MAX(COALESCE(input_tokens, 0), ?),
			output_tokens = MAX(COALESCE(output_tokens, 0), ?),
			thinking_tokens = MAX(COALESCE(thinking_tokens, 0), ?),
			reasoning_tokens = MAX(COALESCE(reasoning_tokens, 0), ?),
			cache_read_tokens = MAX(COALESCE(cache_read_tokens, 0), ?),
			cache_creation_tokens = MAX(COALESCE(cache_creation_tokens, 0), ?),
			audio_input_tokens = MAX(COALESCE(audio_input_tokens, 0), ?),
			audio_output_tokens = MAX(COALESCE(audio_output_tokens, 0), ?),
			user_agent = COALESCE(?, user_agent)
		WHERE session_id = ?`,
		t.InputTokens, t.OutputTokens, t.ThinkingTokens, t.ReasoningTokens,
		t.CacheReadTokens, t.CacheCreationTokens, t.AudioInputTokens, t.AudioOutputTokens,
		nullIfEmpty(ev.UserAgent), ev.SessionID,
	)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// handleCompleted applies the MAX-update rule on every token field plus a
// conflict-resolved duration: the larger of the server-computed elapsed
// time since started_at and the caller-provided total_duration_ms, which
// tolerates clock skew at the cost of a documented over-reporting bias
// when the client clock runs ahead.
func (w *Writer) handleCompleted(ctx context.Context, ev session.Event) error {
	stats := ev.FinalStats
	var totalDurationMS int64
	var tokens session.TokenTotals
	if stats != nil {
		if v, ok := stats["total_duration_ms"]; ok {
			totalDurationMS, _ = toInt64(v)
		}
		tokens = tokenTotalsFromStats(stats)
	}

	var errMsg, finishReason interface{}
	if ev.Error != "" {
		errMsg = ev.Error
	}
	if ev.FinishReason != "" {
		finishReason = ev.FinishReason
	}

	_, err := w.db.ExecContext(ctx, `
		UPDATE sessions
		SET completed_at = ?,
			success = ?,
			error_message = ?,
			finish_reason = ?,
			total_duration_ms = MAX(
				CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER),
				?
			),
			input_tokens = MAX(COALESCE(input_tokens, 0), ?),
			output_tokens = MAX(COALESCE(output_tokens, 0), ?),
			thinking_tokens = MAX(COALESCE(thinking_tokens, 0), ?),
			reasoning_tokens = MAX(COALESCE(reasoning_tokens, 0), ?),
			cache_read_tokens = MAX(COALESCE(cache_read_tokens, 0), ?),
			cache_creation_tokens = MAX(COALESCE(cache_creation_tokens, 0), ?),
			audio_input_tokens = MAX(COALESCE(audio_input_tokens, 0), ?),
			audio_output_tokens = MAX(COALESCE(audio_output_tokens, 0), ?)
		WHERE session_id = ?`,
		ev.Timestamp, ev.Success, errMsg, finishReason,
		ev.Timestamp, totalDurationMS,
		tokens.InputTokens, tokens.OutputTokens, tokens.ThinkingTokens, tokens.ReasoningTokens,
		tokens.CacheReadTokens, tokens.CacheCreationTokens, tokens.AudioInputTokens, tokens.AudioOutputTokens,
		ev.SessionID,
	)
	return err
}

func tokenTotalsFromStats(stats map[string]interface{}) session.TokenTotals {
	get := func(key string) int64 {
		v, ok := stats[key]
		if !ok {
			return 0
		}
		n, _ := toInt64(v)
		return n
	}
	return session.TokenTotals{
		InputTokens:         get("input_tokens"),
		OutputTokens:        get("output_tokens"),
		ThinkingTokens:      get("thinking_tokens"),
		ReasoningTokens:     get("reasoning_tokens"),
		CacheReadTokens:     get("cache_read_tokens"),
		CacheCreationTokens: get("cache_creation_tokens"),
		AudioInputTokens:    get("audio_input_tokens"),
		AudioOutputTokens:   get("audio_output_tokens"),
	}
}
