// Package pgwriter implements a session.Writer backed by a shared,
// multi-tenant PostgreSQL store. Every row carries a tenant_id and every
// query filters on it; there is no single-tenant mode, matching the
// original store's requirement that a tenant id always be supplied.
package pgwriter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycore/lunaroute/pkg/session"
)

// TenantID scopes every row this writer touches. The zero value is never
// valid; Open rejects it the same way the original store
// requires a tenant id on every call.
type TenantID string

// Writer persists session events to a shared PostgreSQL database, scoped
// to TenantID.
type Writer struct {
	pool     *pgxpool.Pool
	tenantID TenantID
}

func Open(ctx context.Context, databaseURL string, tenantID TenantID) (*Writer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("pgwriter: tenant id is required (multi-tenant mode only)")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgwriter: connect: %w", err)
	}
	w := &Writer{pool: pool, tenantID: tenantID}
	if err := w.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Name() string { return "postgres" }

func (w *Writer) Close() { w.pool.Close() }

func (w *Writer) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			request_id TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			provider TEXT NOT NULL,
			listener TEXT NOT NULL,
			model_requested TEXT NOT NULL,
			model_used TEXT,
			success BOOLEAN,
			error_message TEXT,
			finish_reason TEXT,
			total_duration_ms BIGINT,
			input_tokens BIGINT DEFAULT 0,
			output_tokens BIGINT DEFAULT 0,
			thinking_tokens BIGINT DEFAULT 0,
			reasoning_tokens BIGINT DEFAULT 0,
			cache_read_tokens BIGINT DEFAULT 0,
			cache_creation_tokens BIGINT DEFAULT 0,
			audio_input_tokens BIGINT DEFAULT 0,
			audio_output_tokens BIGINT DEFAULT 0,
			request_text TEXT,
			response_text TEXT,
			client_ip TEXT,
			user_agent TEXT,
			is_streaming BOOLEAN DEFAULT false,
			time_to_first_token_ms BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_created ON sessions(tenant_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_provider ON sessions(tenant_id, provider, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS tool_call_executions (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_arguments TEXT,
			execution_time_ms BIGINT,
			input_size_bytes BIGINT,
			output_size_bytes BIGINT,
			success BOOLEAN,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (tenant_id, session_id, request_id, tool_call_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_tenant_session ON tool_call_executions(tenant_id, session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := w.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgwriter: schema setup: %w (%s)", err, stmt)
		}
	}
	return nil
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
		return nil
	case session.EventCompleted:
		return w.handleCompleted(ctx, ev)
	default:
		return fmt.Errorf("pgwriter: unhandled event kind %v", ev.Kind)
	}
}

// WriteBatch has no transactional advantage over individual writes here
// since each handler already issues its own statement against the shared
// pool; it exists to satisfy the Writer contract's batching hint.
func (w *Writer) WriteBatch(ctx context.Context, evs []session.Event) error {
	for _, ev := range evs {
		if err := w.WriteEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Flush(_ context.Context) error { return nil }

func (w *Writer) handleStarted(ctx context.Context, ev session.Event) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO sessions (tenant_id, session_id, request_id, started_at, provider, listener, model_requested, is_streaming)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, session_id) DO NOTHING`,
		w.tenantID, ev.SessionID, ev.RequestID, ev.Timestamp, ev.Provider, ev.Listener, ev.ModelRequested, ev.IsStreaming,
	)
	return err
}

func (w *Writer) handleRequestRecorded(ctx context.Context, ev session.Event) error {
	_, err := w.pool.Exec(ctx, `
		UPDATE sessions SET request_text = $1 WHERE tenant_id = $2 AND session_id = $3`,
		ev.RequestText, w.tenantID, ev.SessionID,
	)
	return err
}

func (w *Writer) handleStreamStarted(ctx context.Context, ev session.Event) error {
	_, err := w.pool.Exec(ctx, `
		UPDATE sessions SET time_to_first_token_ms = $1 WHERE tenant_id = $2 AND session_id = $3`,
		ev.TimeToFirstTokenMS, w.tenantID, ev.SessionID,
	)
	return err
}

func (w *Writer) handleResponseRecorded(ctx context.Context, ev session.Event) error {
	_, err := w.pool.Exec(ctx, `
		UPDATE sessions SET response_text = $1, model_used = $2
		WHERE tenant_id = $3 AND session_id = $4`,
		ev.ResponseText, ev.ModelUsed, w.tenantID, ev.SessionID,
	)
	return err
}

func (w *Writer) handleToolCallRecorded(ctx context.Context, ev session.Event) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO tool_call_executions
			(tenant_id, session_id, request_id, tool_call_id, tool_name, tool_arguments, execution_time_ms, input_size_bytes, output_size_bytes, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, session_id, request_id, tool_call_id) DO UPDATE SET
			execution_time_ms = excluded.execution_time_ms,
			output_size_bytes = excluded.output_size_bytes,
			success = excluded.success`,
		w.tenantID, ev.SessionID, ev.RequestID, ev.ToolCallID, ev.ToolName, ev.ToolArgumentsRaw,
		ev.ToolExecutionMS, ev.ToolInputSize, ev.ToolOutputSize, ev.ToolSuccess,
	)
	return err
}

func (w *Writer) handleStatsUpdated(ctx context.Context, ev session.Event) error {
	if ev.Tokens == nil {
		return nil
	}
	t := ev.Tokens
	_, err := w.pool.Exec(ctx, `
		UPDATE sessions SET
			input_tokens = GREATEST(COALESCE(input_tokens, 0), $1),
			output_tokens = GREATEST(COALESCE(output_tokens, 0), $2),
			thinking_tokens = GREATEST(COALESCE(thinking_tokens, 0), $3),
			reasoning_tokens = GREATEST(COALESCE(reasoning_tokens, 0), $4),
			cache_read_tokens = GREATEST(COALESCE(cache_read_tokens, 0), $5),
			cache_creation_tokens = GREATEST(COALESCE(cache_creation_tokens, 0), $6),
			audio_input_tokens = GREATEST(COALESCE(audio_input_tokens, 0), $7),
			audio_output_tokens = GREATEST(COALESCE(audio_output_tokens, 0), $8)
		WHERE tenant_id = $9 AND session_id = $10`,
		t.InputTokens, t.OutputTokens, t.ThinkingTokens, t.ReasoningTokens,
		t.CacheReadTokens, t.CacheCreationTokens, t.AudioInputTokens, t.AudioOutputTokens,
		w.tenantID, ev.SessionID,
	)
	return err
}

// handleCompleted applies the same GREATEST(existing, incoming) rule
// PostgreSQL uses in place of SQLite's MAX() for the same semantics, plus
// the conflict-resolved duration computed via EXTRACT(EPOCH FROM ...).
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

	_, err := w.pool.Exec(ctx, `
		UPDATE sessions SET
			completed_at = $1,
			success = $2,
			error_message = NULLIF($3, ''),
			finish_reason = NULLIF($4, ''),
			total_duration_ms = GREATEST(
				CAST(EXTRACT(EPOCH FROM ($1::timestamptz - started_at)) * 1000 AS BIGINT),
				$5
			),
			input_tokens = GREATEST(COALESCE(input_tokens, 0), $6),
			output_tokens = GREATEST(COALESCE(output_tokens, 0), $7),
			thinking_tokens = GREATEST(COALESCE(thinking_tokens, 0), $8),
			reasoning_tokens = GREATEST(COALESCE(reasoning_tokens, 0), $9),
			cache_read_tokens = GREATEST(COALESCE(cache_read_tokens, 0), $10),
			cache_creation_tokens = GREATEST(COALESCE(cache_creation_tokens, 0), $11),
			audio_input_tokens = GREATEST(COALESCE(audio_input_tokens, 0), $12),
			audio_output_tokens = GREATEST(COALESCE(audio_output_tokens, 0), $13)
		WHERE tenant_id = $14 AND session_id = $15`,
		ev.Timestamp, ev.Success, ev.Error, ev.FinishReason, totalDurationMS,
		tokens.InputTokens, tokens.OutputTokens, tokens.ThinkingTokens, tokens.ReasoningTokens,
		tokens.CacheReadTokens, tokens.CacheCreationTokens, tokens.AudioInputTokens, tokens.AudioOutputTokens,
		w.tenantID, ev.SessionID,
	)
	return err
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
