package pgwriter

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycore/lunaroute/pkg/session/search"
)

// totalTokensExpr mirrors the SQLite schema's generated total_tokens
// column, since this table stores the raw per-kind counters without one.
const totalTokensExpr = `(input_tokens + output_tokens +
	COALESCE(thinking_tokens, 0) + COALESCE(reasoning_tokens, 0) +
	COALESCE(cache_read_tokens, 0) + COALESCE(cache_creation_tokens, 0) +
	COALESCE(audio_input_tokens, 0) + COALESCE(audio_output_tokens, 0))`

// Search runs a tenant-scoped, filtered, paginated query against the
// sessions table. The tenant_id predicate is always prepended, ahead of
// and independent from the caller-supplied filter, so no caller can
// widen a search beyond its own tenant.
func (w *Writer) Search(ctx context.Context, f search.Filter) (search.Results[search.Record], error) {
	where, args := f.BuildWhere(pgPlaceholderAfter(1), "ESCAPE '\\'")
	args = append([]interface{}{string(w.tenantID)}, args...)
	fullWhere := fmt.Sprintf("tenant_id = $1 AND (%s)", where)
	orderBy := pgOrderBy(f.Sort)

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sessions WHERE %s", fullWhere)
	if err := w.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return search.Results[search.Record]{}, fmt.Errorf("pgwriter: count: %w", err)
	}

	limitArg := len(args) + 1
	offsetArg := len(args) + 2
	pageArgs := append(append([]interface{}{}, args...), f.PageSize, f.Offset())
	rowsQuery := fmt.Sprintf(`
		SELECT session_id, request_id, started_at, completed_at, provider,
			model_requested, model_used, success, error_message, finish_reason,
			total_duration_ms, input_tokens, output_tokens, %s AS total_tokens,
			is_streaming, client_ip
		FROM sessions
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, totalTokensExpr, fullWhere, orderBy, limitArg, offsetArg)

	rows, err := w.pool.Query(ctx, rowsQuery, pageArgs...)
	if err != nil {
		return search.Results[search.Record]{}, fmt.Errorf("pgwriter: search: %w", err)
	}
	defer rows.Close()

	var items []search.Record
	for rows.Next() {
		var r search.Record
		var requestID, modelUsed, errorMessage, finishReason, clientIP *string
		var completedAt *time.Time
		var success *bool
		var totalDurationMS *int64

		if err := rows.Scan(&r.SessionID, &requestID, &r.StartedAt, &completedAt, &r.Provider,
			&r.ModelRequested, &modelUsed, &success, &errorMessage, &finishReason,
			&totalDurationMS, &r.InputTokens, &r.OutputTokens, &r.TotalTokens,
			&r.IsStreaming, &clientIP); err != nil {
			return search.Results[search.Record]{}, fmt.Errorf("pgwriter: scan: %w", err)
		}
		if requestID != nil {
			r.RequestID = *requestID
		}
		if modelUsed != nil {
			r.ModelUsed = *modelUsed
		}
		if errorMessage != nil {
			r.ErrorMessage = *errorMessage
		}
		if finishReason != nil {
			r.FinishReason = *finishReason
		}
		if clientIP != nil {
			r.ClientIP = *clientIP
		}
		if completedAt != nil {
			r.CompletedAt = completedAt
		}
		r.Success = success
		r.TotalDurationMS = totalDurationMS
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return search.Results[search.Record]{}, fmt.Errorf("pgwriter: rows: %w", err)
	}

	return search.NewResults(items, total, f.Page, f.PageSize), nil
}

// pgPlaceholderAfter returns a Placeholder that offsets generated $n
// markers by base, since tenant_id already occupies $1.
func pgPlaceholderAfter(base int) search.Placeholder {
	return func(n int) string {
		return search.PostgresPlaceholder(n + base)
	}
}

func pgOrderBy(s search.SortOrder) string {
	switch s {
	case search.SortOldestFirst:
		return "started_at ASC"
	case search.SortHighestTokens:
		return totalTokensExpr + " DESC"
	case search.SortLongestDuration:
		return "total_duration_ms DESC NULLS LAST"
	case search.SortShortestDuration:
		return "total_duration_ms ASC NULLS LAST"
	default:
		return "started_at DESC"
	}
}
