package sqlitewriter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relaycore/lunaroute/pkg/session/search"
)

// Search runs a filtered, paginated query against the sessions table.
// Validate is the caller's responsibility; Search trusts f is already
// within bounds (the HTTP layer calls f.Validate() before reaching here).
func (w *Writer) Search(ctx context.Context, f search.Filter) (search.Results[search.Record], error) {
	where, args := f.BuildWhere(search.SQLitePlaceholder, "ESCAPE '\\'")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sessions WHERE %s", where)
	if err := w.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return search.Results[search.Record]{}, fmt.Errorf("sqlitewriter: count: %w", err)
	}

	pageArgs := append(append([]interface{}{}, args...), f.PageSize, f.Offset())
	rowsQuery := fmt.Sprintf(`
		SELECT session_id, request_id, started_at, completed_at, provider,
			model_requested, model_used, success, error_message, finish_reason,
			total_duration_ms, input_tokens, output_tokens, total_tokens,
			is_streaming, client_ip
		FROM sessions
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?`, where, f.Sort.OrderBy())

	rows, err := w.db.QueryContext(ctx, rowsQuery, pageArgs...)
	if err != nil {
		return search.Results[search.Record]{}, fmt.Errorf("sqlitewriter: search: %w", err)
	}
	defer rows.Close()

	var items []search.Record
	for rows.Next() {
		var r search.Record
		var requestID, modelUsed, errorMessage, finishReason, clientIP sql.NullString
		var completedAt sql.NullTime
		var success sql.NullBool
		var totalDurationMS sql.NullInt64

		if err := rows.Scan(&r.SessionID, &requestID, &r.StartedAt, &completedAt, &r.Provider,
			&r.ModelRequested, &modelUsed, &success, &errorMessage, &finishReason,
			&totalDurationMS, &r.InputTokens, &r.OutputTokens, &r.TotalTokens,
			&r.IsStreaming, &clientIP); err != nil {
			return search.Results[search.Record]{}, fmt.Errorf("sqlitewriter: scan: %w", err)
		}
		r.RequestID = requestID.String
		r.ModelUsed = modelUsed.String
		r.ErrorMessage = errorMessage.String
		r.FinishReason = finishReason.String
		r.ClientIP = clientIP.String
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if success.Valid {
			b := success.Bool
			r.Success = &b
		}
		if totalDurationMS.Valid {
			d := totalDurationMS.Int64
			r.TotalDurationMS = &d
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return search.Results[search.Record]{}, fmt.Errorf("sqlitewriter: rows: %w", err)
	}

	return search.NewResults(items, total, f.Page, f.PageSize), nil
}
