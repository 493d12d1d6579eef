package search

import (
	"fmt"
	"strings"
)

// Placeholder picks the parameter marker style for a SQL dialect: SQLite
// uses positional "?", Postgres uses "$n".
type Placeholder func(n int) string

func SQLitePlaceholder(_ int) string { return "?" }

func PostgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// OrderBy renders the ORDER BY clause for a sort order against the SQLite
// sessions table's column names. Postgres has no total_tokens column, so
// its backend renders its own clause (pgOrderBy) instead of this one.
func (s SortOrder) OrderBy() string {
	switch s {
	case SortOldestFirst:
		return "started_at ASC"
	case SortHighestTokens:
		return "total_tokens DESC"
	case SortLongestDuration:
		return "total_duration_ms DESC"
	case SortShortestDuration:
		return "total_duration_ms ASC"
	default:
		return "started_at DESC"
	}
}

// BuildWhere renders the WHERE clause (without the "WHERE" keyword) and
// its bound arguments for f, using ph to render parameter markers and
// likeEscapeClause as the dialect's ESCAPE-clause suffix (e.g. "ESCAPE '\'").
// An empty filter renders "1=1" so callers can always append "AND ...".
func (f Filter) BuildWhere(ph Placeholder, likeEscapeClause string) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return ph(len(args))
	}

	if f.TimeRange != nil {
		clauses = append(clauses, fmt.Sprintf("started_at >= %s", next(f.TimeRange.Start)))
		clauses = append(clauses, fmt.Sprintf("started_at <= %s", next(f.TimeRange.End)))
	}
	addIn := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		marks := make([]string, len(vals))
		for i, v := range vals {
			marks[i] = next(v)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
	}
	addIn("provider", f.Providers)
	addIn("model_requested", f.Models)
	addIn("request_id", f.RequestIDs)
	addIn("session_id", f.SessionIDs)
	addIn("client_ip", f.ClientIPs)
	addIn("finish_reason", f.FinishReasons)

	if f.Success != nil {
		clauses = append(clauses, fmt.Sprintf("success = %s", next(*f.Success)))
	}
	if f.IsStreaming != nil {
		clauses = append(clauses, fmt.Sprintf("is_streaming = %s", next(*f.IsStreaming)))
	}
	if f.MinTokens != nil {
		clauses = append(clauses, fmt.Sprintf("total_tokens >= %s", next(*f.MinTokens)))
	}
	if f.MaxTokens != nil {
		clauses = append(clauses, fmt.Sprintf("total_tokens <= %s", next(*f.MaxTokens)))
	}
	if f.MinDurationMS != nil {
		clauses = append(clauses, fmt.Sprintf("total_duration_ms >= %s", next(*f.MinDurationMS)))
	}
	if f.MaxDurationMS != nil {
		clauses = append(clauses, fmt.Sprintf("total_duration_ms <= %s", next(*f.MaxDurationMS)))
	}
	if f.TextSearch != "" {
		pattern := "%" + EscapeLike(f.TextSearch) + "%"
		mark := next(pattern)
		clauses = append(clauses,
			fmt.Sprintf("(request_text LIKE %s %s OR response_text LIKE %s %s)", mark, likeEscapeClause, mark, likeEscapeClause))
	}

	if len(clauses) == 0 {
		return "1=1", args
	}
	return strings.Join(clauses, " AND "), args
}

// Offset returns the row offset for the filter's page/page_size.
func (f Filter) Offset() int {
	return f.Page * f.PageSize
}
