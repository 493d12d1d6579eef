package search

import "time"

// Record is the simplified session projection a search returns, as
// opposed to the full event history a writer records.
type Record struct {
	SessionID       string
	RequestID       string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Provider        string
	ModelRequested  string
	ModelUsed       string
	Success         *bool
	ErrorMessage    string
	FinishReason    string
	TotalDurationMS *int64
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	IsStreaming     bool
	ClientIP        string
}

// Aggregates summarizes a filtered set of sessions without returning
// every row, for dashboard-style queries.
type Aggregates struct {
	TotalSessions      int64
	SuccessfulSessions int64
	FailedSessions     int64
	TotalTokens        int64
	TotalInputTokens   int64
	TotalOutputTokens  int64
	AvgDurationMS      float64
	P50DurationMS      float64
	P95DurationMS      float64
	P99DurationMS      float64
	SessionsByProvider map[string]int64
	SessionsByModel    map[string]int64
}

// Results is a page of T plus the pagination metadata computed from the
// unfiltered total count.
type Results[T any] struct {
	Items      []T
	TotalCount int64
	Page       int
	PageSize   int
	TotalPages int
}

// NewResults computes TotalPages as max(1, ceil(totalCount/pageSize)),
// matching the original's div_ceil(...).max(1).
func NewResults[T any](items []T, totalCount int64, page, pageSize int) Results[T] {
	totalPages := 1
	if pageSize > 0 && totalCount > 0 {
		totalPages = int((totalCount + int64(pageSize) - 1) / int64(pageSize))
		if totalPages < 1 {
			totalPages = 1
		}
	}
	return Results[T]{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

func (r Results[T]) HasNextPage() bool {
	return r.Page+1 < r.TotalPages
}

func (r Results[T]) HasPrevPage() bool {
	return r.Page > 0
}
