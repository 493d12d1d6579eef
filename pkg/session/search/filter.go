// Package search implements the session-record search surface of §4.6:
// a filter struct with a complexity-bounded page size, and pagination
// math shared by every storage backend that supports search (SQLite and
// Postgres; the JSONL writer is append-only and does not).
package search

import (
	"fmt"
	"time"
)

const (
	maxTextSearchLen    = 1000
	maxFilterArrayLen   = 100
	maxStringLen        = 256
	maxPageSizeBase     = 1000
	maxPageSizeModerate = 500
	maxPageSizeComplex  = 100
	defaultPageSize     = 50
)

// SortOrder is the closed enumeration of result orderings.
type SortOrder int

const (
	SortNewestFirst SortOrder = iota
	SortOldestFirst
	SortHighestTokens
	SortLongestDuration
	SortShortestDuration
)

// TimeRange bounds a search by inclusive UTC start/end.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Filter is every optional search criterion of §4.6. Zero value matches
// everything.
type Filter struct {
	TimeRange     *TimeRange
	Providers     []string
	Models        []string
	RequestIDs    []string
	SessionIDs    []string
	Success       *bool
	IsStreaming   *bool
	MinTokens     *int64
	MaxTokens     *int64
	MinDurationMS *int64
	MaxDurationMS *int64
	ClientIPs     []string
	FinishReasons []string
	TextSearch    string

	PageSize int
	Page     int
	Sort     SortOrder
}

// DefaultFilter returns a Filter with page_size=50, page=0, sort=newest-first.
func DefaultFilter() Filter {
	return Filter{PageSize: defaultPageSize, Sort: SortNewestFirst}
}

// Validate checks bound constraints and rejects a page size that exceeds
// the complexity-bounded maximum, naming the applicable limit as §4.6
// requires.
func (f Filter) Validate() error {
	if f.TextSearch != "" && len(f.TextSearch) > maxTextSearchLen {
		return fmt.Errorf("text_search exceeds maximum length of %d", maxTextSearchLen)
	}
	for _, arr := range [][]string{f.Providers, f.Models, f.RequestIDs, f.SessionIDs, f.ClientIPs, f.FinishReasons} {
		if len(arr) > maxFilterArrayLen {
			return fmt.Errorf("filter array exceeds maximum length of %d", maxFilterArrayLen)
		}
		for _, s := range arr {
			if len(s) > maxStringLen {
				return fmt.Errorf("filter string exceeds maximum length of %d", maxStringLen)
			}
		}
	}
	if f.TimeRange != nil {
		if f.TimeRange.Start.After(f.TimeRange.End) {
			return fmt.Errorf("time_range start must not be after end")
		}
		tenYears := 10 * 365 * 24 * time.Hour
		now := time.Now()
		if f.TimeRange.Start.Before(now.Add(-tenYears)) || f.TimeRange.End.After(now.Add(tenYears)) {
			return fmt.Errorf("time_range must be within 10 years of now")
		}
	}
	if f.MinTokens != nil && f.MaxTokens != nil && *f.MinTokens > *f.MaxTokens {
		return fmt.Errorf("min_tokens must not exceed max_tokens")
	}
	if f.MinDurationMS != nil && f.MaxDurationMS != nil && *f.MinDurationMS > *f.MaxDurationMS {
		return fmt.Errorf("min_duration_ms must not exceed max_duration_ms")
	}
	if f.PageSize <= 0 {
		return fmt.Errorf("page_size must be > 0")
	}
	if f.Page < 0 {
		return fmt.Errorf("page must be >= 0")
	}
	maxAllowed := f.MaxPageSizeForQuery()
	if f.PageSize > maxAllowed {
		return fmt.Errorf("page_size %d exceeds the maximum of %d allowed for this query's complexity", f.PageSize, maxAllowed)
	}
	return nil
}

// QueryComplexity scores the filter's cost, grounded exactly on the
// original's per-criterion weights: text search is the single most
// expensive criterion (a LIKE scan), IN-arrays scale with size, and every
// other predicate is a flat add.
func (f Filter) QueryComplexity() int {
	score := 0
	if f.TextSearch != "" {
		score += 3
	}
	if f.TimeRange != nil {
		score += 1
	}
	score += len(f.Providers) / 10
	score += len(f.Models) / 10
	score += len(f.RequestIDs) / 10
	score += len(f.SessionIDs) / 10
	score += len(f.ClientIPs) / 10
	score += len(f.FinishReasons) / 10
	if f.Success != nil {
		score += 1
	}
	if f.IsStreaming != nil {
		score += 1
	}
	if f.MinTokens != nil || f.MaxTokens != nil {
		score += 1
	}
	if f.MinDurationMS != nil || f.MaxDurationMS != nil {
		score += 1
	}
	return score
}

// MaxPageSizeForQuery returns 1000/500/100 for complexity <=1 / <=5 / else.
func (f Filter) MaxPageSizeForQuery() int {
	complexity := f.QueryComplexity()
	switch {
	case complexity <= 1:
		return maxPageSizeBase
	case complexity <= 5:
		return maxPageSizeModerate
	default:
		return maxPageSizeComplex
	}
}

// EscapeLike escapes a LIKE pattern's special characters so the free-text
// term searches as a literal substring under an explicit ESCAPE '\' clause.
func EscapeLike(term string) string {
	out := make([]byte, 0, len(term))
	for i := 0; i < len(term); i++ {
		c := term[i]
		switch c {
		case '\\', '%', '_':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
