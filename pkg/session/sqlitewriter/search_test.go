package sqlitewriter

import (
	"context"
	"testing"

	"github.com/relaycore/lunaroute/pkg/session"
	"github.com/relaycore/lunaroute/pkg/session/search"
)

func TestSearch_FiltersByProviderAndPaginates(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	w.WriteEvent(ctx, session.Started("sess-anthropic", "r1", "claude-3-5-sonnet", "anthropic", "api", false, nil))
	w.WriteEvent(ctx, session.Started("sess-openai", "r2", "gpt-4o", "openai", "api", false, nil))

	f := search.DefaultFilter()
	f.Providers = []string{"anthropic"}

	results, err := w.Search(ctx, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results.TotalCount != 1 || len(results.Items) != 1 {
		t.Fatalf("expected exactly one matching session, got %+v", results)
	}
	if results.Items[0].SessionID != "sess-anthropic" {
		t.Errorf("unexpected session returned: %+v", results.Items[0])
	}
}

func TestSearch_EmptyFilterReturnsEverything(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	w.WriteEvent(ctx, session.Started("sess-1", "r1", "m", "p", "l", false, nil))
	w.WriteEvent(ctx, session.Started("sess-2", "r2", "m", "p", "l", false, nil))

	results, err := w.Search(ctx, search.DefaultFilter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results.TotalCount != 2 || len(results.Items) != 2 {
		t.Fatalf("expected both sessions returned, got %+v", results)
	}
}

func TestSearch_PageSizeLimitsReturnedItemsButNotTotalCount(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		w.WriteEvent(ctx, session.Started(
			string(rune('a'+i))+"-sess", "r", "m", "p", "l", false, nil))
	}

	f := search.DefaultFilter()
	f.PageSize = 2
	results, err := w.Search(ctx, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results.Items) != 2 {
		t.Errorf("expected page size to cap returned items at 2, got %d", len(results.Items))
	}
	if results.TotalCount != 3 {
		t.Errorf("expected total count to reflect all matching rows (3), got %d", results.TotalCount)
	}
}
