package pgwriter

import (
	"context"
	"testing"
)

func TestOpen_RejectsEmptyTenantID(t *testing.T) {
	// The tenant id check runs before any connection attempt, so this
	// case needs no live database.
	_, err := Open(context.Background(), "postgres://localhost/lunaroute", "")
	if err == nil {
		t.Fatal("expected an error for an empty tenant id")
	}
}
