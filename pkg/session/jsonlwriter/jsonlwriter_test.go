package jsonlwriter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relaycore/lunaroute/pkg/session"
)

func TestWriteEvent_AppendsJSONLineUnderDateAndSessionDir(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{SessionsDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := session.Started("sess-1", "req-1", "claude-3-5-sonnet", "anthropic", "api", false, nil)
	if err := w.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, today, "sess-1.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected session file at %s: %v", path, err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(data[:len(data)-1], &line); err != nil {
		t.Fatalf("invalid json line: %v (%q)", err, data)
	}
	if line["type"] != "started" || line["session_id"] != "sess-1" {
		t.Errorf("unexpected line contents: %+v", line)
	}
}

func TestSanitizeSessionID_StripsPathTraversalCharacters(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{SessionsDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := session.Started("../../etc/passwd", "req-1", "m", "p", "l", false, nil)
	if err := w.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	want := filepath.Join(dir, today, "etcpasswd.jsonl")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected sanitized path %s to exist: %v", want, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "..", "..", "etc", "passwd")); err == nil {
		t.Error("session id must not escape the sessions directory")
	}
}

func TestWriteEvent_SkipsStatsSnapshot(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{SessionsDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := session.Event{Kind: session.EventStatsSnapshot, SessionID: "sess-1"}
	if err := w.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m := w.Metrics(); m.EventsWritten != 0 {
		t.Errorf("expected a transient stats snapshot to not be persisted, got %d events written", m.EventsWritten)
	}
}

func TestCacheEviction_ClosesLeastRecentlyUsedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{SessionsDir: dir, CacheSize: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.WriteEvent(context.Background(), session.Started("sess-a", "r1", "m", "p", "l", false, nil))
	w.WriteEvent(context.Background(), session.Started("sess-b", "r1", "m", "p", "l", false, nil))

	if m := w.Metrics(); m.CacheEvictions != 1 {
		t.Errorf("expected exactly one eviction with a cache size of 1, got %d", m.CacheEvictions)
	}
}

func TestEncryptedWriter_DoesNotWritePlaintext(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{SessionsDir: dir, EncryptionPassword: "hunter2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := session.Started("sess-1", "req-1", "m", "p", "l", false, nil)
	if err := w.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Flush(context.Background())

	today := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, today, "sess-1.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), "started") {
		t.Error("expected on-disk content to be encrypted, found plaintext marker")
	}
}

func TestHealthCheck_CreatesAndProbesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sessions")
	w, err := New(Config{SessionsDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.HealthCheck(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected sessions directory to be created: %v", err)
	}
}

func TestNewSessionID_Produces32CharHex(t *testing.T) {
	id, err := NewSessionID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 32 {
		t.Errorf("expected a 128-bit hex id (32 chars), got %d: %q", len(id), id)
	}
}
