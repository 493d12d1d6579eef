// Package jsonlwriter implements a session.Writer that appends one JSON
// line per event to a file keyed by session id and UTC date, with an LRU
// cache of open file handles, buffered writes, and optional encryption at
// rest — adapted from the original jsonl_writer's design.
package jsonlwriter

import (
	"bufio"
	"container/list"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaycore/lunaroute/pkg/session"
	"github.com/relaycore/lunaroute/pkg/session/encryption"
)

// Config configures a Writer. Zero values fall back to the documented
// defaults: 100 cached file handles, 64KiB write buffers, no encryption.
type Config struct {
	SessionsDir        string
	CacheSize          int
	BufferSize         int
	EncryptionPassword string
	EncryptionSalt     []byte // 16 bytes; generated if empty and password set
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 100
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64 * 1024
	}
	return c
}

// Metrics mirrors the original store's cache/byte counters, exposed for
// the proxy's own Prometheus registration rather than baked into this
// package, so multiple writers in tests don't collide on global state.
type Metrics struct {
	CacheHits      int64
	CacheMisses    int64
	CacheEvictions int64
	BytesWritten   int64
	EventsWritten  int64
}

type cachedFile struct {
	key string
	f   *os.File
	bw  *bufio.Writer
}

// Writer appends session events as JSON lines under SessionsDir, one file
// per (UTC date, sanitized session id).
type Writer struct {
	dir    string
	cfg    Config
	key    []byte // nil when encryption disabled
	mu     sync.Mutex
	lru    *list.List // of *cachedFile, front = most recently used
	lookup map[string]*list.Element

	cacheHits, cacheMisses, cacheEvictions, bytesWritten, eventsWritten atomic.Int64
}

func New(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	w := &Writer{
		dir:    cfg.SessionsDir,
		cfg:    cfg,
		lru:    list.New(),
		lookup: make(map[string]*list.Element),
	}
	if cfg.EncryptionPassword != "" {
		salt := cfg.EncryptionSalt
		if len(salt) == 0 {
			var err error
			salt, err = encryption.GenerateSalt()
			if err != nil {
				return nil, fmt.Errorf("jsonlwriter: generate salt: %w", err)
			}
		}
		key, err := encryption.DeriveKey(cfg.EncryptionPassword, salt, encryption.DefaultKeyDerivationParams())
		if err != nil {
			return nil, fmt.Errorf("jsonlwriter: derive key: %w", err)
		}
		w.key = key
	}
	return w, nil
}

func (w *Writer) Name() string { return "jsonl" }

// NewSessionID returns a crypto-random 128-bit session id rendered as
// lowercase hex, matching the original store's OsRng-backed identifiers.
func NewSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// sanitizeSessionID allows only alphanumeric, '-', and '_', truncated to
// 255 characters, preventing path traversal via the session id while
// retaining the original id verbatim in the record itself.
func sanitizeSessionID(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id) && len(out) < 255; i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			out = append(out, c)
		}
	}
	return string(out)
}

func (w *Writer) filePath(sessionID string) string {
	sanitized := sanitizeSessionID(sessionID)
	today := time.Now().UTC().Format("2006-01-02")
	return filepath.Join(w.dir, today, sanitized+".jsonl")
}

func (w *Writer) cacheKey(sessionID string) string {
	sanitized := sanitizeSessionID(sessionID)
	today := time.Now().UTC().Format("2006-01-02")
	return today + ":" + sanitized
}

// getOrOpen returns the cached file for sessionID, opening and evicting
// per the LRU policy of §4.4 if necessary. Caller must hold w.mu.
func (w *Writer) getOrOpen(sessionID string) (*cachedFile, error) {
	key := w.cacheKey(sessionID)
	if el, ok := w.lookup[key]; ok {
		w.lru.MoveToFront(el)
		w.cacheHits.Add(1)
		return el.Value.(*cachedFile), nil
	}
	w.cacheMisses.Add(1)

	path := w.filePath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonlwriter: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonlwriter: open: %w", err)
	}
	cf := &cachedFile{key: key, f: f, bw: bufio.NewWriterSize(f, w.cfg.BufferSize)}
	el := w.lru.PushFront(cf)
	w.lookup[key] = el

	if w.lru.Len() > w.cfg.CacheSize {
		w.evictOldest()
	}
	return cf, nil
}

// evictOldest flushes and closes the least-recently-used file. Caller
// must hold w.mu.
func (w *Writer) evictOldest() {
	back := w.lru.Back()
	if back == nil {
		return
	}
	cf := back.Value.(*cachedFile)
	_ = cf.bw.Flush()
	_ = cf.f.Close()
	w.lru.Remove(back)
	delete(w.lookup, cf.key)
	w.cacheEvictions.Add(1)
}

func (w *Writer) encryptIfEnabled(data []byte) ([]byte, error) {
	if w.key == nil {
		return data, nil
	}
	return encryption.Encrypt(data, w.key)
}

func (w *Writer) writeLine(sessionID string, line []byte) error {
	data, err := w.encryptIfEnabled(line)
	if err != nil {
		return fmt.Errorf("jsonlwriter: encrypt: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cf, err := w.getOrOpen(sessionID)
	if err != nil {
		return err
	}
	if _, err := cf.bw.Write(data); err != nil {
		return fmt.Errorf("jsonlwriter: write: %w", err)
	}
	if err := cf.bw.WriteByte('\n'); err != nil {
		return err
	}
	w.bytesWritten.Add(int64(len(data) + 1))
	w.eventsWritten.Add(1)
	return nil
}

func (w *Writer) WriteEvent(_ context.Context, ev session.Event) error {
	if ev.Kind == session.EventStatsSnapshot {
		// Transient, never persisted per the pipeline's event contract.
		return nil
	}
	line, err := json.Marshal(eventToJSON(ev))
	if err != nil {
		return fmt.Errorf("jsonlwriter: marshal: %w", err)
	}
	return w.writeLine(ev.SessionID, line)
}

func (w *Writer) WriteBatch(ctx context.Context, evs []session.Event) error {
	for _, ev := range evs {
		if err := w.WriteEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Flush(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for el := w.lru.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*cachedFile).bw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Metrics() Metrics {
	return Metrics{
		CacheHits:      w.cacheHits.Load(),
		CacheMisses:    w.cacheMisses.Load(),
		CacheEvictions: w.cacheEvictions.Load(),
		BytesWritten:   w.bytesWritten.Load(),
		EventsWritten:  w.eventsWritten.Load(),
	}
}

// HealthCheck verifies the sessions directory exists (creating it if
// necessary) and is writable, mirroring the original store's probe.
func (w *Writer) HealthCheck() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("cannot access or create sessions directory %s: %w", w.dir, err)
	}
	probe := filepath.Join(w.dir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("sessions directory is not writable: %w", err)
	}
	_ = os.Remove(probe)
	return nil
}

// eventToJSON renders the tagged union as a discriminated JSON object; a
// dedicated shape rather than marshaling Event directly keeps the on-disk
// line free of zero-valued fields from variants that weren't emitted.
func eventToJSON(ev session.Event) map[string]interface{} {
	base := map[string]interface{}{
		"session_id": ev.SessionID,
		"request_id": ev.RequestID,
		"timestamp":  ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	switch ev.Kind {
	case session.EventStarted:
		base["type"] = "started"
		base["model_requested"] = ev.ModelRequested
		base["provider"] = ev.Provider
		base["listener"] = ev.Listener
		base["is_streaming"] = ev.IsStreaming
		base["metadata"] = ev.Metadata
	case session.EventRequestRecorded:
		base["type"] = "request_recorded"
		base["request_text"] = ev.RequestText
		base["estimated_tokens"] = ev.EstimatedTokens
		base["request_stats"] = ev.RequestStats
	case session.EventStreamStarted:
		base["type"] = "stream_started"
		base["time_to_first_token_ms"] = ev.TimeToFirstTokenMS
	case session.EventResponseRecorded:
		base["type"] = "response_recorded"
		base["response_text"] = ev.ResponseText
		base["model_used"] = ev.ModelUsed
		base["response_stats"] = ev.ResponseStats
	case session.EventToolCallRecorded:
		base["type"] = "tool_call_recorded"
		base["tool_name"] = ev.ToolName
		base["call_id"] = ev.ToolCallID
		base["execution_time_ms"] = ev.ToolExecutionMS
		base["input_size"] = ev.ToolInputSize
		base["output_size"] = ev.ToolOutputSize
		base["success"] = ev.ToolSuccess
		base["arguments"] = ev.ToolArgumentsRaw
	case session.EventStatsUpdated:
		base["type"] = "stats_updated"
		base["tokens"] = ev.Tokens
		base["tool_summary"] = ev.ToolSummaryV
		base["model_used"] = ev.ModelUsed
		base["response_size"] = ev.ResponseSize
		base["content_blocks"] = ev.ContentBlocks
		base["has_refusal"] = ev.HasRefusal
		base["user_agent"] = ev.UserAgent
	case session.EventStatsSnapshot:
		base["type"] = "stats_snapshot"
	case session.EventCompleted:
		base["type"] = "completed"
		base["success"] = ev.Success
		base["error"] = ev.Error
		base["finish_reason"] = ev.FinishReason
		base["final_stats"] = ev.FinalStats
	}
	return base
}
