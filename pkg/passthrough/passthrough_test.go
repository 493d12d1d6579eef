package passthrough

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestStripHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer xyz")

	out := StripHopByHop(h)
	if out.Get("Connection") != "" || out.Get("Transfer-Encoding") != "" {
		t.Errorf("expected hop-by-hop headers stripped, got %+v", out)
	}
	if out.Get("Content-Type") != "application/json" || out.Get("Authorization") != "Bearer xyz" {
		t.Errorf("expected non-hop-by-hop headers preserved, got %+v", out)
	}
	// Original header must be untouched.
	if h.Get("Connection") != "keep-alive" {
		t.Error("StripHopByHop must not mutate its input")
	}
}

func TestPeekRequest(t *testing.T) {
	body := []byte(`{"model": "gpt-4o", "stream": true, "tools": [{"type":"function"},{"type":"function"}]}`)
	peek := PeekRequest(body)
	if peek.Model != "gpt-4o" || !peek.Stream || peek.ToolCount != 2 {
		t.Errorf("unexpected peek: %+v", peek)
	}
}

func TestPeekResponse_AnthropicShape(t *testing.T) {
	body := []byte(`{"stop_reason": "tool_use"}`)
	peek := PeekResponse(body)
	if peek.StopReason != "tool_use" {
		t.Errorf("expected anthropic stop_reason to be picked up, got %+v", peek)
	}
}

func TestPeekResponse_OpenAIShape(t *testing.T) {
	body := []byte(`{"choices": [{"finish_reason": "stop"}]}`)
	peek := PeekResponse(body)
	if peek.StopReason != "stop" {
		t.Errorf("expected openai finish_reason to be picked up, got %+v", peek)
	}
}

func TestStreamMeter_TTFTAndQuantiles(t *testing.T) {
	m := NewStreamMeter()
	m.RecordChunk()
	time.Sleep(2 * time.Millisecond)
	m.RecordChunk()
	time.Sleep(2 * time.Millisecond)
	m.RecordChunk()

	res := m.Finish()
	if res.ChunkCount != 3 {
		t.Errorf("expected 3 chunks recorded, got %d", res.ChunkCount)
	}
	if res.LatencyP50 <= 0 {
		t.Errorf("expected a positive p50 latency, got %v", res.LatencyP50)
	}
}

func TestCopyWithMeter(t *testing.T) {
	src := strings.NewReader("hello world")
	var dst strings.Builder
	m := NewStreamMeter()

	n, err := CopyWithMeter(&dst, src, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len("hello world")) || dst.String() != "hello world" {
		t.Errorf("unexpected copy result: n=%d body=%q", n, dst.String())
	}
	if m.Finish().ChunkCount == 0 {
		t.Error("expected at least one chunk recorded during copy")
	}
}

func TestCopyWithMeter_PropagatesReadError(t *testing.T) {
	r, w := io.Pipe()
	w.CloseWithError(io.ErrUnexpectedEOF)
	var dst strings.Builder
	_, err := CopyWithMeter(&dst, r, NewStreamMeter())
	if err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}
