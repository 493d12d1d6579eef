package sse

import (
	"io"
	"strings"
	"testing"
)

func TestParser_SingleNamedEvent(t *testing.T) {
	raw := "event: message_start\ndata: {\"a\":1}\n\n"
	p := NewParser(strings.NewReader(raw))
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Event != "message_start" || ev.Data != `{"a":1}` {
		t.Errorf("unexpected event: %+v", ev)
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after the only event, got %v", err)
	}
}

func TestParser_MultilineData(t *testing.T) {
	raw := "data: line1\ndata: line2\n\n"
	p := NewParser(strings.NewReader(raw))
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Data != "line1\nline2" {
		t.Errorf("expected multiline data to be newline-joined, got %q", ev.Data)
	}
}

func TestParser_CommentsIgnored(t *testing.T) {
	raw := ": this is a comment\ndata: hi\n\n"
	p := NewParser(strings.NewReader(raw))
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Data != "hi" {
		t.Errorf("expected comment line to be skipped, got %q", ev.Data)
	}
}

func TestParser_MultipleEventsSequentially(t *testing.T) {
	raw := "data: first\n\ndata: second\n\n"
	p := NewParser(strings.NewReader(raw))

	ev1, err := p.Next()
	if err != nil || ev1.Data != "first" {
		t.Fatalf("unexpected first event: %+v, err=%v", ev1, err)
	}
	ev2, err := p.Next()
	if err != nil || ev2.Data != "second" {
		t.Fatalf("unexpected second event: %+v, err=%v", ev2, err)
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestParser_TrailingEventWithoutBlankLine(t *testing.T) {
	// A stream that ends mid-event (no trailing blank line) should still
	// surface the accumulated event once, then EOF.
	raw := "data: partial"
	p := NewParser(strings.NewReader(raw))
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Data != "partial" {
		t.Errorf("unexpected trailing event: %+v", ev)
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestIsDone(t *testing.T) {
	if !IsDone("[DONE]") || !IsDone("  [DONE]  ") {
		t.Error("expected [DONE] (with surrounding whitespace) to be recognized")
	}
	if IsDone(`{"not":"done"}`) {
		t.Error("expected a regular data payload to not be recognized as done")
	}
}

func TestWriter_WriteEventRoundTrip(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf)
	if err := w.WriteEvent(Event{Event: "content_block_delta", Data: "{\"x\":1}"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := NewParser(strings.NewReader(buf.String()))
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error re-parsing written event: %v", err)
	}
	if ev.Event != "content_block_delta" || ev.Data != `{"x":1}` {
		t.Errorf("round trip mismatch: %+v", ev)
	}
}

func TestWriter_WriteDone(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf)
	w.WriteDone()
	if buf.String() != "data: [DONE]\n\n" {
		t.Errorf("unexpected done frame: %q", buf.String())
	}
}
