// Package sse parses and writes the server-sent-event wire framing shared
// by both supported dialects: lines of "field: value" terminated by a
// blank line, "data:" possibly repeated and newline-joined.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Event is one parsed server-sent event.
type Event struct {
	Event string
	Data  string
	ID    string
	Retry int
}

// Parser reads Events off an underlying byte stream one at a time.
type Parser struct {
	scanner *bufio.Scanner
	err     error
}

// NewParser wraps r for event-at-a-time consumption. The caller supplies
// an io.Reader already stripped of HTTP framing (e.g. an http.Response.Body).
func NewParser(r io.Reader) *Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Parser{scanner: sc}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
func (p *Parser) Next() (*Event, error) {
	if p.err != nil {
		return nil, p.err
	}

	ev := &Event{}
	var dataLines []string

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == "" {
			if len(dataLines) > 0 || ev.Event != "" {
				ev.Data = strings.Join(dataLines, "\n")
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment
		}

		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		field := line[:colon]
		value := line[colon+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		switch field {
		case "event":
			ev.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			ev.ID = value
		case "retry":
			var retry int
			_, _ = fmt.Sscanf(value, "%d", &retry)
			ev.Retry = retry
		}
	}

	if err := p.scanner.Err(); err != nil {
		p.err = err
		return nil, err
	}
	if len(dataLines) > 0 || ev.Event != "" {
		ev.Data = strings.Join(dataLines, "\n")
		p.err = io.EOF
		return ev, nil
	}

	p.err = io.EOF
	return nil, io.EOF
}

// IsDone reports whether data is the OpenAI-dialect terminal sentinel.
func IsDone(data string) bool {
	return strings.TrimSpace(data) == "[DONE]"
}

// Writer serializes Events to the wire.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent writes one named-or-unnamed event followed by a blank line.
func (w *Writer) WriteEvent(ev Event) error {
	var b strings.Builder
	if ev.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Event)
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", ev.Retry)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w.w, b.String())
	return err
}

// WriteDone writes the OpenAI-dialect terminal sentinel frame.
func (w *Writer) WriteDone() error {
	_, err := io.WriteString(w.w, "data: [DONE]\n\n")
	return err
}
