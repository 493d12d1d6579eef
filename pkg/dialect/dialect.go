// Package dialect declares the ingress/egress adapter interfaces shared by
// every vendor dialect, and the capability set each adapter advertises.
package dialect

import (
	"context"
	"io"

	"github.com/relaycore/lunaroute/pkg/normalize"
)

// Capabilities is the per-side declaration an adapter makes about what it
// can do. Ingress refuses a request with UnsupportedFeatureError when the
// bound provider lacks a capability the request needs; egress never
// silently drops a capability it was asked to use.
type Capabilities struct {
	SupportsStreaming bool
	SupportsTools     bool
	SupportsVision    bool
}

// Ingress parses and validates a vendor request into the normalized form,
// and renders a normalized response/stream back into vendor wire bytes.
type Ingress interface {
	Name() string
	Capabilities() Capabilities

	ParseRequest(body []byte) (normalize.Request, error)
	RenderResponse(resp normalize.Response) ([]byte, error)

	// NewStreamRenderer returns a fresh renderer state machine for one
	// streaming response. Each call to Render may emit zero or more
	// vendor-dialect SSE frames (not always just one, to allow e.g. End to
	// expand into content_block_stop + message_delta + message_stop).
	NewStreamRenderer() StreamRenderer
}

// StreamRenderer turns normalized stream events into vendor SSE frames.
// It is not safe for concurrent use; one instance serves one stream.
type StreamRenderer interface {
	Render(ev normalize.StreamEvent) ([]Frame, error)
}

// Frame is one emittable unit of vendor SSE: an optional named event tag
// plus a JSON data payload, or the dialect's raw terminal sentinel.
type Frame struct {
	Event    string // empty when the dialect doesn't use named events
	Data     []byte
	Sentinel bool // true for OpenAI's literal "[DONE]"
}

// Egress renders a normalized request into vendor wire bytes, parses a
// vendor response back into normalized form, and scans a vendor SSE
// stream into normalized events.
type Egress interface {
	Name() string
	Capabilities() Capabilities

	RenderRequest(req normalize.Request) ([]byte, error)
	ParseResponse(body []byte) (normalize.Response, error)

	// NewStreamScanner returns a fresh scanner state machine for one
	// upstream SSE stream.
	NewStreamScanner() StreamScanner
}

// StreamScanner turns one vendor SSE event into zero or more normalized
// events. It is not safe for concurrent use; one instance serves one
// stream. Scan may return more than one event from a single vendor event
// (e.g. a message_delta carrying both usage and a stop reason).
type StreamScanner interface {
	Scan(event SSEEvent) ([]normalize.StreamEvent, error)
}

// SSEEvent is the dialect-agnostic shape a scanner consumes; it is
// produced by pkg/sse from the raw upstream byte stream.
type SSEEvent struct {
	Event string
	Data  string
}

// Client HTTP verbs a registered provider must support; kept separate
// from Egress so a dialect adapter can be unit-tested without a live
// transport.
type Sender interface {
	Send(ctx context.Context, req normalize.Request) (normalize.Response, error)
	Stream(ctx context.Context, req normalize.Request) (io.ReadCloser, error)
}
