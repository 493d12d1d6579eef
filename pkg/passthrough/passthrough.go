// Package passthrough implements the identity routing path of §4.5: when
// ingress and egress dialects match, the request and response bodies
// bypass normalization and are forwarded verbatim, while still stripping
// hop-by-hop headers, peeking at the JSON for session metering, and timing
// streaming responses.
package passthrough

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"
)

// hopByHopHeaders must never be forwarded between client and upstream, per
// RFC 7230 §6.1 plus the vendor-agnostic set the proxy itself manages.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Host", "Content-Length",
}

// StripHopByHop returns a copy of headers with hop-by-hop entries removed.
func StripHopByHop(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}

// Peek extracts the fields the session bus needs for metering without
// fully decoding the vendor's wire schema, so passthrough mode never pays
// the cost of normalization just to populate session records.
type Peek struct {
	Model      string
	Stream     bool
	ToolCount  int
	StopReason string
}

// PeekRequest extracts model/stream/tool-count from a raw client request
// body. Fields not present in the dialect's wire shape are left zero.
func PeekRequest(body []byte) Peek {
	var shallow struct {
		Model  string          `json:"model"`
		Stream bool            `json:"stream"`
		Tools  []json.RawMessage `json:"tools"`
	}
	_ = json.Unmarshal(body, &shallow)
	return Peek{Model: shallow.Model, Stream: shallow.Stream, ToolCount: len(shallow.Tools)}
}

// PeekResponse extracts a stop/finish reason from a raw non-streaming
// response body, checking both dialects' field names since passthrough
// mode never knows in advance which vendor shape it is looking at.
func PeekResponse(body []byte) Peek {
	var anthropicShape struct {
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal(body, &anthropicShape); err == nil && anthropicShape.StopReason != "" {
		return Peek{StopReason: anthropicShape.StopReason}
	}
	var openaiShape struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	_ = json.Unmarshal(body, &openaiShape)
	if len(openaiShape.Choices) > 0 {
		return Peek{StopReason: openaiShape.Choices[0].FinishReason}
	}
	return Peek{}
}

// StreamMeter times a passthrough streaming response without touching the
// bytes forwarded to the client: TTFT, chunk count, and per-chunk latency
// quantiles, recorded purely from the perspective of the chunk boundaries
// the caller reports.
type StreamMeter struct {
	start        time.Time
	firstByte    time.Time
	lastChunk    time.Time
	chunkLatencies []time.Duration
	chunkCount   int
}

func NewStreamMeter() *StreamMeter {
	return &StreamMeter{start: time.Now()}
}

// RecordChunk is called once per chunk forwarded to the client.
func (m *StreamMeter) RecordChunk() {
	now := time.Now()
	if m.chunkCount == 0 {
		m.firstByte = now
	} else {
		m.chunkLatencies = append(m.chunkLatencies, now.Sub(m.lastChunk))
	}
	m.lastChunk = now
	m.chunkCount++
}

// Result summarizes the metered stream for the session record.
type Result struct {
	TTFT             time.Duration
	ChunkCount       int
	TotalDuration    time.Duration
	LatencyP50       time.Duration
	LatencyP95       time.Duration
}

func (m *StreamMeter) Finish() Result {
	res := Result{ChunkCount: m.chunkCount, TotalDuration: time.Since(m.start)}
	if m.chunkCount > 0 {
		res.TTFT = m.firstByte.Sub(m.start)
	}
	if len(m.chunkLatencies) > 0 {
		sorted := append([]time.Duration(nil), m.chunkLatencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		res.LatencyP50 = quantile(sorted, 0.50)
		res.LatencyP95 = quantile(sorted, 0.95)
	}
	return res
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Upstream is the minimal egress surface passthrough needs: it forwards
// raw bytes rather than normalized structures, so it depends only on the
// transport client's passthrough methods, not on any dialect adapter.
type Upstream interface {
	SendPassthrough(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, int, http.Header, error)
	StreamPassthrough(ctx context.Context, path string, body []byte, headers map[string]string) (io.ReadCloser, int, http.Header, error)
}

// CopyWithMeter copies src to dst chunk-by-chunk (as delivered by the
// underlying reader), recording each chunk on m, until EOF or error.
func CopyWithMeter(dst io.Writer, src io.Reader, m *StreamMeter) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			if f, ok := dst.(http.Flusher); ok {
				f.Flush()
			}
			m.RecordChunk()
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
