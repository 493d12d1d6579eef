// Package server wires the ingress HTTP surface: one chi route per
// supported client dialect, dispatching each request through the
// configured egress (translating when dialects differ, passing through
// raw bytes when they match) and recording a session event trail.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relaycore/lunaroute/pkg/dialect"
	"github.com/relaycore/lunaroute/pkg/internal/jsonutil"
	"github.com/relaycore/lunaroute/pkg/metrics"
	"github.com/relaycore/lunaroute/pkg/normalize"
	"github.com/relaycore/lunaroute/pkg/passthrough"
	"github.com/relaycore/lunaroute/pkg/proxyerrors"
	"github.com/relaycore/lunaroute/pkg/session"
	"github.com/relaycore/lunaroute/pkg/sse"
)

// Upstream is the transport dependency a route needs: enough to both
// translate (Send/Stream) and pass through raw bytes untouched.
type Upstream interface {
	Send(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, error)
	Stream(ctx context.Context, path string, body []byte, headers map[string]string) (io.ReadCloser, error)
	SendPassthrough(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, int, http.Header, error)
	StreamPassthrough(ctx context.Context, path string, body []byte, headers map[string]string) (io.ReadCloser, int, http.Header, error)
}

// Route binds one client-facing path to its ingress adapter, the
// upstream egress adapter translation target, the upstream transport,
// and the wire path to call on that upstream.
type Route struct {
	Path         string
	Ingress      dialect.Ingress
	Egress       dialect.Egress
	Upstream     Upstream
	UpstreamPath string
	Provider     string
}

// Handler serves every configured Route plus session recording.
type Handler struct {
	routes []Route
	bus    *session.Bus
	log    *logrus.Entry
}

func NewHandler(routes []Route, bus *session.Bus, log *logrus.Entry) *Handler {
	return &Handler{routes: routes, bus: bus, log: log}
}

// Mount registers every route through post (e.g. a *chi.Mux's Post method
// value; taking a plain function keeps chi out of this package's tests).
func (h *Handler) Mount(post func(pattern string, fn http.HandlerFunc)) {
	for _, route := range h.routes {
		route := route
		post(route.Path, func(w http.ResponseWriter, r *http.Request) {
			h.serve(route, w, r)
		})
	}
}

func (h *Handler) serve(route Route, w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	requestID := uuid.NewString()
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	// Same dialect on both sides: identity passthrough, never touching
	// the normalized form.
	if route.Egress.Name() == route.Ingress.Name() {
		h.servePassthrough(route, sessionID, requestID, start, w, r, body)
		return
	}

	req, err := route.Ingress.ParseRequest(body)
	if err != nil {
		h.writeError(w, route.Ingress.Name(), err)
		return
	}

	if req.Stream && !route.Egress.Capabilities().SupportsStreaming {
		h.writeError(w, route.Ingress.Name(), proxyerrors.NewUnsupportedFeatureError("streaming"))
		return
	}

	h.bus.Record(session.Started(sessionID, requestID, req.Model, route.Provider, route.Ingress.Name(), req.Stream, nil))
	h.bus.Record(session.RequestRecorded(sessionID, requestID, req.System, 0, nil))
	metrics.IngressRequestsTotal.WithLabelValues(route.Ingress.Name(), "received").Inc()

	renderedReq, err := route.Egress.RenderRequest(req)
	if err != nil {
		h.writeError(w, route.Ingress.Name(), err)
		return
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if req.Stream {
		h.serveStream(route, req, renderedReq, headers, sessionID, requestID, start, w, r)
		return
	}
	h.serveUnary(route, req, renderedReq, headers, sessionID, requestID, start, w, r)
}

func (h *Handler) serveUnary(route Route, req normalize.Request, renderedReq []byte, headers map[string]string, sessionID, requestID string, start time.Time, w http.ResponseWriter, r *http.Request) {
	respBody, err := route.Upstream.Send(r.Context(), route.UpstreamPath, renderedReq, headers)
	if err != nil {
		h.recordFailure(sessionID, requestID, err)
		h.writeError(w, route.Ingress.Name(), err)
		return
	}

	resp, err := route.Egress.ParseResponse(respBody)
	if err != nil {
		h.recordFailure(sessionID, requestID, err)
		h.writeError(w, route.Ingress.Name(), err)
		return
	}

	out, err := route.Ingress.RenderResponse(resp)
	if err != nil {
		h.recordFailure(sessionID, requestID, err)
		h.writeError(w, route.Ingress.Name(), err)
		return
	}

	finishReason := ""
	if len(resp.Choices) > 0 && resp.Choices[0].FinishReason != nil {
		finishReason = string(*resp.Choices[0].FinishReason)
	}
	h.bus.Record(session.ResponseRecorded(sessionID, requestID, "", resp.Model, usageStats(resp.Usage)))
	h.bus.Record(session.Completed(sessionID, requestID, true, "", finishReason, usageStats(resp.Usage)))
	metrics.IngressRequestDuration.WithLabelValues(route.Ingress.Name(), req.Model).Observe(time.Since(start).Seconds())
	metrics.IngressRequestsTotal.WithLabelValues(route.Ingress.Name(), "ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func (h *Handler) serveStream(route Route, req normalize.Request, renderedReq []byte, headers map[string]string, sessionID, requestID string, start time.Time, w http.ResponseWriter, r *http.Request) {
	upstreamStream, err := route.Upstream.Stream(r.Context(), route.UpstreamPath, renderedReq, headers)
	if err != nil {
		h.recordFailure(sessionID, requestID, err)
		h.writeError(w, route.Ingress.Name(), err)
		return
	}
	defer upstreamStream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.StreamingConnectionsActive.Inc()
	defer metrics.StreamingConnectionsActive.Dec()

	scanner := route.Egress.NewStreamScanner()
	renderer := route.Ingress.NewStreamRenderer()
	sseWriter := sse.NewWriter(w)
	sseParser := sse.NewParser(upstreamStream)

	firstTokenAt := time.Time{}
	var finalUsage normalize.Usage
	finishReason := ""
	toolCalls := newToolCallAccumulator()
	chunkCount := 0
	disconnected := false

readLoop:
	for {
		raw, err := sseParser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.recordFailure(sessionID, requestID, err)
			break
		}
		if sse.IsDone(raw.Data) {
			break
		}

		events, err := scanner.Scan(dialect.SSEEvent{Event: raw.Event, Data: raw.Data})
		if err != nil {
			h.recordFailure(sessionID, requestID, err)
			break
		}

		for _, ev := range events {
			if ev.Kind == normalize.EventStart && firstTokenAt.IsZero() {
				firstTokenAt = time.Now()
				h.bus.Record(session.StreamStarted(sessionID, requestID, firstTokenAt.Sub(start).Milliseconds()))
			}
			if ev.Kind == normalize.EventUsage && ev.Usage != nil {
				finalUsage = *ev.Usage
			}
			if ev.Kind == normalize.EventToolCallDelta {
				toolCalls.observe(ev)
			}
			if ev.Kind == normalize.EventEnd && ev.FinishReason != nil {
				finishReason = string(*ev.FinishReason)
			}

			frames, err := renderer.Render(ev)
			if err != nil {
				h.recordFailure(sessionID, requestID, err)
				break
			}
			for _, f := range frames {
				if f.Sentinel {
					if werr := sseWriter.WriteDone(); werr != nil {
						disconnected = true
						break readLoop
					}
					chunkCount++
					continue
				}
				if werr := sseWriter.WriteEvent(sse.Event{Event: f.Event, Data: string(f.Data)}); werr != nil {
					disconnected = true
					break readLoop
				}
				chunkCount++
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}

	for _, call := range toolCalls.finish() {
		h.bus.Record(session.ToolCallRecorded(sessionID, requestID, call.name, call.id, nil, int64(len(call.arguments)), nil, nil, call.arguments))
	}

	streamingDuration := time.Since(start)
	stats := usageStats(finalUsage)
	stats["chunk_count"] = chunkCount
	stats["streaming_duration_ms"] = streamingDuration.Milliseconds()

	h.bus.Record(session.ResponseRecorded(sessionID, requestID, "", req.Model, stats))
	if disconnected {
		h.bus.Record(session.Completed(sessionID, requestID, false, "client_disconnect", finishReason, stats))
		metrics.IngressRequestDuration.WithLabelValues(route.Ingress.Name(), req.Model).Observe(streamingDuration.Seconds())
		metrics.IngressRequestsTotal.WithLabelValues(route.Ingress.Name(), "client_disconnect").Inc()
		return
	}
	h.bus.Record(session.Completed(sessionID, requestID, true, "", finishReason, stats))
	metrics.IngressRequestDuration.WithLabelValues(route.Ingress.Name(), req.Model).Observe(streamingDuration.Seconds())
	metrics.IngressRequestsTotal.WithLabelValues(route.Ingress.Name(), "ok").Inc()
}

// toolCallAccumulator reassembles streamed tool-call argument fragments
// (keyed by the upstream's own delta index, per dialect.StreamScanner's
// contract) into complete, JSON-validated arguments for session recording.
type toolCallAccumulator struct {
	order   []int
	byIndex map[int]*accumulatedToolCall
}

type accumulatedToolCall struct {
	id        string
	name      string
	arguments string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*accumulatedToolCall)}
}

func (a *toolCallAccumulator) observe(ev normalize.StreamEvent) {
	call, ok := a.byIndex[ev.ToolCallIndex]
	if !ok {
		call = &accumulatedToolCall{}
		a.byIndex[ev.ToolCallIndex] = call
		a.order = append(a.order, ev.ToolCallIndex)
	}
	if ev.ToolCallID != "" {
		call.id = ev.ToolCallID
	}
	if ev.ToolCall != nil {
		if ev.ToolCall.Name != "" {
			call.name = ev.ToolCall.Name
		}
		call.arguments += ev.ToolCall.Arguments
	}
}

// finish validates (and, where possible, repairs) each accumulated tool
// call's arguments before handing them to the session bus, since a
// streamed argument string is only ever complete once the call closes.
func (a *toolCallAccumulator) finish() []accumulatedToolCall {
	out := make([]accumulatedToolCall, 0, len(a.order))
	for _, idx := range a.order {
		call := *a.byIndex[idx]
		if call.arguments != "" && !json.Valid([]byte(call.arguments)) {
			if fixed, err := jsonutil.FixJSON(call.arguments); err == nil {
				call.arguments = fixed
			}
		}
		out = append(out, call)
	}
	return out
}

func (h *Handler) servePassthrough(route Route, sessionID, requestID string, start time.Time, w http.ResponseWriter, r *http.Request, body []byte) {
	peek := passthrough.PeekRequest(body)
	h.bus.Record(session.Started(sessionID, requestID, peek.Model, route.Provider, route.Ingress.Name(), peek.Stream, nil))
	metrics.PassthroughRequestsTotal.WithLabelValues(route.Ingress.Name()).Inc()

	headers := map[string]string{"Content-Type": "application/json"}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	if peek.Stream {
		stream, status, respHeaders, err := route.Upstream.StreamPassthrough(r.Context(), route.UpstreamPath, body, headers)
		if err != nil {
			h.recordFailure(sessionID, requestID, err)
			h.writeError(w, route.Ingress.Name(), err)
			return
		}
		defer stream.Close()

		for k, vs := range passthrough.StripHopByHop(respHeaders) {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(status)
		flusher, _ := w.(http.Flusher)
		meter := passthrough.NewStreamMeter()
		_, copyErr := passthrough.CopyWithMeter(w, stream, meter)
		res := meter.Finish()
		if flusher != nil {
			flusher.Flush()
		}

		stats := map[string]interface{}{
			"chunk_count":           res.ChunkCount,
			"streaming_duration_ms": res.TotalDuration.Milliseconds(),
			"ttft_ms":               res.TTFT.Milliseconds(),
			"latency_p50_ms":        res.LatencyP50.Milliseconds(),
			"latency_p95_ms":        res.LatencyP95.Milliseconds(),
		}
		if copyErr != nil {
			h.log.WithError(copyErr).Warn("passthrough stream copy failed")
			h.bus.Record(session.Completed(sessionID, requestID, false, "client_disconnect", "", stats))
			return
		}
		h.bus.Record(session.Completed(sessionID, requestID, status < 400, "", "", stats))
		return
	}

	respBody, status, respHeaders, err := route.Upstream.SendPassthrough(r.Context(), route.UpstreamPath, body, headers)
	if err != nil {
		h.recordFailure(sessionID, requestID, err)
		h.writeError(w, route.Ingress.Name(), err)
		return
	}
	for k, vs := range passthrough.StripHopByHop(respHeaders) {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
	w.Write(respBody)

	respPeek := passthrough.PeekResponse(respBody)
	h.bus.Record(session.Completed(sessionID, requestID, status < 400, "", respPeek.StopReason, nil))
	metrics.IngressRequestDuration.WithLabelValues(route.Ingress.Name(), peek.Model).Observe(time.Since(start).Seconds())
}

func (h *Handler) recordFailure(sessionID, requestID string, err error) {
	h.bus.Record(session.Completed(sessionID, requestID, false, err.Error(), "", nil))
}

func (h *Handler) writeError(w http.ResponseWriter, dialectName string, err error) {
	status := proxyerrors.StatusCode(err)
	h.log.WithError(err).WithField("dialect", dialectName).Warn("request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.Encode(map[string]interface{}{
		"error": map[string]string{"message": err.Error()},
	})
}

func usageStats(u normalize.Usage) map[string]interface{} {
	return map[string]interface{}{
		"input_tokens":          u.InputTokens,
		"output_tokens":         u.OutputTokens,
		"cache_read_tokens":     u.CacheReadTokens,
		"cache_creation_tokens": u.CacheCreationTokens,
		"reasoning_tokens":      u.ReasoningTokens,
		"audio_input_tokens":    u.AudioInputTokens,
		"audio_output_tokens":   u.AudioOutputTokens,
	}
}
