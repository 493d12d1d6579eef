// Package session defines the session event bus: the multi-producer,
// single-consumer-per-writer pipeline that records every request the
// proxy handles, fanning events out to pluggable storage writers.
package session

import "time"

// EventKind discriminates the SessionEvent tagged union.
type EventKind int

const (
	EventStarted EventKind = iota
	EventRequestRecorded
	EventStreamStarted
	EventResponseRecorded
	EventToolCallRecorded
	EventStatsUpdated
	EventStatsSnapshot
	EventCompleted
)

// TokenTotals holds the per-field token counts that persisted storage
// updates with MAX(existing, incoming) rather than summing, since the
// pipeline emits both cumulative and final-cumulative totals for the same
// session and must not double-count.
type TokenTotals struct {
	InputTokens         int64
	OutputTokens        int64
	ThinkingTokens       int64
	ReasoningTokens      int64
	CacheReadTokens      int64
	CacheCreationTokens  int64
	AudioInputTokens     int64
	AudioOutputTokens    int64
}

// ToolSummary aggregates tool-call counts observed for a session so far.
type ToolSummary struct {
	CallCount    int
	SuccessCount int
	FailureCount int
}

// Event is the closed SessionEvent enumeration of §3: every variant shares
// SessionID/RequestID/Timestamp, and only the payload fields grouped under
// a given Kind are meaningful for it. Consumers switch on Kind exhaustively.
type Event struct {
	Kind      EventKind
	SessionID string
	RequestID string
	Timestamp time.Time

	// Started
	ModelRequested string
	Provider       string
	Listener       string
	IsStreaming    bool
	Metadata       map[string]string

	// RequestRecorded
	RequestText      string
	EstimatedTokens  int64
	RequestStats     map[string]interface{}

	// StreamStarted
	TimeToFirstTokenMS int64

	// ResponseRecorded
	ResponseText  string
	ModelUsed     string
	ResponseStats map[string]interface{}

	// ToolCallRecorded
	ToolName         string
	ToolCallID       string
	ToolExecutionMS  *int64
	ToolInputSize    int64
	ToolOutputSize   *int64
	ToolSuccess      *bool
	ToolArgumentsRaw string

	// StatsUpdated
	Tokens       *TokenTotals
	ToolSummaryV *ToolSummary
	ResponseSize int64
	ContentBlocks int
	HasRefusal   bool
	UserAgent    string

	// Completed
	Success      bool
	Error        string
	FinishReason string
	FinalStats   map[string]interface{}
}

func now() time.Time { return time.Now() }

func Started(sessionID, requestID, model, provider, listener string, streaming bool, meta map[string]string) Event {
	return Event{Kind: EventStarted, SessionID: sessionID, RequestID: requestID, Timestamp: now(),
		ModelRequested: model, Provider: provider, Listener: listener, IsStreaming: streaming, Metadata: meta}
}

func RequestRecorded(sessionID, requestID, text string, estimatedTokens int64, stats map[string]interface{}) Event {
	return Event{Kind: EventRequestRecorded, SessionID: sessionID, RequestID: requestID, Timestamp: now(),
		RequestText: text, EstimatedTokens: estimatedTokens, RequestStats: stats}
}

func StreamStarted(sessionID, requestID string, ttftMS int64) Event {
	return Event{Kind: EventStreamStarted, SessionID: sessionID, RequestID: requestID, Timestamp: now(),
		TimeToFirstTokenMS: ttftMS}
}

func ResponseRecorded(sessionID, requestID, text, modelUsed string, stats map[string]interface{}) Event {
	return Event{Kind: EventResponseRecorded, SessionID: sessionID, RequestID: requestID, Timestamp: now(),
		ResponseText: text, ModelUsed: modelUsed, ResponseStats: stats}
}

func ToolCallRecorded(sessionID, requestID, toolName, callID string, execMS *int64, inputSize int64, outputSize *int64, success *bool, argsRaw string) Event {
	return Event{Kind: EventToolCallRecorded, SessionID: sessionID, RequestID: requestID, Timestamp: now(),
		ToolName: toolName, ToolCallID: callID, ToolExecutionMS: execMS, ToolInputSize: inputSize,
		ToolOutputSize: outputSize, ToolSuccess: success, ToolArgumentsRaw: argsRaw}
}

func StatsUpdated(sessionID, requestID string, tokens *TokenTotals, tools *ToolSummary, modelUsed string, responseSize int64, blocks int, refusal bool, userAgent string) Event {
	return Event{Kind: EventStatsUpdated, SessionID: sessionID, RequestID: requestID, Timestamp: now(),
		Tokens: tokens, ToolSummaryV: tools, ModelUsed: modelUsed, ResponseSize: responseSize,
		ContentBlocks: blocks, HasRefusal: refusal, UserAgent: userAgent}
}

func Completed(sessionID, requestID string, success bool, errMsg, finishReason string, finalStats map[string]interface{}) Event {
	return Event{Kind: EventCompleted, SessionID: sessionID, RequestID: requestID, Timestamp: now(),
		Success: success, Error: errMsg, FinishReason: finishReason, FinalStats: finalStats}
}
