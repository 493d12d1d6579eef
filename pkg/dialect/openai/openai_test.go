package openai

import (
	"encoding/json"
	"testing"

	"github.com/relaycore/lunaroute/pkg/dialect"
	"github.com/relaycore/lunaroute/pkg/normalize"
)

func TestRenderRequest_ReasoningModelUsesMaxCompletionTokens(t *testing.T) {
	e := NewEgress()
	req := normalize.Request{
		Model:     "o3-mini",
		MaxTokens: 512,
		Messages:  []normalize.Message{{Role: normalize.RoleUser, Content: []normalize.ContentPart{normalize.TextPart{Text: "hi"}}}},
	}

	body, err := e.RenderRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wire request
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if wire.MaxTokens != nil {
		t.Errorf("expected max_tokens to be omitted for reasoning model, got %v", *wire.MaxTokens)
	}
	if wire.MaxCompletionTokens == nil || *wire.MaxCompletionTokens != 512 {
		t.Errorf("expected max_completion_tokens=512, got %v", wire.MaxCompletionTokens)
	}
}

func TestRenderRequest_NonReasoningModelUsesMaxTokens(t *testing.T) {
	e := NewEgress()
	req := normalize.Request{
		Model:     "gpt-4o",
		MaxTokens: 256,
		Messages:  []normalize.Message{{Role: normalize.RoleUser, Content: []normalize.ContentPart{normalize.TextPart{Text: "hi"}}}},
	}

	body, _ := e.RenderRequest(req)
	var wire request
	json.Unmarshal(body, &wire)
	if wire.MaxTokens == nil || *wire.MaxTokens != 256 {
		t.Errorf("expected max_tokens=256, got %v", wire.MaxTokens)
	}
	if wire.MaxCompletionTokens != nil {
		t.Errorf("expected max_completion_tokens to be omitted, got %v", *wire.MaxCompletionTokens)
	}
}

func TestRenderRequest_SetsStreamOptionsWhenStreaming(t *testing.T) {
	e := NewEgress()
	req := normalize.Request{Model: "gpt-4o", Stream: true, Messages: []normalize.Message{{Role: normalize.RoleUser}}}

	body, _ := e.RenderRequest(req)
	var wire request
	json.Unmarshal(body, &wire)
	if wire.StreamOptions == nil || !wire.StreamOptions.IncludeUsage {
		t.Error("expected stream_options.include_usage=true when streaming")
	}
}

func TestRenderRequest_NoStreamOptionsWhenNotStreaming(t *testing.T) {
	e := NewEgress()
	req := normalize.Request{Model: "gpt-4o", Stream: false, Messages: []normalize.Message{{Role: normalize.RoleUser}}}

	body, _ := e.RenderRequest(req)
	var wire request
	json.Unmarshal(body, &wire)
	if wire.StreamOptions != nil {
		t.Error("expected stream_options to be absent when not streaming")
	}
}

func TestStreamScanner_ToolCallFragmentsReassembleByDeltaIndex(t *testing.T) {
	e := NewEgress()
	scanner := e.NewStreamScanner()

	frame := func(data string) dialect.SSEEvent { return dialect.SSEEvent{Data: data} }

	// First frame: start of tool call 0 with id+name, first argument fragment.
	events, err := scanner.Scan(frame(`{
		"id": "chatcmpl-1", "model": "gpt-4o",
		"choices": [{"index": 0, "delta": {"tool_calls": [{"index": 0, "id": "call_abc", "type": "function", "function": {"name": "get_weather", "arguments": "{\"loc"}}]}}]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events[0].Kind != normalize.EventStart {
		t.Fatalf("expected first event to be Start, got %v", events[0].Kind)
	}
	tcEvent := events[1]
	if tcEvent.Kind != normalize.EventToolCallDelta || tcEvent.ToolCallID != "call_abc" || tcEvent.ToolCall.Name != "get_weather" {
		t.Fatalf("unexpected first tool-call delta: %+v", tcEvent)
	}

	// Second frame: same delta index 0, no id/name repeated, more arguments.
	events, err = scanner.Scan(frame(`{
		"id": "chatcmpl-1", "model": "gpt-4o",
		"choices": [{"index": 0, "delta": {"tool_calls": [{"index": 0, "function": {"arguments": "ation\": \"NYC\"}"}}]}}]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tcEvent = events[0]
	if tcEvent.ToolCallID != "call_abc" || tcEvent.ToolCall.Name != "get_weather" {
		t.Errorf("expected id/name to be carried forward from first fragment, got %+v", tcEvent)
	}
	if tcEvent.ToolCall.Arguments != `ation": "NYC"}` {
		t.Errorf("unexpected arguments fragment: %q", tcEvent.ToolCall.Arguments)
	}
}

func TestStreamScanner_TrailingUsageOnlyChunk(t *testing.T) {
	e := NewEgress()
	scanner := e.NewStreamScanner()

	scanner.Scan(dialect.SSEEvent{Data: `{"id": "x", "model": "gpt-4o", "choices": [{"index": 0, "delta": {"content": "hi"}}]}`})

	events, err := scanner.Scan(dialect.SSEEvent{Data: `{
		"id": "x", "model": "gpt-4o", "choices": [],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != normalize.EventUsage {
		t.Fatalf("expected a single usage event for the empty-choices usage frame, got %+v", events)
	}
	if events[0].Usage.InputTokens != 10 || events[0].Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", events[0].Usage)
	}
}

func TestStreamRenderer_OrderingStartBeforeDeltaEndLast(t *testing.T) {
	i := NewIngress()
	r := i.NewStreamRenderer()

	startFrames, _ := r.Render(normalize.StartEvent("id1", "gpt-4o"))
	if len(startFrames) != 1 {
		t.Fatalf("expected one frame for start, got %d", len(startFrames))
	}

	deltaFrames, _ := r.Render(normalize.DeltaEvent(0, normalize.Delta{Content: "hi"}))
	if len(deltaFrames) != 1 {
		t.Fatalf("expected one frame for delta, got %d", len(deltaFrames))
	}

	reason := normalize.FinishReasonStop
	endFrames, _ := r.Render(normalize.EndEvent(reason))
	if len(endFrames) == 0 || !endFrames[len(endFrames)-1].Sentinel {
		t.Fatalf("expected the last frame of End to be the [DONE] sentinel, got %+v", endFrames)
	}
}

func TestStreamRenderer_ToolCallIDSentOnlyOnFirstFragment(t *testing.T) {
	i := NewIngress()
	r := i.NewStreamRenderer()
	r.Render(normalize.StartEvent("id1", "gpt-4o"))

	first, _ := r.Render(normalize.ToolCallDeltaEvent(0, 0, "call_1", normalize.ToolCallFunctionDelta{Name: "f", Arguments: "{\"a"}))
	var chunk1 streamChunk
	json.Unmarshal(first[0].Data, &chunk1)
	if chunk1.Choices[0].Delta.ToolCalls[0].ID != "call_1" {
		t.Error("expected id on first fragment")
	}

	second, _ := r.Render(normalize.ToolCallDeltaEvent(0, 0, "call_1", normalize.ToolCallFunctionDelta{Arguments: "\":1}"}))
	var chunk2 streamChunk
	json.Unmarshal(second[0].Data, &chunk2)
	if chunk2.Choices[0].Delta.ToolCalls[0].ID != "" {
		t.Error("expected id to be omitted on repeat fragment")
	}
}

func TestStreamRenderer_UsageEventBuffersUntilEnd(t *testing.T) {
	i := NewIngress()
	r := i.NewStreamRenderer()
	r.Render(normalize.StartEvent("id1", "gpt-4o"))

	frames, _ := r.Render(normalize.UsageEvent(normalize.Usage{InputTokens: 1}))
	if len(frames) != 0 {
		t.Fatalf("expected usage event to emit no frame directly, got %d", len(frames))
	}

	reason := normalize.FinishReasonStop
	endFrames, _ := r.Render(normalize.EndEvent(reason))
	if len(endFrames) != 3 {
		t.Fatalf("expected finish-reason chunk + usage chunk + sentinel, got %d frames", len(endFrames))
	}
	var usageChunk streamChunk
	json.Unmarshal(endFrames[1].Data, &usageChunk)
	if usageChunk.Usage == nil || usageChunk.Usage.PromptTokens != 1 {
		t.Errorf("expected buffered usage to be flushed on End, got %+v", usageChunk.Usage)
	}
}

func TestParseRequest_ToolMessageRoundTrip(t *testing.T) {
	i := NewIngress()
	body := []byte(`{
		"model": "gpt-4o",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": "what's the weather?"},
			{"role": "assistant", "content": null, "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "content": "sunny"}
		]
	}`)
	req, err := i.ParseRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}
	if req.Messages[2].Role != normalize.RoleTool || req.Messages[2].ToolCallID != "call_1" {
		t.Errorf("unexpected tool message: %+v", req.Messages[2])
	}
}
