package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/relaycore/lunaroute/pkg/dialect"
	"github.com/relaycore/lunaroute/pkg/normalize"
)

func TestRenderRequest_ToolRoleBecomesUserToolResult(t *testing.T) {
	e := NewEgress()
	req := normalize.Request{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 100,
		Messages: []normalize.Message{
			{Role: normalize.RoleUser, Content: []normalize.ContentPart{normalize.TextPart{Text: "what's the weather?"}}},
			{Role: normalize.RoleTool, ToolCallID: "toolu_1", Content: []normalize.ContentPart{normalize.TextPart{Text: "sunny"}}},
		},
	}

	body, err := e.RenderRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var wire request
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(wire.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(wire.Messages))
	}
	if wire.Messages[1].Role != "user" {
		t.Errorf("expected tool-role message to become role=user, got %q", wire.Messages[1].Role)
	}
	var blocks []wireContentBlock
	if err := json.Unmarshal(wire.Messages[1].Content, &blocks); err != nil {
		t.Fatalf("invalid content blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Type != "tool_result" || blocks[0].ToolUse != "toolu_1" {
		t.Errorf("unexpected tool_result block: %+v", blocks)
	}
}

func TestRenderRequest_SystemMessageCarriedOutOfBand(t *testing.T) {
	e := NewEgress()
	req := normalize.Request{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 100,
		System:    "be terse",
		Messages: []normalize.Message{
			{Role: normalize.RoleSystem, Content: []normalize.ContentPart{normalize.TextPart{Text: "be terse"}}},
			{Role: normalize.RoleUser, Content: []normalize.ContentPart{normalize.TextPart{Text: "hi"}}},
		},
	}

	body, _ := e.RenderRequest(req)
	var wire request
	json.Unmarshal(body, &wire)
	if len(wire.Messages) != 1 {
		t.Fatalf("expected the system-role message to be dropped from messages, got %d", len(wire.Messages))
	}
	var sys string
	json.Unmarshal(wire.System, &sys)
	if sys != "be terse" {
		t.Errorf("expected system field to carry the prompt, got %q", sys)
	}
}

func TestParseRequest_ToolResultBlockBecomesToolRole(t *testing.T) {
	i := NewIngress()
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": "what's the weather?"},
			{"role": "assistant", "content": [{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {}}]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "toolu_1", "content": "sunny"}]}
		]
	}`)

	req, err := i.ParseRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}
	if req.Messages[2].Role != normalize.RoleTool || req.Messages[2].ToolCallID != "toolu_1" {
		t.Errorf("unexpected tool-result message: %+v", req.Messages[2])
	}
	if req.Messages[1].ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("unexpected assistant tool call: %+v", req.Messages[1].ToolCalls)
	}
}

func TestParseRequest_BareStringContent(t *testing.T) {
	i := NewIngress()
	body := []byte(`{"model": "claude-3-5-sonnet-20241022", "max_tokens": 10, "messages": [{"role": "user", "content": "hi"}]}`)
	req, err := i.ParseRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Text() != "hi" {
		t.Fatalf("unexpected parsed message: %+v", req.Messages)
	}
}

func TestStreamScanner_ToolCallAcrossMultipleFragments(t *testing.T) {
	e := NewEgress()
	scanner := e.NewStreamScanner()

	scanner.Scan(dialect.SSEEvent{Event: "message_start", Data: `{"message":{"id":"msg_1","model":"claude-3-5-sonnet-20241022"}}`})
	scanner.Scan(dialect.SSEEvent{Event: "content_block_start", Data: `{"index": 0, "content_block": {"type": "tool_use", "id": "toolu_1", "name": "get_weather"}}`})

	events, err := scanner.Scan(dialect.SSEEvent{Event: "content_block_delta", Data: `{"index": 0, "delta": {"type": "input_json_delta", "partial_json": "{\"loc"}}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].ToolCallID != "toolu_1" || events[0].ToolCall.Name != "get_weather" {
		t.Fatalf("unexpected first fragment: %+v", events)
	}

	events, err = scanner.Scan(dialect.SSEEvent{Event: "content_block_delta", Data: `{"index": 0, "delta": {"type": "input_json_delta", "partial_json": "ation\": \"NYC\"}"}}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events[0].ToolCall.Arguments != `ation": "NYC"}` {
		t.Errorf("unexpected second fragment: %q", events[0].ToolCall.Arguments)
	}

	// content_block_stop clears the block; a stray delta afterward is dropped, not an error.
	scanner.Scan(dialect.SSEEvent{Event: "content_block_stop", Data: `{"index": 0}`})
	events, err = scanner.Scan(dialect.SSEEvent{Event: "content_block_delta", Data: `{"index": 0, "delta": {"type": "input_json_delta", "partial_json": "stray"}}`})
	if err != nil {
		t.Fatalf("unexpected error for stray fragment: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected stray fragment after content_block_stop to be dropped, got %+v", events)
	}
}

func TestStreamScanner_MessageDeltaEmitsUsageThenEnd(t *testing.T) {
	e := NewEgress()
	scanner := e.NewStreamScanner()

	events, err := scanner.Scan(dialect.SSEEvent{
		Event: "message_delta",
		Data:  `{"delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 42}}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected a usage event followed by an end event, got %d", len(events))
	}
	if events[0].Kind != normalize.EventUsage || events[0].Usage.OutputTokens != 42 {
		t.Errorf("unexpected usage event: %+v", events[0])
	}
	if events[1].Kind != normalize.EventEnd || events[1].FinishReason == nil || *events[1].FinishReason != normalize.FinishReasonStop {
		t.Errorf("unexpected end event: %+v", events[1])
	}
}

func TestStreamRenderer_NoSentinelFrame(t *testing.T) {
	i := NewIngress()
	r := i.NewStreamRenderer()

	r.Render(normalize.StartEvent("msg_1", "claude-3-5-sonnet-20241022"))
	r.Render(normalize.DeltaEvent(0, normalize.Delta{Content: "hi"}))
	reason := normalize.FinishReasonStop
	endFrames, err := r.Render(normalize.EndEvent(reason))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range endFrames {
		if f.Sentinel {
			t.Fatalf("anthropic's SSE framing has no [DONE] sentinel, got one: %+v", f)
		}
	}
	if endFrames[len(endFrames)-1].Event != "message_stop" {
		t.Errorf("expected the last frame to be message_stop, got %q", endFrames[len(endFrames)-1].Event)
	}
}

func TestStreamRenderer_ToolCallOpensDistinctContentBlockIndex(t *testing.T) {
	i := NewIngress()
	r := i.NewStreamRenderer()
	r.Render(normalize.StartEvent("msg_1", "claude-3-5-sonnet-20241022"))

	frames, err := r.Render(normalize.ToolCallDeltaEvent(0, 0, "toolu_1", normalize.ToolCallFunctionDelta{Name: "get_weather", Arguments: "{\"a"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var start struct {
		Index        int `json:"index"`
		ContentBlock struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"content_block"`
	}
	json.Unmarshal(frames[0].Data, &start)
	if start.Index != 1 || start.ContentBlock.Type != "tool_use" || start.ContentBlock.ID != "toolu_1" {
		t.Errorf("expected tool_use content_block_start at index 1, got %+v", start)
	}
}

func TestRenderResponse_ToolUseBlockRoundTrip(t *testing.T) {
	i := NewIngress()
	reason := normalize.FinishReasonToolCalls
	resp := normalize.Response{
		ID:    "msg_1",
		Model: "claude-3-5-sonnet-20241022",
		Choices: []normalize.Choice{{
			Index: 0,
			Message: normalize.Message{
				Role: normalize.RoleAssistant,
				ToolCalls: []normalize.ToolCall{{
					ID: "toolu_1", Type: "function",
					Function: normalize.FunctionCall{Name: "get_weather", Arguments: `{"location":"NYC"}`},
				}},
			},
			FinishReason: &reason,
		}},
	}
	body, err := i.RenderResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var wire response
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(wire.Content) != 1 || wire.Content[0].Type != "tool_use" || wire.Content[0].ID != "toolu_1" {
		t.Fatalf("unexpected rendered content: %+v", wire.Content)
	}
	if wire.StopReason != "tool_use" {
		t.Errorf("expected stop_reason=tool_use, got %q", wire.StopReason)
	}
}
