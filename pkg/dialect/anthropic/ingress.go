package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/relaycore/lunaroute/pkg/dialect"
	"github.com/relaycore/lunaroute/pkg/normalize"
	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

// Ingress parses Anthropic-dialect client requests into normalized form
// and renders normalized responses/streams back into Anthropic wire bytes.
type Ingress struct{}

func NewIngress() *Ingress { return &Ingress{} }

func (Ingress) Name() string { return Name }

func (Ingress) Capabilities() dialect.Capabilities {
	return dialect.Capabilities{SupportsStreaming: true, SupportsTools: true, SupportsVision: true}
}

func (i Ingress) ParseRequest(body []byte) (normalize.Request, error) {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return normalize.Request{}, proxyerrors.NewValidationError("body", "malformed JSON: "+err.Error())
	}

	out := normalize.Request{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}

	if len(req.System) > 0 {
		out.System = systemToText(req.System)
	}

	for _, m := range req.Messages {
		nm := normalize.Message{Role: normalize.Role(m.Role)}
		var blocks []wireContentBlock
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			// content may be a bare string
			var text string
			if err2 := json.Unmarshal(m.Content, &text); err2 != nil {
				return normalize.Request{}, proxyerrors.NewValidationError("messages", "message content must be a string or content-block array")
			}
			nm.Content = append(nm.Content, normalize.TextPart{Text: text})
			out.Messages = append(out.Messages, nm)
			continue
		}
		for _, b := range blocks {
			switch b.Type {
			case "text":
				nm.Content = append(nm.Content, normalize.TextPart{Text: b.Text})
			case "image":
				if b.Source == nil {
					continue
				}
				if b.Source.Type == "url" {
					nm.Content = append(nm.Content, normalize.ImagePart{Kind: normalize.ImageSourceURL, URL: b.Source.URL})
				} else {
					nm.Content = append(nm.Content, normalize.ImagePart{
						Kind: normalize.ImageSourceInline, MediaType: b.Source.MediaType, Data: b.Source.Data,
					})
				}
			case "tool_use":
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				nm.ToolCalls = append(nm.ToolCalls, normalize.ToolCall{
					ID: b.ID, Type: "function",
					Function: normalize.FunctionCall{Name: b.Name, Arguments: args},
				})
			case "tool_result":
				// Anthropic models tool results as a content block within a
				// user message; normalize that message to role=tool.
				nm.Role = normalize.RoleTool
				nm.ToolCallID = b.ToolUse
				var text string
				_ = json.Unmarshal(b.Content, &text)
				nm.Content = append(nm.Content, normalize.TextPart{Text: text})
			}
		}
		out.Messages = append(out.Messages, nm)
	}

	for _, t := range req.Tools {
		var schema interface{}
		_ = json.Unmarshal(t.InputSchema, &schema)
		out.Tools = append(out.Tools, normalize.Tool{
			Type: "function",
			Function: normalize.FunctionDef{
				Name: t.Name, Description: t.Description, Parameters: schema,
			},
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "auto":
			out.ToolChoice = &normalize.ToolChoice{Kind: normalize.ToolChoiceAuto}
		case "any":
			out.ToolChoice = &normalize.ToolChoice{Kind: normalize.ToolChoiceRequired}
		case "none":
			out.ToolChoice = &normalize.ToolChoice{Kind: normalize.ToolChoiceNone}
		case "tool":
			out.ToolChoice = &normalize.ToolChoice{Kind: normalize.ToolChoiceSpecific, Name: req.ToolChoice.Name}
		}
	}

	if err := out.Validate(); err != nil {
		return normalize.Request{}, err
	}
	return out, nil
}

// systemToText accepts either a bare string or an array of text blocks,
// concatenating array shapes with "\n" per the data model.
func systemToText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for i, b := range blocks {
			if i > 0 {
				out += "\n"
			}
			out += b.Text
		}
		return out
	}
	return ""
}

func (i Ingress) RenderResponse(resp normalize.Response) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anthropic: response has no choices")
	}
	choice := resp.Choices[0]

	var blocks []wireContentBlock
	for _, p := range choice.Message.Content {
		if t, ok := p.(normalize.TextPart); ok {
			blocks = append(blocks, wireContentBlock{Type: "text", Text: t.Text})
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		blocks = append(blocks, wireContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
	}

	stopReason := "end_turn"
	if choice.FinishReason != nil {
		stopReason = finishReasonToWire(*choice.FinishReason)
	}

	out := response{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      resp.Model,
		StopReason: stopReason,
		Usage: wireResponseUsage{
			InputTokens:              int(resp.Usage.InputTokens),
			OutputTokens:             int(resp.Usage.OutputTokens),
			CacheReadInputTokens:     int(resp.Usage.CacheReadTokens),
			CacheCreationInputTokens: int(resp.Usage.CacheCreationTokens),
		},
	}
	return json.Marshal(out)
}

func (i Ingress) NewStreamRenderer() dialect.StreamRenderer {
	return &streamRenderer{}
}

// streamRenderer is the ingress-side state machine of §4.3: it holds just
// enough state to satisfy the wire ordering guarantees (message_start
// before any delta, content_block_stop before the stop-reason-bearing
// message_delta, message_stop last) even when the normalized event
// sequence does not strictly alternate.
type streamRenderer struct {
	contentBlockStarted bool
	toolBlocksOpen      map[int]bool
	pendingUsage        *normalize.Usage
}

func (r *streamRenderer) Render(ev normalize.StreamEvent) ([]dialect.Frame, error) {
	switch ev.Kind {
	case normalize.EventStart:
		r.toolBlocksOpen = make(map[int]bool)
		data, _ := json.Marshal(map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id": ev.ID, "type": "message", "role": "assistant", "model": ev.Model, "content": []interface{}{},
			},
		})
		return []dialect.Frame{{Event: "message_start", Data: data}}, nil

	case normalize.EventDelta:
		var frames []dialect.Frame
		if !r.contentBlockStarted {
			r.contentBlockStarted = true
			startData, _ := json.Marshal(map[string]interface{}{
				"type": "content_block_start", "index": 0,
				"content_block": map[string]interface{}{"type": "text", "text": ""},
			})
			frames = append(frames, dialect.Frame{Event: "content_block_start", Data: startData})
		}
		deltaData, _ := json.Marshal(map[string]interface{}{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]interface{}{"type": "text_delta", "text": ev.Delta.Content},
		})
		frames = append(frames, dialect.Frame{Event: "content_block_delta", Data: deltaData})
		return frames, nil

	case normalize.EventToolCallDelta:
		var frames []dialect.Frame
		if !r.toolBlocksOpen[ev.ToolCallIndex] {
			r.toolBlocksOpen[ev.ToolCallIndex] = true
			startData, _ := json.Marshal(map[string]interface{}{
				"type": "content_block_start", "index": ev.ToolCallIndex + 1,
				"content_block": map[string]interface{}{"type": "tool_use", "id": ev.ToolCallID, "name": ev.ToolCall.Name, "input": map[string]interface{}{}},
			})
			frames = append(frames, dialect.Frame{Event: "content_block_start", Data: startData})
		}
		if ev.ToolCall.Arguments != "" {
			deltaData, _ := json.Marshal(map[string]interface{}{
				"type": "content_block_delta", "index": ev.ToolCallIndex + 1,
				"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": ev.ToolCall.Arguments},
			})
			frames = append(frames, dialect.Frame{Event: "content_block_delta", Data: deltaData})
		}
		return frames, nil

	case normalize.EventUsage:
		r.pendingUsage = ev.Usage
		return nil, nil

	case normalize.EventEnd:
		var frames []dialect.Frame
		if r.contentBlockStarted {
			stopData, _ := json.Marshal(map[string]interface{}{"type": "content_block_stop", "index": 0})
			frames = append(frames, dialect.Frame{Event: "content_block_stop", Data: stopData})
		}
		for idx := range r.toolBlocksOpen {
			stopData, _ := json.Marshal(map[string]interface{}{"type": "content_block_stop", "index": idx + 1})
			frames = append(frames, dialect.Frame{Event: "content_block_stop", Data: stopData})
		}
		reason := "end_turn"
		if ev.FinishReason != nil {
			reason = finishReasonToWire(*ev.FinishReason)
		}
		deltaPayload := map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": reason},
		}
		if r.pendingUsage != nil {
			deltaPayload["usage"] = map[string]interface{}{"output_tokens": r.pendingUsage.OutputTokens}
		}
		deltaData, _ := json.Marshal(deltaPayload)
		frames = append(frames, dialect.Frame{Event: "message_delta", Data: deltaData})
		stopData, _ := json.Marshal(map[string]interface{}{"type": "message_stop"})
		frames = append(frames, dialect.Frame{Event: "message_stop", Data: stopData})
		return frames, nil

	case normalize.EventError:
		errData, _ := json.Marshal(map[string]interface{}{
			"type": "error", "error": map[string]interface{}{"type": ev.ErrKind, "message": ev.ErrMsg},
		})
		return []dialect.Frame{{Event: "error", Data: errData}}, nil
	}
	return nil, nil
}
