package openai

import (
	"encoding/json"

	"github.com/relaycore/lunaroute/pkg/dialect"
	"github.com/relaycore/lunaroute/pkg/normalize"
	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

// Ingress parses OpenAI-dialect client requests into normalized form and
// renders normalized responses/streams back into OpenAI wire bytes.
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
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if req.MaxCompletionTokens != nil {
		out.MaxTokens = *req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			out.System = parseContentText(m.Content)
			continue
		}

		nm := normalize.Message{Role: normalize.Role(m.Role), Name: m.Name}

		if m.Role == "tool" {
			nm.ToolCallID = m.ToolCallID
			nm.Content = append(nm.Content, normalize.TextPart{Text: parseContentText(m.Content)})
			out.Messages = append(out.Messages, nm)
			continue
		}

		nm.Content = parseContentParts(m.Content)
		for _, tc := range m.ToolCalls {
			args := tc.Function.Arguments
			if args == "" {
				args = "{}"
			}
			nm.ToolCalls = append(nm.ToolCalls, normalize.ToolCall{
				ID: tc.ID, Type: "function",
				Function: normalize.FunctionCall{Name: tc.Function.Name, Arguments: args},
			})
		}
		out.Messages = append(out.Messages, nm)
	}

	for _, t := range req.Tools {
		var schema interface{}
		_ = json.Unmarshal(t.Function.Parameters, &schema)
		out.Tools = append(out.Tools, normalize.Tool{
			Type: "function",
			Function: normalize.FunctionDef{
				Name: t.Function.Name, Description: t.Function.Description, Parameters: schema,
			},
		})
	}

	if len(req.ToolChoice) > 0 {
		out.ToolChoice = parseToolChoice(req.ToolChoice)
	}

	if err := out.Validate(); err != nil {
		return normalize.Request{}, err
	}
	return out, nil
}

// parseContentText accepts either a bare string or a multi-part content
// array, concatenating text parts with "" (OpenAI has no separator rule
// between adjacent text parts).
func parseContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		out := ""
		for _, p := range parts {
			if p.Type == "text" {
				out += p.Text
			}
		}
		return out
	}
	return ""
}

func parseContentParts(raw json.RawMessage) []normalize.ContentPart {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []normalize.ContentPart{normalize.TextPart{Text: s}}
	}
	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var out []normalize.ContentPart
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, normalize.TextPart{Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			out = append(out, normalize.ImagePart{Kind: normalize.ImageSourceURL, URL: p.ImageURL.URL})
		}
	}
	return out
}

func parseToolChoice(raw json.RawMessage) *normalize.ToolChoice {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			return &normalize.ToolChoice{Kind: normalize.ToolChoiceAuto}
		case "required":
			return &normalize.ToolChoice{Kind: normalize.ToolChoiceRequired}
		case "none":
			return &normalize.ToolChoice{Kind: normalize.ToolChoiceNone}
		}
		return nil
	}
	var specific struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &specific); err == nil && specific.Type == "function" {
		return &normalize.ToolChoice{Kind: normalize.ToolChoiceSpecific, Name: specific.Function.Name}
	}
	return nil
}

func (i Ingress) RenderResponse(resp normalize.Response) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return nil, proxyerrors.NewParseError(Name, "response has no choices", nil)
	}
	choice := resp.Choices[0]

	wm := wireMessage{Role: "assistant"}
	text := choice.Message.Text()
	if text != "" || len(choice.Message.ToolCalls) == 0 {
		content, _ := json.Marshal(text)
		wm.Content = content
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID: tc.ID, Type: "function",
			Function: wireFunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}

	finishReason := "stop"
	if choice.FinishReason != nil {
		finishReason = finishReasonToWire(*choice.FinishReason)
	}

	out := response{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: 0,
		Model:   resp.Model,
		Choices: []wireChoice{{Index: 0, Message: wm, FinishReason: finishReason}},
		Usage: wireUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	return json.Marshal(out)
}

func (i Ingress) NewStreamRenderer() dialect.StreamRenderer {
	return &streamRenderer{}
}

// streamRenderer is the ingress-side state machine for OpenAI: unlike
// Anthropic's many named events, most normalized events render to at
// most one "chat.completion.chunk" frame (End renders the finish chunk, an
// optional usage chunk and the [DONE] sentinel), so there is little state to
// hold beyond the stream identity carried from the start event and
// whether the role has already been sent (OpenAI only sends role on the
// first delta of a choice).
type streamRenderer struct {
	streamID      string
	model         string
	roleSent      bool
	toolCallsSeen map[int]bool
	pendingUsage  *normalize.Usage
}

func (r *streamRenderer) Render(ev normalize.StreamEvent) ([]dialect.Frame, error) {
	switch ev.Kind {
	case normalize.EventStart:
		r.streamID = ev.ID
		r.model = ev.Model
		role := "assistant"
		data, _ := json.Marshal(streamChunk{
			ID: r.streamID, Object: "chat.completion.chunk", Model: r.model,
			Choices: []streamChunkChoice{{Index: 0, Delta: streamChunkDelta{Role: role}}},
		})
		r.roleSent = true
		return []dialect.Frame{{Data: data}}, nil

	case normalize.EventDelta:
		data, _ := json.Marshal(streamChunk{
			ID: r.streamID, Object: "chat.completion.chunk", Model: r.model,
			Choices: []streamChunkChoice{{Index: 0, Delta: streamChunkDelta{Content: ev.Delta.Content}}},
		})
		return []dialect.Frame{{Data: data}}, nil

	case normalize.EventToolCallDelta:
		tc := streamChunkToolCall{Index: ev.ToolCallIndex, Function: streamChunkFunctionCall{Arguments: ev.ToolCall.Arguments}}
		if !r.seenToolCall(ev.ToolCallIndex) {
			tc.ID = ev.ToolCallID
			tc.Type = "function"
			tc.Function.Name = ev.ToolCall.Name
			if r.toolCallsSeen == nil {
				r.toolCallsSeen = make(map[int]bool)
			}
			r.toolCallsSeen[ev.ToolCallIndex] = true
		}
		data, _ := json.Marshal(streamChunk{
			ID: r.streamID, Object: "chat.completion.chunk", Model: r.model,
			Choices: []streamChunkChoice{{Index: 0, Delta: streamChunkDelta{ToolCalls: []streamChunkToolCall{tc}}}},
		})
		return []dialect.Frame{{Data: data}}, nil

	case normalize.EventUsage:
		r.pendingUsage = ev.Usage
		return nil, nil

	case normalize.EventEnd:
		reason := "stop"
		if ev.FinishReason != nil {
			reason = finishReasonToWire(*ev.FinishReason)
		}
		chunk := streamChunk{
			ID: r.streamID, Object: "chat.completion.chunk", Model: r.model,
			Choices: []streamChunkChoice{{Index: 0, Delta: streamChunkDelta{}, FinishReason: &reason}},
		}
		data, _ := json.Marshal(chunk)
		frames := []dialect.Frame{{Data: data}}
		if r.pendingUsage != nil {
			u := *r.pendingUsage
			usageChunk := streamChunk{
				ID: r.streamID, Object: "chat.completion.chunk", Model: r.model,
				Choices: []streamChunkChoice{},
				Usage: &wireUsage{
					PromptTokens:     int(u.InputTokens),
					CompletionTokens: int(u.OutputTokens),
					TotalTokens:      int(u.TotalTokens),
				},
			}
			usageData, _ := json.Marshal(usageChunk)
			frames = append(frames, dialect.Frame{Data: usageData})
		}
		frames = append(frames, dialect.Frame{Sentinel: true})
		return frames, nil

	case normalize.EventError:
		data, _ := json.Marshal(map[string]interface{}{
			"error": map[string]interface{}{"type": ev.ErrKind, "message": ev.ErrMsg},
		})
		return []dialect.Frame{{Data: data}}, nil
	}
	return nil, nil
}

// seenToolCall reports whether a tool-call chunk for this tool-call index has
// already rendered (and thus its id/name were already sent). The renderer
// itself is stateless across tool calls because OpenAI clients identify an
// open call purely by the index field, so a second lightweight map is kept
// only to decide whether to repeat the id/name.
func (r *streamRenderer) seenToolCall(index int) bool {
	if r.toolCallsSeen == nil {
		return false
	}
	return r.toolCallsSeen[index]
}
