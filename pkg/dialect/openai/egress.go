package openai

import (
	"encoding/json"

	"github.com/relaycore/lunaroute/pkg/dialect"
	"github.com/relaycore/lunaroute/pkg/internal/imageutil"
	"github.com/relaycore/lunaroute/pkg/internal/jsonutil"
	"github.com/relaycore/lunaroute/pkg/normalize"
	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

// Egress renders normalized requests into OpenAI wire bytes and parses
// OpenAI wire bytes back into normalized responses and stream events.
type Egress struct{}

func NewEgress() *Egress { return &Egress{} }

func (Egress) Name() string { return Name }

func (Egress) Capabilities() dialect.Capabilities {
	return dialect.Capabilities{SupportsStreaming: true, SupportsTools: true, SupportsVision: true}
}

func (e Egress) RenderRequest(req normalize.Request) ([]byte, error) {
	out := request{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}

	if req.Stream {
		out.StreamOptions = &wireStreamOptions{IncludeUsage: true}
	}

	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		if usesMaxCompletionTokens(req.Model) {
			out.MaxCompletionTokens = &mt
		} else {
			out.MaxTokens = &mt
		}
	}

	if req.System != "" {
		sysContent, _ := json.Marshal(req.System)
		out.Messages = append(out.Messages, wireMessage{Role: "system", Content: sysContent})
	}

	for _, m := range req.Messages {
		if m.Role == normalize.RoleSystem {
			sysContent, _ := json.Marshal(m.Text())
			out.Messages = append(out.Messages, wireMessage{Role: "system", Content: sysContent})
			continue
		}

		wm := wireMessage{Role: string(m.Role), Name: m.Name}

		if m.Role == normalize.RoleTool {
			wm.ToolCallID = m.ToolCallID
			content, _ := json.Marshal(m.Text())
			wm.Content = content
			out.Messages = append(out.Messages, wm)
			continue
		}

		parts := renderContentParts(m.Content)
		switch {
		case len(parts) == 0:
			// assistant turns carrying only tool calls have no content
		case len(parts) == 1 && parts[0].Type == "text" && parts[0].ImageURL == nil:
			content, _ := json.Marshal(parts[0].Text)
			wm.Content = content
		default:
			content, _ := json.Marshal(parts)
			wm.Content = content
		}

		for _, tc := range m.ToolCalls {
			args := tc.Function.Arguments
			if args == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID: tc.ID, Type: "function",
				Function: wireFunctionCall{Name: tc.Function.Name, Arguments: args},
			})
		}

		out.Messages = append(out.Messages, wm)
	}

	for _, t := range req.Tools {
		params, _ := json.Marshal(t.Function.Parameters)
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name: t.Function.Name, Description: t.Function.Description, Parameters: params,
			},
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Kind {
		case normalize.ToolChoiceAuto:
			out.ToolChoice, _ = json.Marshal("auto")
		case normalize.ToolChoiceRequired:
			out.ToolChoice, _ = json.Marshal("required")
		case normalize.ToolChoiceNone:
			out.ToolChoice, _ = json.Marshal("none")
		case normalize.ToolChoiceSpecific:
			out.ToolChoice, _ = json.Marshal(map[string]interface{}{
				"type":     "function",
				"function": map[string]string{"name": req.ToolChoice.Name},
			})
		}
	}

	return json.Marshal(out)
}

func renderContentParts(content []normalize.ContentPart) []wireContentPart {
	var parts []wireContentPart
	for _, p := range content {
		switch c := p.(type) {
		case normalize.TextPart:
			parts = append(parts, wireContentPart{Type: "text", Text: c.Text})
		case normalize.ImagePart:
			url := c.URL
			if c.Kind == normalize.ImageSourceInline {
				url = imageutil.DataURIFromEncoded(c.Data, c.MediaType)
			}
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: url}})
		}
	}
	return parts
}

func (e Egress) ParseResponse(body []byte) (normalize.Response, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return normalize.Response{}, proxyerrors.NewParseError(Name, "invalid response body", err)
	}
	if len(resp.Choices) == 0 {
		return normalize.Response{}, proxyerrors.NewParseError(Name, "response has no choices", nil)
	}

	choice := resp.Choices[0]
	msg := normalize.Message{Role: normalize.RoleAssistant}
	if len(choice.Message.Content) > 0 {
		var text string
		if err := json.Unmarshal(choice.Message.Content, &text); err == nil && text != "" {
			msg.Content = append(msg.Content, normalize.TextPart{Text: text})
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		} else if !json.Valid([]byte(args)) {
			if fixed, err := jsonutil.FixJSON(args); err == nil {
				args = fixed
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, normalize.ToolCall{
			ID: tc.ID, Type: "function",
			Function: normalize.FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}

	fr := finishReasonFromWire(choice.FinishReason)
	usage := convertUsage(resp.Usage)

	return normalize.Response{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: []normalize.Choice{{Index: 0, Message: msg, FinishReason: &fr}},
		Usage:   usage,
	}, nil
}

func convertUsage(u wireUsage) normalize.Usage {
	out := normalize.Usage{
		InputTokens:  int64(u.PromptTokens),
		OutputTokens: int64(u.CompletionTokens),
		TotalTokens:  int64(u.TotalTokens),
	}
	if u.PromptTokensDetails != nil {
		out.CacheReadTokens = int64(u.PromptTokensDetails.CachedTokens)
		out.AudioInputTokens = int64(u.PromptTokensDetails.AudioTokens)
	}
	if u.CompletionTokensDetails != nil {
		out.ReasoningTokens = int64(u.CompletionTokensDetails.ReasoningTokens)
		out.AudioOutputTokens = int64(u.CompletionTokensDetails.AudioTokens)
	}
	return out
}

func (e Egress) NewStreamScanner() dialect.StreamScanner {
	return &streamScanner{toolCalls: make(map[int]*toolCallState)}
}

// toolCallState tracks one in-flight tool call across chunk fragments,
// keyed by the vendor's own delta index (not the JSON array position,
// which can repeat an index across frames while still growing the same
// call's arguments).
type toolCallState struct {
	id   string
	name string
}

// streamScanner is the egress-side state machine for OpenAI chunks. Unlike
// Anthropic's named content-block events, OpenAI ships one undifferentiated
// "chat.completion.chunk" per frame and distinguishes text/tool-call/finish
// deltas only by which sub-field is populated; tool-call fragments must be
// reassembled by (choice index, tool_call delta index) because only the
// first fragment for a given call carries its id and function name.
type streamScanner struct {
	streamID  string
	model     string
	started   bool
	toolCalls map[int]*toolCallState
}

func (s *streamScanner) Scan(event dialect.SSEEvent) ([]normalize.StreamEvent, error) {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
		return nil, proxyerrors.NewParseError(Name, "invalid stream chunk", err)
	}

	var out []normalize.StreamEvent
	if !s.started {
		s.started = true
		s.streamID = chunk.ID
		s.model = chunk.Model
		out = append(out, normalize.StartEvent(s.streamID, s.model))
	}

	if len(chunk.Choices) == 0 {
		// The final include_usage frame carries no choices, only usage.
		if chunk.Usage != nil {
			out = append(out, normalize.UsageEvent(convertUsage(*chunk.Usage)))
		}
		return out, nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		out = append(out, normalize.DeltaEvent(0, normalize.Delta{Content: choice.Delta.Content}))
	}

	for _, tc := range choice.Delta.ToolCalls {
		state := s.toolCalls[tc.Index]
		if state == nil {
			state = &toolCallState{id: tc.ID, name: tc.Function.Name}
			s.toolCalls[tc.Index] = state
		}
		out = append(out, normalize.ToolCallDeltaEvent(0, tc.Index, state.id, normalize.ToolCallFunctionDelta{
			Name:      state.name,
			Arguments: tc.Function.Arguments,
		}))
	}

	if choice.FinishReason != nil {
		out = append(out, normalize.EndEvent(finishReasonFromWire(*choice.FinishReason)))
	}

	if chunk.Usage != nil {
		out = append(out, normalize.UsageEvent(convertUsage(*chunk.Usage)))
	}

	return out, nil
}
