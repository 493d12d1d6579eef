package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/relaycore/lunaroute/pkg/dialect"
	"github.com/relaycore/lunaroute/pkg/internal/jsonutil"
	"github.com/relaycore/lunaroute/pkg/normalize"
	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

// Egress renders normalized requests into Anthropic wire bytes and parses
// Anthropic wire bytes back into normalized responses and stream events.
type Egress struct{}

func NewEgress() *Egress { return &Egress{} }

func (Egress) Name() string { return Name }

func (Egress) Capabilities() dialect.Capabilities {
	return dialect.Capabilities{SupportsStreaming: true, SupportsTools: true, SupportsVision: true}
}

func (e Egress) RenderRequest(req normalize.Request) ([]byte, error) {
	out := request{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}

	if req.System != "" {
		b, _ := json.Marshal(req.System)
		out.System = b
	}

	for _, m := range req.Messages {
		// Anthropic has no system or tool role: system is carried out of
		// band (handled above), and tool-role messages become user
		// messages carrying a tool_result block.
		if m.Role == normalize.RoleSystem {
			continue
		}
		role := string(m.Role)
		var blocks []wireContentBlock
		if m.Role == normalize.RoleTool {
			role = "user"
			blocks = append(blocks, wireContentBlock{
				Type:    "tool_result",
				ToolUse: m.ToolCallID,
				Content: mustMarshal(m.Text()),
			})
		} else {
			for _, p := range m.Content {
				switch c := p.(type) {
				case normalize.TextPart:
					blocks = append(blocks, wireContentBlock{Type: "text", Text: c.Text})
				case normalize.ImagePart:
					src := &wireImageSrc{}
					if c.Kind == normalize.ImageSourceURL {
						src.Type = "url"
						src.URL = c.URL
					} else {
						src.Type = "base64"
						src.MediaType = c.MediaType
						src.Data = c.Data
					}
					blocks = append(blocks, wireContentBlock{Type: "image", Source: src})
				}
			}
			for _, tc := range m.ToolCalls {
				var input json.RawMessage
				if tc.Function.Arguments != "" {
					input = json.RawMessage(tc.Function.Arguments)
				} else {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, wireContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
		}
		content, _ := json.Marshal(blocks)
		out.Messages = append(out.Messages, wireMessage{Role: role, Content: content})
	}

	for _, t := range req.Tools {
		schema, _ := json.Marshal(t.Function.Parameters)
		out.Tools = append(out.Tools, wireTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Kind {
		case normalize.ToolChoiceAuto:
			out.ToolChoice = &wireToolChoice{Type: "auto"}
		case normalize.ToolChoiceRequired:
			out.ToolChoice = &wireToolChoice{Type: "any"}
		case normalize.ToolChoiceNone:
			out.ToolChoice = &wireToolChoice{Type: "none"}
		case normalize.ToolChoiceSpecific:
			out.ToolChoice = &wireToolChoice{Type: "tool", Name: req.ToolChoice.Name}
		}
	}

	return json.Marshal(out)
}

func mustMarshal(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func (e Egress) ParseResponse(body []byte) (normalize.Response, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return normalize.Response{}, proxyerrors.NewParseError(Name, "invalid response body", err)
	}

	msg := normalize.Message{Role: normalize.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, normalize.TextPart{Text: block.Text})
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			} else if !json.Valid([]byte(args)) {
				if fixed, err := jsonutil.FixJSON(args); err == nil {
					args = fixed
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, normalize.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: normalize.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}

	fr := finishReasonFromWire(resp.StopReason)
	input := int64(resp.Usage.InputTokens)
	cacheRead := int64(resp.Usage.CacheReadInputTokens)
	cacheCreate := int64(resp.Usage.CacheCreationInputTokens)
	output := int64(resp.Usage.OutputTokens)

	return normalize.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []normalize.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: &fr,
		}},
		Usage: normalize.Usage{
			InputTokens:         input,
			OutputTokens:        output,
			TotalTokens:         input + output + cacheRead + cacheCreate,
			CacheReadTokens:     cacheRead,
			CacheCreationTokens: cacheCreate,
		},
	}, nil
}

func (e Egress) NewStreamScanner() dialect.StreamScanner {
	return &streamScanner{blocks: make(map[int]*blockState)}
}

// blockState tracks an in-flight content block across SSE events, keyed
// by the Anthropic content_block index.
type blockState struct {
	isToolCall bool
	toolID     string
	toolName   string
	args       strings.Builder
}

// streamScanner is the egress-side state machine of §4.3: stream_id,
// active tool call, and argument accumulation, generalized to Anthropic's
// indexed content blocks so multiple concurrent tool calls are tracked
// correctly rather than just the single "active" one the distilled spec
// describes for the simple case.
type streamScanner struct {
	streamID string
	model    string
	blocks   map[int]*blockState
}

func (s *streamScanner) Scan(event dialect.SSEEvent) ([]normalize.StreamEvent, error) {
	switch event.Event {
	case "ping", "content_block_stop":
		if event.Event == "content_block_stop" {
			var stop struct {
				Index int `json:"index"`
			}
			if err := json.Unmarshal([]byte(event.Data), &stop); err == nil {
				delete(s.blocks, stop.Index)
			}
		}
		return nil, nil

	case "message_start":
		var msg struct {
			Message struct {
				ID   string `json:"id"`
				Model string `json:"model"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(event.Data), &msg); err != nil {
			return nil, proxyerrors.NewParseError(Name, "invalid message_start", err)
		}
		s.streamID = msg.Message.ID
		s.model = msg.Message.Model
		return []normalize.StreamEvent{normalize.StartEvent(s.streamID, s.model)}, nil

	case "content_block_start":
		var start struct {
			Index        int `json:"index"`
			ContentBlock struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
		}
		if err := json.Unmarshal([]byte(event.Data), &start); err != nil {
			return nil, proxyerrors.NewParseError(Name, "invalid content_block_start", err)
		}
		if start.ContentBlock.Type == "tool_use" {
			s.blocks[start.Index] = &blockState{
				isToolCall: true,
				toolID:     start.ContentBlock.ID,
				toolName:   start.ContentBlock.Name,
			}
		}
		return nil, nil

	case "content_block_delta":
		var delta struct {
			Index int `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(event.Data), &delta); err != nil {
			return nil, proxyerrors.NewParseError(Name, "invalid content_block_delta", err)
		}
		switch delta.Delta.Type {
		case "text_delta":
			return []normalize.StreamEvent{normalize.DeltaEvent(0, normalize.Delta{Content: delta.Delta.Text})}, nil
		case "input_json_delta":
			block := s.blocks[delta.Index]
			if block == nil {
				return nil, nil // fragment with no active tool call: drop and move on
			}
			block.args.WriteString(delta.Delta.PartialJSON)
			return []normalize.StreamEvent{normalize.ToolCallDeltaEvent(0, delta.Index, block.toolID, normalize.ToolCallFunctionDelta{
				Name:      block.toolName,
				Arguments: delta.Delta.PartialJSON,
			})}, nil
		}
		return nil, nil

	case "message_delta":
		var md struct {
			Delta struct {
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(event.Data), &md); err != nil {
			return nil, proxyerrors.NewParseError(Name, "invalid message_delta", err)
		}
		var out []normalize.StreamEvent
		if md.Usage.OutputTokens > 0 {
			out = append(out, normalize.UsageEvent(normalize.Usage{OutputTokens: int64(md.Usage.OutputTokens)}))
		}
		if md.Delta.StopReason != "" {
			out = append(out, normalize.EndEvent(finishReasonFromWire(md.Delta.StopReason)))
		}
		return out, nil

	case "message_stop":
		return nil, nil

	case "error":
		var e struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal([]byte(event.Data), &e)
		return []normalize.StreamEvent{normalize.ErrorEvent(e.Error.Type, e.Error.Message)}, nil
	}

	// Unknown event types (new Anthropic features not yet modeled) are
	// ignored rather than failing the stream.
	return nil, nil
}
