// Package openai implements the ingress and egress adapters for the OpenAI
// Chat Completions wire format (/v1/chat/completions, "[DONE]"-terminated SSE).
package openai

import "encoding/json"

const Name = "openai"

// request is the OpenAI Chat Completions request body.
type request struct {
	Model           string          `json:"model"`
	Messages        []wireMessage   `json:"messages"`
	Stream          bool            `json:"stream,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxTokens       *int            `json:"max_tokens,omitempty"`
	// MaxCompletionTokens replaces max_tokens for the "o"-series reasoning
	// model family, which rejects the legacy field name.
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	Tools               []wireTool      `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	StreamOptions       *wireStreamOptions `json:"stream_options,omitempty"`
}

type wireStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []wireToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// wireContentPart covers the multi-part content array shape used for
// vision input; plain messages instead marshal Content as a bare string.
type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// response is the non-streaming Chat Completions response body.
type response struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
		AudioTokens  int `json:"audio_tokens"`
	} `json:"prompt_tokens_details,omitempty"`

	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
		AudioTokens     int `json:"audio_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

// streamChunk is one "chat.completion.chunk" SSE frame payload. Usage is
// only populated on the final frame when the request set
// stream_options.include_usage.
type streamChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []streamChunkChoice `json:"choices"`
	Usage   *wireUsage          `json:"usage,omitempty"`
}

type streamChunkChoice struct {
	Index        int             `json:"index"`
	Delta        streamChunkDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type streamChunkDelta struct {
	Role      string               `json:"role,omitempty"`
	Content   string               `json:"content,omitempty"`
	ToolCalls []streamChunkToolCall `json:"tool_calls,omitempty"`
}

// streamChunkToolCall mirrors the vendor's own delta shape: Index identifies
// which tool call within the choice this fragment belongs to, ID/Name are
// only present on the fragment that opens the call, and Arguments carries
// one fragment of the JSON string that must be concatenated across frames.
type streamChunkToolCall struct {
	Index    int                     `json:"index"`
	ID       string                  `json:"id,omitempty"`
	Type     string                  `json:"type,omitempty"`
	Function streamChunkFunctionCall `json:"function"`
}

type streamChunkFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// reasoningModelPrefixes names the model families that require
// max_completion_tokens instead of max_tokens.
var reasoningModelPrefixes = []string{"o1", "o3", "o4"}

func usesMaxCompletionTokens(model string) bool {
	for _, p := range reasoningModelPrefixes {
		if len(model) >= len(p) && model[:len(p)] == p {
			return true
		}
	}
	return false
}
