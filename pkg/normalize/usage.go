package normalize

// Usage totals a request's token accounting. All fields are counts, not
// pointers: a missing value is zero and the MAX-update rule in the session
// pipeline treats zero as "not yet observed" rather than "observed zero".
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
	ThinkingTokens       int64 `json:"thinking_tokens,omitempty"`
	ReasoningTokens      int64 `json:"reasoning_tokens,omitempty"`
	CacheReadTokens      int64 `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens  int64 `json:"cache_creation_tokens,omitempty"`
	AudioInputTokens     int64 `json:"audio_input_tokens,omitempty"`
	AudioOutputTokens    int64 `json:"audio_output_tokens,omitempty"`
}

// FinishReason is the normalized closed enumeration of stop causes.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
)
