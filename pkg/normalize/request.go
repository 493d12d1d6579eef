package normalize

// Request is the canonical, dialect-agnostic representation of a chat
// completion request. Every ingress adapter produces one of these from its
// vendor wire format; every egress adapter consumes one to render its own.
type Request struct {
	Model         string            `json:"model"`
	Messages      []Message         `json:"messages"`
	System        string            `json:"system,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	TopK          *int              `json:"top_k,omitempty"`
	MaxTokens     int               `json:"max_tokens"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream"`
	Tools         []Tool            `json:"tools,omitempty"`
	ToolChoice    *ToolChoice       `json:"tool_choice,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Bounds enforced on a Request at the ingress boundary, per the data model.
const (
	MaxModelIDLen       = 256
	MaxMessages         = 100_000
	MaxMessageBodyBytes = 1 << 20 // 1 MB
	MaxToolArgsBytes    = 1_000_000 // 1 MB
	MaxTokensCeiling    = 100_000
)

// Choice is one candidate response within a NormalizedResponse.
type Choice struct {
	Index        int           `json:"index"`
	Message      Message       `json:"message"`
	FinishReason *FinishReason `json:"finish_reason,omitempty"`
}

// Response is the canonical, dialect-agnostic representation of a
// non-streaming chat completion response.
type Response struct {
	ID        string            `json:"id"`
	Model     string            `json:"model"`
	Choices   []Choice          `json:"choices"`
	Usage     Usage             `json:"usage"`
	CreatedAt int64             `json:"created_at"` // unix seconds
	Metadata  map[string]string `json:"metadata,omitempty"`
}
