package normalize

// Tool describes a function the model may call. Parameters must be a
// JSON-Schema object carrying a "type" key; adapters validate this on
// ingress and pass it through opaquely on egress.
type Tool struct {
	Type     string      `json:"type"` // always "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef is the callable surface of a Tool.
type FunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters"`
}

// FunctionCall carries arguments as an opaque JSON-encoded string so that
// byte-for-byte fidelity survives dialect translation and streaming
// fragment concatenation. Never decode this into a map except to validate
// shape; never re-encode it lossily.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single model-initiated function invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// ToolChoiceKind is the tagged sum {auto, required, none, specific(name)}.
type ToolChoiceKind string

const (
	ToolChoiceAuto     ToolChoiceKind = "auto"
	ToolChoiceRequired ToolChoiceKind = "required"
	ToolChoiceNone     ToolChoiceKind = "none"
	ToolChoiceSpecific ToolChoiceKind = "specific"
)

// ToolChoice directs the model's tool-calling behavior. Name is only
// meaningful when Kind == ToolChoiceSpecific.
type ToolChoice struct {
	Kind ToolChoiceKind `json:"kind"`
	Name string         `json:"name,omitempty"`
}
