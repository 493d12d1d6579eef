package normalize

import (
	"fmt"

	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

// Validate checks a Request against the bounds fixed by the data model.
// It runs once at ingress, before any normalization output is produced.
func (r Request) Validate() error {
	if r.Model == "" {
		return proxyerrors.NewValidationError("model", "model is required")
	}
	if len(r.Model) > MaxModelIDLen {
		return proxyerrors.NewValidationError("model", fmt.Sprintf("model id exceeds %d characters", MaxModelIDLen))
	}
	if len(r.Messages) == 0 {
		return proxyerrors.NewValidationError("messages", "messages cannot be empty")
	}
	if len(r.Messages) > MaxMessages {
		return proxyerrors.NewValidationError("messages", fmt.Sprintf("messages exceed %d", MaxMessages))
	}
	if r.MaxTokens <= 0 || r.MaxTokens > MaxTokensCeiling {
		return proxyerrors.NewValidationError("max_tokens", fmt.Sprintf("max_tokens must be in (0, %d]", MaxTokensCeiling))
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return proxyerrors.NewValidationError("top_p", "top_p must be in [0,1]")
	}

	for i, m := range r.Messages {
		if err := m.validate(i); err != nil {
			return err
		}
	}
	for _, t := range r.Tools {
		if err := t.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (m Message) validate(index int) error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return proxyerrors.NewValidationError("messages", fmt.Sprintf("message %d has invalid role %q", index, m.Role))
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return proxyerrors.NewValidationError("messages", fmt.Sprintf("message %d has role tool but no tool_call_id", index))
	}
	if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
		// assistant messages with tool calls may carry empty text content
	} else if len(m.Content) == 0 {
		return proxyerrors.NewValidationError("messages", fmt.Sprintf("message %d has empty content", index))
	}

	var bodyBytes int
	for _, p := range m.Content {
		if t, ok := p.(TextPart); ok {
			bodyBytes += len(t.Text)
		}
	}
	if bodyBytes > MaxMessageBodyBytes {
		return proxyerrors.NewValidationError("messages", fmt.Sprintf("message %d body exceeds %d bytes", index, MaxMessageBodyBytes))
	}

	for _, tc := range m.ToolCalls {
		if len(tc.Function.Arguments) > MaxToolArgsBytes {
			return proxyerrors.NewValidationError("tool_calls",
				fmt.Sprintf("Tool arguments too large for '%s': %d bytes (max 1MB)", tc.Function.Name, len(tc.Function.Arguments)))
		}
	}
	return nil
}

func (t Tool) validate() error {
	if t.Function.Name == "" {
		return proxyerrors.NewValidationError("tools", "tool function name is required")
	}
	schema, ok := t.Function.Parameters.(map[string]interface{})
	if !ok {
		return proxyerrors.NewValidationError("tools", fmt.Sprintf("tool '%s' parameters must be a JSON-Schema object", t.Function.Name))
	}
	if _, ok := schema["type"]; !ok {
		return proxyerrors.NewValidationError("tools", fmt.Sprintf("tool '%s' parameters schema missing 'type'", t.Function.Name))
	}
	return nil
}
