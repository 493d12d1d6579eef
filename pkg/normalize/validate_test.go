package normalize

import (
	"strings"
	"testing"

	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

func validRequest() Request {
	return Request{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 1024,
		Messages: []Message{
			{Role: RoleUser, Content: []ContentPart{TextPart{Text: "hi"}}},
		},
	}
}

func TestValidate_AcceptsAWellFormedRequest(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_RejectsMissingModel(t *testing.T) {
	r := validRequest()
	r.Model = ""
	assertValidationError(t, r, "model")
}

func TestValidate_RejectsOversizedModelID(t *testing.T) {
	r := validRequest()
	r.Model = strings.Repeat("x", MaxModelIDLen+1)
	assertValidationError(t, r, "model")
}

func TestValidate_RejectsEmptyMessages(t *testing.T) {
	r := validRequest()
	r.Messages = nil
	assertValidationError(t, r, "messages")
}

func TestValidate_RejectsInvalidMaxTokens(t *testing.T) {
	r := validRequest()
	r.MaxTokens = 0
	assertValidationError(t, r, "max_tokens")

	r = validRequest()
	r.MaxTokens = MaxTokensCeiling + 1
	assertValidationError(t, r, "max_tokens")
}

func TestValidate_RejectsTopPOutOfRange(t *testing.T) {
	r := validRequest()
	bad := 1.5
	r.TopP = &bad
	assertValidationError(t, r, "top_p")
}

func TestValidate_RejectsUnknownRole(t *testing.T) {
	r := validRequest()
	r.Messages[0].Role = Role("bogus")
	assertValidationError(t, r, "messages")
}

func TestValidate_RejectsToolRoleWithoutCallID(t *testing.T) {
	r := validRequest()
	r.Messages[0].Role = RoleTool
	r.Messages[0].ToolCallID = ""
	assertValidationError(t, r, "messages")
}

func TestValidate_AllowsAssistantMessageWithOnlyToolCalls(t *testing.T) {
	r := validRequest()
	r.Messages[0].Role = RoleAssistant
	r.Messages[0].Content = nil
	r.Messages[0].ToolCalls = []ToolCall{{ID: "call_1", Type: "function", Function: FunctionCall{Name: "f", Arguments: "{}"}}}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected a tool-calls-only assistant message to be valid, got %v", err)
	}
}

func TestValidate_RejectsOversizedToolArguments(t *testing.T) {
	r := validRequest()
	r.Messages[0].Role = RoleAssistant
	r.Messages[0].ToolCalls = []ToolCall{{
		ID: "call_1", Type: "function",
		Function: FunctionCall{Name: "f", Arguments: strings.Repeat("a", MaxToolArgsBytes+1)},
	}}
	assertValidationError(t, r, "tool_calls")
}

func TestValidate_RejectsOversizedMessageBody(t *testing.T) {
	r := validRequest()
	r.Messages[0].Content = []ContentPart{TextPart{Text: strings.Repeat("a", MaxMessageBodyBytes+1)}}
	assertValidationError(t, r, "messages")
}

func TestValidate_RejectsToolMissingName(t *testing.T) {
	r := validRequest()
	r.Tools = []Tool{{Function: FunctionDef{Parameters: map[string]interface{}{"type": "object"}}}}
	assertValidationError(t, r, "tools")
}

func TestValidate_RejectsToolParametersMissingType(t *testing.T) {
	r := validRequest()
	r.Tools = []Tool{{Function: FunctionDef{Name: "get_weather", Parameters: map[string]interface{}{}}}}
	assertValidationError(t, r, "tools")
}

func TestValidate_RejectsToolParametersNotAnObject(t *testing.T) {
	r := validRequest()
	r.Tools = []Tool{{Function: FunctionDef{Name: "get_weather", Parameters: "not-a-schema"}}}
	assertValidationError(t, r, "tools")
}

func assertValidationError(t *testing.T, r Request, wantField string) {
	t.Helper()
	err := r.Validate()
	if err == nil {
		t.Fatalf("expected a validation error for field %q, got nil", wantField)
	}
	ve, ok := err.(*proxyerrors.ValidationError)
	if !ok {
		t.Fatalf("expected *proxyerrors.ValidationError, got %T", err)
	}
	if ve.Field != wantField {
		t.Errorf("expected error on field %q, got %q (%v)", wantField, ve.Field, err)
	}
}
