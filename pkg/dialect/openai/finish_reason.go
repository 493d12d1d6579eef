package openai

import "github.com/relaycore/lunaroute/pkg/normalize"

// finishReasonFromWire maps OpenAI's finish_reason to the normalized enum.
func finishReasonFromWire(reason string) normalize.FinishReason {
	switch reason {
	case "stop":
		return normalize.FinishReasonStop
	case "length":
		return normalize.FinishReasonLength
	case "tool_calls", "function_call":
		return normalize.FinishReasonToolCalls
	case "content_filter":
		return normalize.FinishReasonContentFilter
	default:
		return normalize.FinishReasonStop
	}
}

// finishReasonToWire maps the normalized enum back to OpenAI's vocabulary.
func finishReasonToWire(fr normalize.FinishReason) string {
	switch fr {
	case normalize.FinishReasonStop:
		return "stop"
	case normalize.FinishReasonLength:
		return "length"
	case normalize.FinishReasonToolCalls:
		return "tool_calls"
	case normalize.FinishReasonContentFilter:
		return "content_filter"
	case normalize.FinishReasonError:
		return "stop"
	default:
		return "stop"
	}
}
