package anthropic

import "github.com/relaycore/lunaroute/pkg/normalize"

// finishReasonFromWire maps Anthropic's stop_reason to the normalized
// enum. Unknown values lossily collapse to stop, per the documented
// rationale: clients switching dialect behind the proxy must never see
// an enumerant their own dialect doesn't define.
func finishReasonFromWire(stopReason string) normalize.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence", "pause_turn", "refusal":
		return normalize.FinishReasonStop
	case "max_tokens":
		return normalize.FinishReasonLength
	case "tool_use":
		return normalize.FinishReasonToolCalls
	default:
		return normalize.FinishReasonStop
	}
}

// finishReasonToWire maps the normalized enum back to Anthropic's
// stop_reason vocabulary.
func finishReasonToWire(fr normalize.FinishReason) string {
	switch fr {
	case normalize.FinishReasonStop:
		return "end_turn"
	case normalize.FinishReasonLength:
		return "max_tokens"
	case normalize.FinishReasonToolCalls:
		return "tool_use"
	case normalize.FinishReasonContentFilter, normalize.FinishReasonError:
		return "end_turn"
	default:
		return "end_turn"
	}
}
