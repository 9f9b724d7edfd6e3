package translate

// ConvertStopReason maps an OpenAI-wire finish_reason to Anthropic's
// stop_reason vocabulary. content_filter maps to stop_sequence: the
// upstream gave no signal of *which* sequence triggered it, and
// stop_sequence is the closest Anthropic reason that doesn't imply
// the model simply finished on its own.
func ConvertStopReason(reason string) string {
	switch reason {
	case "stop", "", "null":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// AnthropicToolIDToOpenAI and OpenAIToolIDToAnthropic convert between
// Anthropic's "toolu_" and OpenAI's
// "call_" tool-call id prefixes, matching spec.md's worked examples.
func AnthropicToolIDToOpenAI(id string) string {
	if len(id) >= 6 && id[:6] == "toolu_" {
		return "call_" + id[6:]
	}
	return id
}

func OpenAIToolIDToAnthropic(id string) string {
	if len(id) >= 5 && id[:5] == "call_" {
		return "toolu_" + id[5:]
	}
	return id
}
