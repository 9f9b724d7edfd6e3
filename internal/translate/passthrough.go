package translate

import "encoding/json"

// PassthroughTee best-effort parses an Anthropic-wire SSE frame for
// middleware observation; the frame's event name and data are forwarded
// to the client unchanged either way. Frames that don't parse as
// "event: name" + JSON data are still forwarded (SSE comment lines are
// not, since the reader drops them); they are simply not offered
// to on_stream_chunk hooks, favoring availability over completeness
// of middleware observation.
func PassthroughTee(eventName string, data []byte) (AnthropicEvent, bool) {
	if eventName == "" || len(data) == 0 {
		return AnthropicEvent{}, false
	}
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		return AnthropicEvent{}, false
	}
	return AnthropicEvent{Event: eventName, Data: data}, true
}
