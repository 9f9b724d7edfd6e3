package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventTypes(events []AnthropicEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Event
	}
	return out
}

func TestStreamTranslator_TextOnly(t *testing.T) {
	tr := NewStreamTranslator(nil)

	events, err := tr.Feed([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{"content":"Hel"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"message_start", "content_block_start", "content_block_delta"}, eventTypes(events))

	events, err = tr.Feed([]byte(`{"choices":[{"delta":{"content":"lo"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"content_block_delta"}, eventTypes(events))

	events, err = tr.Feed([]byte(`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"completion_tokens":2}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"content_block_stop", "message_delta", "message_stop"}, eventTypes(events))
}

func TestStreamTranslator_ToolCallIncrementalArgs(t *testing.T) {
	tr := NewStreamTranslator(nil)

	_, err := tr.Feed([]byte(`{"id":"c1","model":"m","choices":[{"delta":{"tool_calls":[
		{"index":0,"id":"call_abc","function":{"name":"get_weather","arguments":""}}
	]}}]}`))
	require.NoError(t, err)

	events, err := tr.Feed([]byte(`{"choices":[{"delta":{"tool_calls":[
		{"index":0,"function":{"arguments":"{\"city\""}}
	]}}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	var delta map[string]any
	require.NoError(t, json.Unmarshal(events[0].Data, &delta))
	d := delta["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", d["type"])
	assert.Equal(t, `{"city"`, d["partial_json"])

	// Non-incremental upstream resends the full string; only the new
	// suffix should be emitted.
	events, err = tr.Feed([]byte(`{"choices":[{"delta":{"tool_calls":[
		{"index":0,"function":{"arguments":"{\"city\":\"SF\"}"}}
	]}}]}`))
	require.NoError(t, err)
	d = mustDelta(t, events[0])
	assert.Equal(t, `:"SF"}`, d["partial_json"])
}

func mustDelta(t *testing.T, e AnthropicEvent) map[string]any {
	t.Helper()
	var evt map[string]any
	require.NoError(t, json.Unmarshal(e.Data, &evt))
	return evt["delta"].(map[string]any)
}

func TestStreamTranslator_TextThenToolCallClosesPriorBlock(t *testing.T) {
	tr := NewStreamTranslator(nil)

	events, err := tr.Feed([]byte(`{"id":"c1","model":"m","choices":[{"delta":{"content":"Let me check."}}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"message_start", "content_block_start", "content_block_delta"}, eventTypes(events))
	firstStart := mustEvent(t, events[1])
	assert.Equal(t, float64(0), firstStart["index"])

	// Model switches to a tool call: the open text block (index 0) must
	// be closed before the tool_use block (index 1) opens.
	events, err = tr.Feed([]byte(`{"choices":[{"delta":{"tool_calls":[
		{"index":0,"id":"call_1","function":{"name":"add","arguments":"{}"}}
	]}}]}`))
	require.NoError(t, err)
	require.Equal(t, []string{"content_block_stop", "content_block_start", "content_block_delta"}, eventTypes(events))

	stop := mustEvent(t, events[0])
	assert.Equal(t, float64(0), stop["index"])
	toolStart := mustEvent(t, events[1])
	assert.Equal(t, float64(1), toolStart["index"])

	events, err = tr.Feed([]byte(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"completion_tokens":3}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"content_block_stop", "message_delta", "message_stop"}, eventTypes(events))
	finalStop := mustEvent(t, events[0])
	assert.Equal(t, float64(1), finalStop["index"])
}

func mustEvent(t *testing.T, e AnthropicEvent) map[string]any {
	t.Helper()
	var evt map[string]any
	require.NoError(t, json.Unmarshal(e.Data, &evt))
	return evt
}

func TestStreamTranslator_ThoughtSignatureAccumulated(t *testing.T) {
	tr := NewStreamTranslator(nil)
	_, err := tr.Feed([]byte(`{"id":"c1","model":"gemini-2.5-pro","choices":[{"delta":{"tool_calls":[
		{"index":0,"id":"call_1","function":{"name":"f","arguments":"{}","thought_signature":"sig123"}}
	]}}]}`))
	require.NoError(t, err)

	assert.Equal(t, "sig123", tr.State().PendingThoughtSignatures["call_1"])
}

func TestStreamTranslator_ThoughtSignatureFromExtraContentPreferredOverLegacy(t *testing.T) {
	tr := NewStreamTranslator(nil)
	_, err := tr.Feed([]byte(`{"id":"c1","model":"gemini-2.5-pro","choices":[{"delta":{"tool_calls":[
		{"index":0,"id":"call_1","function":{"name":"f","arguments":"{}","thought_signature":"legacy"},
		 "extra_content":{"google":{"thought_signature":"sig-real"}}}
	]}}]}`))
	require.NoError(t, err)

	assert.Equal(t, "sig-real", tr.State().PendingThoughtSignatures["call_1"])
}
