package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestToOpenAI_SystemFlattened(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"system": "You are a helpful assistant.",
		"max_tokens": 1024,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))

	messages := decoded["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "You are a helpful assistant.", first["content"])
}

func TestRequestToOpenAI_MaxTokensClamped(t *testing.T) {
	body := []byte(`{"model":"m","max_tokens":100000,"messages":[]}`)
	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, float64(8192), decoded["max_tokens"])
}

func TestRequestToOpenAI_ToolResultSplitIntoToolMessage(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_abc123", "content": "42"}
			]}
		]
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	messages := decoded["messages"].([]any)
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]any)
	assert.Equal(t, "tool", msg["role"])
	assert.Equal(t, "call_abc123", msg["tool_call_id"])
	assert.Equal(t, "42", msg["content"])
}

func TestRequestToOpenAI_AssistantToolUse(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"max_tokens": 100,
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_xyz", "name": "get_weather", "input": {"city": "SF"}}
			]}
		]
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	messages := decoded["messages"].([]any)
	msg := messages[0].(map[string]any)
	toolCalls := msg["tool_calls"].([]any)
	require.Len(t, toolCalls, 1)
	tc := toolCalls[0].(map[string]any)
	assert.Equal(t, "call_xyz", tc["id"])
	fn := tc["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
	assert.JSONEq(t, `{"city":"SF"}`, fn["arguments"].(string))
}

func TestRequestToOpenAI_ToolChoiceSpecificToolMappedToFunction(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"max_tokens": 100,
		"tools": [{"name": "add", "input_schema": {"type": "object"}}],
		"tool_choice": {"type": "tool", "name": "add"},
		"messages": []
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	choice := decoded["tool_choice"].(map[string]any)
	assert.Equal(t, "function", choice["type"])
	fn := choice["function"].(map[string]any)
	assert.Equal(t, "add", fn["name"])
}

func TestRequestToOpenAI_ToolChoiceAnyMappedToRequired(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"max_tokens": 100,
		"tools": [{"name": "add", "input_schema": {"type": "object"}}],
		"tool_choice": {"type": "any"},
		"messages": []
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "required", decoded["tool_choice"])
}

func TestRequestToOpenAI_ToolChoiceAutoPassesThrough(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"max_tokens": 100,
		"tools": [{"name": "add", "input_schema": {"type": "object"}}],
		"tool_choice": {"type": "auto"},
		"messages": []
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "auto", decoded["tool_choice"])
}

func TestRequestToOpenAI_ToolChoiceDroppedWithoutTools(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"max_tokens": 100,
		"tool_choice": {"type": "any"},
		"messages": []
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	_, present := decoded["tool_choice"]
	assert.False(t, present)
}

func TestRequestToOpenAI_ToolUseExtraBodyCarriedToToolCall(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"max_tokens": 100,
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_1", "name": "f", "input": {},
				 "extra_body": {"google": {"thought_signature": "sig-xyz"}}}
			]}
		]
	}`)

	out, err := RequestToOpenAI(body, 8192)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	messages := decoded["messages"].([]any)
	msg := messages[0].(map[string]any)
	toolCalls := msg["tool_calls"].([]any)
	require.Len(t, toolCalls, 1)
	tc := toolCalls[0].(map[string]any)
	extraBody := tc["extra_body"].(map[string]any)
	google := extraBody["google"].(map[string]any)
	assert.Equal(t, "sig-xyz", google["thought_signature"])
}

func TestTransformTools(t *testing.T) {
	tools := []any{
		map[string]any{
			"name":        "get_weather",
			"description": "gets weather",
			"input_schema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
			},
		},
	}
	out := TransformTools(tools)
	require.Len(t, out, 1)
	tool := out[0].(map[string]any)
	assert.Equal(t, "function", tool["type"])
	fn := tool["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
	assert.NotNil(t, fn["parameters"])
}
