package reqchain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/thoughtsig"
	"github.com/Davincible/claude-code-open/internal/translate"
)

func TestThoughtSignature_AppliesToGeminiOnly(t *testing.T) {
	ts := NewThoughtSignature(thoughtsig.New())
	assert.True(t, ts.AppliesTo(RequestCtx{Model: "gemini-2.5-pro"}))
	assert.False(t, ts.AppliesTo(RequestCtx{Model: "gpt-4o"}))
}

func TestThoughtSignature_ExtractAndInject(t *testing.T) {
	cache := thoughtsig.New()
	ts := NewThoughtSignature(cache)

	respBody := []byte(`{
		"id": "resp-1",
		"choices": [{"message": {"role": "assistant", "tool_calls": [
			{"id": "call_1", "function": {"name": "f", "arguments": "{}"},
			 "extra_content": {"google": {"thought_signature": "sig-xyz"}}}
		]}}]
	}`)
	_, err := ts.AfterResponse(context.Background(), RequestCtx{Model: "gemini-2.5-pro"}, respBody)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	// BeforeRequest runs on the still-Anthropic-shaped request: the
	// prior tool call is an assistant tool_use block, id in Anthropic's
	// "toolu_" space (translate.AnthropicToolIDToOpenAI maps it to the
	// "call_1" the cache is keyed under).
	reqBody := []byte(`{
		"messages": [
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_1", "name": "f", "input": {}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "42"}
			]}
		]
	}`)
	out, err := ts.BeforeRequest(context.Background(), RequestCtx{Model: "gemini-2.5-pro"}, reqBody)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	messages := decoded["messages"].([]any)
	assistant := messages[0].(map[string]any)
	blocks := assistant["content"].([]any)
	block := blocks[0].(map[string]any)
	extraBody := block["extra_body"].(map[string]any)
	google := extraBody["google"].(map[string]any)
	assert.Equal(t, "sig-xyz", google["thought_signature"])
}

func TestThoughtSignature_AfterResponseFallsBackToLegacyFunctionField(t *testing.T) {
	cache := thoughtsig.New()
	ts := NewThoughtSignature(cache)

	respBody := []byte(`{
		"id": "resp-2",
		"choices": [{"message": {"role": "assistant", "tool_calls": [
			{"id": "call_1", "function": {"name": "f", "arguments": "{}", "thought_signature": "legacy-sig"}}
		]}}]
	}`)
	_, err := ts.AfterResponse(context.Background(), RequestCtx{Model: "gemini-2.5-pro"}, respBody)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())
}

func TestChain_RunStreamCompleteFiresOnce(t *testing.T) {
	cache := thoughtsig.New()
	ts := NewThoughtSignature(cache)
	chain := New(nil, ts)

	state := translate.NewStreamState()
	state.MessageID = "m1"
	state.PendingThoughtSignatures = map[string]string{"call_1": "sig"}

	chain.RunStreamComplete(context.Background(), RequestCtx{Model: "gemini-2.5-pro"}, state, nil)
	assert.Equal(t, 1, cache.Len())
}
