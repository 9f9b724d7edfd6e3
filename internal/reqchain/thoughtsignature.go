package reqchain

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Davincible/claude-code-open/internal/thoughtsig"
	"github.com/Davincible/claude-code-open/internal/translate"
)

// ThoughtSignature attaches cached Gemini thought-signature artifacts
// to outbound requests and commits newly observed ones to the cache
// once a response completes. Active only for models whose name
// contains "gemini", per spec.md §4.7.
type ThoughtSignature struct {
	cache *thoughtsig.Cache
}

func NewThoughtSignature(cache *thoughtsig.Cache) *ThoughtSignature {
	return &ThoughtSignature{cache: cache}
}

func (t *ThoughtSignature) Name() string { return "thought-signature" }

func (t *ThoughtSignature) AppliesTo(rctx RequestCtx) bool {
	return strings.Contains(strings.ToLower(rctx.Model), "gemini")
}

// BeforeRequest runs before translation (the request body is still
// Anthropic-shaped, per orchestrator step ordering), so it collects
// tool_call ids from assistant messages' tool_use blocks -- the set
// spec.md §4.6.2 calls for -- rather than from OpenAI-shaped role=tool
// messages that don't exist yet. On a cache hit, the signature is
// attached directly to the matching tool_use block as
// extra_body.google.thought_signature; transformAssistantMessage
// carries that field through untouched onto the corresponding OpenAI
// tool_call once translation runs.
func (t *ThoughtSignature) BeforeRequest(ctx context.Context, rctx RequestCtx, body []byte) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return body, nil
	}

	messages, _ := req["messages"].([]any)
	toolUseBlocks := collectAssistantToolUseBlocks(messages)
	if len(toolUseBlocks) == 0 {
		return body, nil
	}

	toolCallIDs := make([]string, 0, len(toolUseBlocks))
	for _, block := range toolUseBlocks {
		if id, _ := block["id"].(string); id != "" {
			toolCallIDs = append(toolCallIDs, translate.AnthropicToolIDToOpenAI(id))
		}
	}
	if len(toolCallIDs) == 0 {
		return body, nil
	}

	conversationID, _ := req["conversation_id"].(string)
	if conversationID == "" {
		conversationID, _ = req["metadata"].(string)
	}
	entry := t.cache.Retrieve(conversationID, toolCallIDs)
	if entry == nil {
		return body, nil
	}

	changed := false
	for _, block := range toolUseBlocks {
		id, _ := block["id"].(string)
		sig, ok := entry.Artifacts[translate.AnthropicToolIDToOpenAI(id)]
		if !ok || sig == "" {
			continue
		}
		block["extra_body"] = map[string]any{
			"google": map[string]any{"thought_signature": sig},
		}
		changed = true
	}
	if !changed {
		return body, nil
	}

	return json.Marshal(req)
}

// OnStreamComplete commits any thought signatures accumulated during
// streaming to the cache, keyed by the message id the stream produced.
func (t *ThoughtSignature) OnStreamComplete(ctx context.Context, rctx RequestCtx, state *translate.StreamState, err error) {
	if state == nil || len(state.PendingThoughtSignatures) == 0 {
		return
	}
	t.cache.Put(&thoughtsig.Entry{
		MessageID:      state.MessageID,
		ConversationID: state.MessageID,
		Artifacts:      state.PendingThoughtSignatures,
	})
}

// AfterResponse extracts thought signatures from a unary
// (non-streaming) OpenAI-compatible response, checking the
// OpenAI-compatibility location first and falling back to the legacy
// reasoning_details shape some upstreams still emit.
func (t *ThoughtSignature) AfterResponse(ctx context.Context, rctx RequestCtx, body []byte) ([]byte, error) {
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return body, nil
	}
	choices, _ := resp["choices"].([]any)
	if len(choices) == 0 {
		return body, nil
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	if message == nil {
		return body, nil
	}

	artifacts := extractThoughtSignatures(message)
	if len(artifacts) > 0 {
		id, _ := resp["id"].(string)
		t.cache.Put(&thoughtsig.Entry{MessageID: id, ConversationID: id, Artifacts: artifacts})
	}
	return body, nil
}

func (t *ThoughtSignature) OptionalAfterResponse() {}

// collectAssistantToolUseBlocks returns every tool_use content block
// across all assistant messages, as the live maps embedded in the
// decoded request body so callers can mutate them in place.
func collectAssistantToolUseBlocks(messages []any) []map[string]any {
	var blocks []map[string]any
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok || msg["role"] != "assistant" {
			continue
		}
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, b := range content {
			block, ok := b.(map[string]any)
			if !ok || block["type"] != "tool_use" {
				continue
			}
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// extractThoughtSignatures reads
// tool_calls[i].extra_content.google.thought_signature, the
// OpenAI-compatibility location Gemini-compatible upstreams use,
// falling back first to the legacy tool_calls[].function.thought_signature
// shape and then to a reasoning_details array some upstreams emit.
func extractThoughtSignatures(message map[string]any) map[string]string {
	out := map[string]string{}
	toolCalls, _ := message["tool_calls"].([]any)
	for _, tc := range toolCalls {
		call, ok := tc.(map[string]any)
		if !ok {
			continue
		}
		id, _ := call["id"].(string)
		if id == "" {
			continue
		}
		if extraContent, ok := call["extra_content"].(map[string]any); ok {
			if google, ok := extraContent["google"].(map[string]any); ok {
				if sig, ok := google["thought_signature"].(string); ok && sig != "" {
					out[id] = sig
					continue
				}
			}
		}
		if fn, ok := call["function"].(map[string]any); ok {
			if sig, ok := fn["thought_signature"].(string); ok && sig != "" {
				out[id] = sig
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	details, _ := message["reasoning_details"].([]any)
	for i, d := range details {
		detail, ok := d.(map[string]any)
		if !ok {
			continue
		}
		if sig, ok := detail["signature"].(string); ok && sig != "" {
			out["reasoning_"+strconv.Itoa(i)] = sig
		}
	}
	return out
}
