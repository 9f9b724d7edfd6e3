package translate

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// openAIStreamChunk is the subset of an OpenAI-wire SSE data frame
// this package reads.
type openAIStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name             string `json:"name"`
					Arguments        string `json:"arguments"`
					ThoughtSignature string `json:"thought_signature"`
				} `json:"function"`
				ExtraContent struct {
					Google struct {
						ThoughtSignature string `json:"thought_signature"`
					} `json:"google"`
				} `json:"extra_content"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// StreamTranslator advances one OpenAI-wire SSE stream into a
// sequence of Anthropic Messages events. Not safe for concurrent use;
// one instance is created per in-flight request.
type StreamTranslator struct {
	state *StreamState
	log   *slog.Logger
}

func NewStreamTranslator(log *slog.Logger) *StreamTranslator {
	return &StreamTranslator{state: NewStreamState(), log: log}
}

func (t *StreamTranslator) State() *StreamState { return t.state }

// Feed advances the state machine by one raw OpenAI-wire SSE data
// frame (the bytes after "data: ", excluding "[DONE]"), returning
// zero or more Anthropic events to forward to the client.
func (t *StreamTranslator) Feed(frame []byte) ([]AnthropicEvent, error) {
	var chunk openAIStreamChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return nil, err
	}

	var events []AnthropicEvent
	st := t.state

	if chunk.ID != "" {
		st.MessageID = chunk.ID
	}
	if chunk.Model != "" {
		st.Model = chunk.Model
	}
	if chunk.Usage != nil {
		st.InputTokens = chunk.Usage.PromptTokens
		if chunk.Usage.PromptTokensDetails != nil {
			st.CacheReadTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
	}

	if !st.MessageStartSent {
		st.MessageStartSent = true
		if st.MessageID == "" {
			st.MessageID = "msg_" + uuid.NewString()
		}
		events = append(events, messageStartEvent(st))
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]

	if len(choice.Delta.ToolCalls) > 0 {
		for _, tc := range choice.Delta.ToolCalls {
			// extra_content.google.thought_signature is the
			// OpenAI-compatibility location Gemini-compatible upstreams
			// use; function.thought_signature is a legacy fallback some
			// upstreams still emit instead.
			sig := tc.ExtraContent.Google.ThoughtSignature
			if sig == "" {
				sig = tc.Function.ThoughtSignature
			}
			events = append(events, t.handleToolCallDelta(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments, sig)...)
		}
	} else if choice.Delta.Content != "" {
		events = append(events, t.handleTextDelta(choice.Delta.Content)...)
	}

	if choice.FinishReason != "" {
		events = append(events, t.handleFinish(choice.FinishReason, chunk.Usage)...)
	}

	return events, nil
}

func messageStartEvent(st *StreamState) AnthropicEvent {
	data, _ := json.Marshal(map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            st.MessageID,
			"type":          "message",
			"role":          "assistant",
			"model":         st.Model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":            st.InputTokens,
				"output_tokens":           0,
				"cache_read_input_tokens": st.CacheReadTokens,
			},
		},
	})
	return AnthropicEvent{Event: "message_start", Data: data}
}

// closeOpenBlock emits content_block_stop for the currently open block,
// if any, before the state machine switches to a block of a different
// kind or the stream finishes.
func (t *StreamTranslator) closeOpenBlock() []AnthropicEvent {
	st := t.state
	if !st.hasOpenBlock {
		return nil
	}
	idx := st.openIndex
	st.hasOpenBlock = false
	block := st.ContentBlocks[idx]
	if block == nil || block.StopSent {
		return nil
	}
	block.StopSent = true
	data, _ := json.Marshal(map[string]any{"type": "content_block_stop", "index": idx})
	return []AnthropicEvent{{Event: "content_block_stop", Data: data}}
}

func (t *StreamTranslator) handleTextDelta(text string) []AnthropicEvent {
	st := t.state
	var events []AnthropicEvent

	if st.hasOpenBlock && st.ContentBlocks[st.openIndex].Type != "text" {
		events = append(events, t.closeOpenBlock()...)
	}

	var idx int
	var block *ContentBlockState
	created := false
	if st.hasOpenBlock {
		idx = st.openIndex
		block = st.ContentBlocks[idx]
	} else {
		idx = st.CurrentIndex
		st.CurrentIndex++
		block = &ContentBlockState{Type: "text"}
		st.ContentBlocks[idx] = block
		st.openIndex = idx
		st.hasOpenBlock = true
		created = true
	}

	if created {
		block.StartSent = true
		data, _ := json.Marshal(map[string]any{
			"type":  "content_block_start",
			"index": idx,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		})
		events = append(events, AnthropicEvent{Event: "content_block_start", Data: data})
	}
	data, _ := json.Marshal(map[string]any{
		"type":  "content_block_delta",
		"index": idx,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
	events = append(events, AnthropicEvent{Event: "content_block_delta", Data: data})
	return events
}

// handleToolCallDelta tracks a tool_calls[] delta fragment by its
// stream index first, falling back to matching by tool-call id. A
// fragment for a new call opens a new content block at once, but its
// content_block_start is emitted only once both id and name have
// arrived (OpenRouter and some OpenAI-compatible upstreams split
// these across separate fragments).
func (t *StreamTranslator) handleToolCallDelta(index int, id, name, argsFragment, thoughtSig string) []AnthropicEvent {
	st := t.state
	var events []AnthropicEvent

	block, idx, isOpen := t.matchOpenToolBlock(index, id)
	if !isOpen {
		events = append(events, t.closeOpenBlock()...)
		idx = st.CurrentIndex
		st.CurrentIndex++
		block = &ContentBlockState{Type: "tool_use", ToolCallIndex: index}
		st.ContentBlocks[idx] = block
		st.openIndex = idx
		st.hasOpenBlock = true
	}
	if id != "" {
		block.ToolCallID = id
	}
	if name != "" {
		block.ToolName = name
	}

	if !block.StartSent && block.ToolCallID != "" && block.ToolName != "" {
		block.StartSent = true
		data, _ := json.Marshal(map[string]any{
			"type":  "content_block_start",
			"index": idx,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    OpenAIToolIDToAnthropic(block.ToolCallID),
				"name":  block.ToolName,
				"input": map[string]any{},
			},
		})
		events = append(events, AnthropicEvent{Event: "content_block_start", Data: data})
	}

	if argsFragment != "" && block.StartSent {
		delta := argumentsDelta(block.Arguments, argsFragment)
		block.Arguments += delta
		if delta != "" {
			data, _ := json.Marshal(map[string]any{
				"type":  "content_block_delta",
				"index": idx,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": delta},
			})
			events = append(events, AnthropicEvent{Event: "content_block_delta", Data: data})
		}
	}

	if thoughtSig != "" {
		if st.PendingThoughtSignatures == nil {
			st.PendingThoughtSignatures = make(map[string]string)
		}
		if block.ToolCallID != "" {
			st.PendingThoughtSignatures[block.ToolCallID] = thoughtSig
		}
	}

	return events
}

// matchOpenToolBlock reports whether the currently open block is the
// tool_use block this delta fragment belongs to, matched by stream
// index first and falling back to tool-call id (OpenRouter and some
// OpenAI-compatible upstreams split id and name across fragments).
func (t *StreamTranslator) matchOpenToolBlock(index int, id string) (*ContentBlockState, int, bool) {
	st := t.state
	if !st.hasOpenBlock {
		return nil, 0, false
	}
	idx := st.openIndex
	block := st.ContentBlocks[idx]
	if block == nil || block.Type != "tool_use" {
		return nil, 0, false
	}
	if block.ToolCallIndex == index || (id != "" && block.ToolCallID == id) {
		return block, idx, true
	}
	return nil, 0, false
}

// argumentsDelta returns the whole fragment when it is a plain
// incremental piece (the common streaming case), or only the new
// suffix when newFragment repeats oldAccumulated as a prefix, which
// happens when the upstream resends the full argument string on every
// delta (observed from some OpenAI-compatible upstreams whose deltas
// are not truly incremental).
func argumentsDelta(oldAccumulated, newFragment string) string {
	if oldAccumulated == "" {
		return newFragment
	}
	if strings.HasPrefix(newFragment, oldAccumulated) {
		return newFragment[len(oldAccumulated):]
	}
	return newFragment
}

func (t *StreamTranslator) handleFinish(reason string, usage *struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}) []AnthropicEvent {
	st := t.state
	var events []AnthropicEvent

	events = append(events, t.closeOpenBlock()...)

	// Defensive: close any blocks the switch-on-kind handling above
	// left open (a malformed upstream that never redelivers a prior
	// index), in ascending order so indices stay monotonically
	// non-decreasing across the stops emitted here.
	if len(st.ContentBlocks) > 0 {
		indices := make([]int, 0, len(st.ContentBlocks))
		for idx := range st.ContentBlocks {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			b := st.ContentBlocks[idx]
			if b.StopSent {
				continue
			}
			b.StopSent = true
			data, _ := json.Marshal(map[string]any{"type": "content_block_stop", "index": idx})
			events = append(events, AnthropicEvent{Event: "content_block_stop", Data: data})
		}
	}

	outputTokens := 0
	if usage != nil {
		outputTokens = usage.CompletionTokens
	}
	st.OutputTokens = outputTokens
	deltaData, _ := json.Marshal(map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   ConvertStopReason(reason),
			"stop_sequence": nil,
		},
		"usage": map[string]any{"output_tokens": outputTokens},
	})
	events = append(events, AnthropicEvent{Event: "message_delta", Data: deltaData})

	stopData, _ := json.Marshal(map[string]any{"type": "message_stop"})
	events = append(events, AnthropicEvent{Event: "message_stop", Data: stopData})

	return events
}
