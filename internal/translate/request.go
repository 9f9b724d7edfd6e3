package translate

import (
	"encoding/json"
	"fmt"
)

// RequestToOpenAI converts a raw Anthropic Messages request body into
// an OpenAI-compatible Chat Completions request body, per spec.md
// §4.6.1: system prompt hoisted into a leading system message, tool
// definitions reshaped, tool_result blocks split into separate
// role=tool messages, max_tokens clamped to maxTokensCap.
func RequestToOpenAI(anthropicBody []byte, maxTokensCap int) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(anthropicBody, &req); err != nil {
		return nil, fmt.Errorf("decode anthropic request: %w", err)
	}

	out := map[string]any{}
	for k, v := range req {
		out[k] = v
	}

	delete(out, "cache_control")
	if store, _ := out["store"].(bool); !store {
		delete(out, "metadata")
	}

	var messages []any

	if system, ok := req["system"]; ok {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": flattenSystem(system),
		})
	}
	delete(out, "system")

	if rawMessages, ok := req["messages"].([]any); ok {
		converted, err := transformMessages(rawMessages)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted...)
	}
	out["messages"] = messages

	if maxTokens, ok := numberField(req, "max_tokens"); ok {
		if maxTokensCap > 0 && maxTokens > float64(maxTokensCap) {
			maxTokens = float64(maxTokensCap)
		}
		out["max_tokens"] = maxTokens
	}

	haveTools := false
	if rawTools, ok := req["tools"].([]any); ok {
		tools := TransformTools(rawTools)
		if len(tools) > 0 {
			out["tools"] = tools
			haveTools = true
		} else {
			delete(out, "tools")
		}
	}

	if haveTools {
		if choice, ok := req["tool_choice"]; ok {
			if converted, ok := TransformToolChoice(choice); ok {
				out["tool_choice"] = converted
			} else {
				delete(out, "tool_choice")
			}
		} else {
			delete(out, "tool_choice")
		}
	} else {
		delete(out, "tool_choice")
	}

	return json.Marshal(out)
}

// TransformToolChoice reshapes Anthropic's tool_choice
// ({type: auto|any|tool|none, name}) into OpenAI's shape: "auto" stays
// "auto", "any" becomes "required", {type: tool, name: X} becomes
// {type: function, function: {name: X}}, "none" becomes "none". The
// second return value is false when choice has no recognizable shape,
// telling the caller to drop the field rather than forward garbage.
func TransformToolChoice(choice any) (any, bool) {
	m, ok := choice.(map[string]any)
	if !ok {
		return nil, false
	}
	switch m["type"] {
	case "auto":
		return "auto", true
	case "any":
		return "required", true
	case "none":
		return "none", true
	case "tool":
		name, _ := m["name"].(string)
		if name == "" {
			return nil, false
		}
		return map[string]any{
			"type": "function",
			"function": map[string]any{
				"name": name,
			},
		}, true
	default:
		return nil, false
	}
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// flattenSystem accepts either a plain string or Anthropic's
// block-array system prompt shape and returns a single string, the
// shape OpenAI's system message expects.
func flattenSystem(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, block := range v {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				if out != "" {
					out += "\n"
				}
				out += text
			}
		}
		return out
	default:
		return ""
	}
}

// transformMessages walks the Anthropic message list, expanding
// tool_result content blocks into standalone role=tool messages
// inserted in the same positional slot as the original user message,
// and reshaping assistant tool_use blocks into OpenAI tool_calls.
func transformMessages(raw []any) ([]any, error) {
	var out []any
	for _, item := range raw {
		msg, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		role, _ := msg["role"].(string)
		content := msg["content"]

		blocks, isBlockArray := content.([]any)
		if !isBlockArray {
			out = append(out, msg)
			continue
		}

		switch role {
		case "user":
			expanded, err := expandUserBlocks(blocks)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
		case "assistant":
			transformed, err := transformAssistantMessage(msg, blocks)
			if err != nil {
				return nil, err
			}
			out = append(out, transformed)
		default:
			out = append(out, msg)
		}
	}
	return out, nil
}

// expandUserBlocks splits a user message's content blocks into a
// (possibly empty) plain user message plus one role=tool message per
// tool_result block, and converts image blocks to OpenAI's
// data-URI image_url shape.
func expandUserBlocks(blocks []any) ([]any, error) {
	var contentParts []any
	var toolMessages []any

	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "tool_result":
			toolCallID, _ := block["tool_use_id"].(string)
			toolMessages = append(toolMessages, map[string]any{
				"role":         "tool",
				"tool_call_id": AnthropicToolIDToOpenAI(toolCallID),
				"content":      toolResultText(block["content"]),
			})
		case "text":
			contentParts = append(contentParts, map[string]any{
				"type": "text",
				"text": block["text"],
			})
		case "image":
			if part := imageBlockToDataURI(block); part != nil {
				contentParts = append(contentParts, part)
			}
		default:
			contentParts = append(contentParts, block)
		}
	}

	var out []any
	if len(contentParts) > 0 {
		out = append(out, map[string]any{"role": "user", "content": contentParts})
	}
	out = append(out, toolMessages...)
	return out, nil
}

func imageBlockToDataURI(block map[string]any) map[string]any {
	source, ok := block["source"].(map[string]any)
	if !ok {
		return nil
	}
	if source["type"] != "base64" {
		return nil
	}
	mediaType, _ := source["media_type"].(string)
	data, _ := source["data"].(string)
	return map[string]any{
		"type": "image_url",
		"image_url": map[string]any{
			"url": fmt.Sprintf("data:%s;base64,%s", mediaType, data),
		},
	}
}

func toolResultText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, block := range v {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				out += text
			}
		}
		return out
	default:
		return ""
	}
}

// transformAssistantMessage converts Anthropic assistant tool_use
// blocks into OpenAI's tool_calls array, JSON-marshaling each block's
// "input" object into a string "arguments" field.
func transformAssistantMessage(msg map[string]any, blocks []any) (map[string]any, error) {
	var textParts string
	var toolCalls []any

	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text, ok := block["text"].(string); ok {
				textParts += text
			}
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			argsBytes, err := json.Marshal(block["input"])
			if err != nil {
				return nil, fmt.Errorf("marshal tool_use input: %w", err)
			}
			toolCall := map[string]any{
				"id":   AnthropicToolIDToOpenAI(id),
				"type": "function",
				"function": map[string]any{
					"name":      name,
					"arguments": string(argsBytes),
				},
			}
			// A thought signature attached to the source block by the
			// Thought-Signature middleware (§4.6.2) rides through
			// untouched onto the resulting tool_call.
			if extraBody, ok := block["extra_body"]; ok {
				toolCall["extra_body"] = extraBody
			}
			toolCalls = append(toolCalls, toolCall)
		}
	}

	out := map[string]any{"role": "assistant"}
	if textParts != "" {
		out["content"] = textParts
	} else {
		out["content"] = nil
	}
	if len(toolCalls) > 0 {
		out["tool_calls"] = toolCalls
	}
	return out, nil
}

// TransformTools reshapes Anthropic tool definitions
// ({name, description, input_schema}) into OpenAI's function-calling
// shape ({type: function, function: {name, description, parameters}}).
// Tools already in OpenAI shape (carry a "function" key) pass through
// unchanged, tolerating a caller that mixes both conventions.
func TransformTools(rawTools []any) []any {
	var out []any
	for _, t := range rawTools {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if _, alreadyOpenAI := tool["function"]; alreadyOpenAI {
			out = append(out, tool)
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			continue
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        name,
				"description": tool["description"],
				"parameters":  tool["input_schema"],
			},
		})
	}
	return out
}
