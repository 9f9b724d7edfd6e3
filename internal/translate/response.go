package translate

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// openAIResponse is the subset of an OpenAI-wire chat completion this
// package needs to read.
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *openAIError `json:"error"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// AnthropicErrorType maps an OpenAI-wire error type/code to Anthropic's
// closed error-type vocabulary, grounded in spec.md §7.
func AnthropicErrorType(oaType string) string {
	switch oaType {
	case "invalid_request_error":
		return "invalid_request_error"
	case "authentication_error":
		return "authentication_error"
	case "permission_error":
		return "permission_error"
	case "not_found_error":
		return "not_found_error"
	case "rate_limit_error":
		return "rate_limit_error"
	case "insufficient_quota", "insufficient_quota_error":
		return "billing_error"
	case "overloaded_error":
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// ResponseFromOpenAI converts a full, non-streaming OpenAI-wire
// response body into an Anthropic Messages response body.
func ResponseFromOpenAI(body []byte, log *slog.Logger) ([]byte, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}

	if resp.Error != nil {
		return json.Marshal(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    AnthropicErrorType(resp.Error.Type),
				"message": resp.Error.Message,
			},
		})
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	choice := resp.Choices[0]
	var content []map[string]any

	if choice.Message.Content != "" {
		content = append(content, map[string]any{
			"type": "text",
			"text": choice.Message.Content,
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			if log != nil {
				log.Warn("tool call arguments not valid json, falling back to empty object",
					"tool_call_id", tc.ID, "error", err)
			}
			input = map[string]any{}
		}
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    OpenAIToolIDToAnthropic(tc.ID),
			"name":  tc.Function.Name,
			"input": input,
		})
	}
	if len(content) == 0 {
		content = append(content, map[string]any{"type": "text", "text": ""})
	}

	messageID := resp.ID
	if messageID == "" {
		messageID = "msg_" + uuid.NewString()
	}

	usage := map[string]any{}
	if resp.Usage != nil {
		usage["input_tokens"] = resp.Usage.PromptTokens
		usage["output_tokens"] = resp.Usage.CompletionTokens
		if resp.Usage.PromptTokensDetails != nil {
			usage["cache_read_input_tokens"] = resp.Usage.PromptTokensDetails.CachedTokens
		}
	}

	out := map[string]any{
		"id":            messageID,
		"type":          "message",
		"role":          "assistant",
		"model":         resp.Model,
		"content":       content,
		"stop_reason":   ConvertStopReason(choice.FinishReason),
		"stop_sequence": nil,
		"usage":         usage,
	}
	return json.Marshal(out)
}
