package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCountHandler implements POST /v1/messages/count_tokens: a
// best-effort estimate using the same cl100k_base encoding the
// teacher's proxy used for its routing heuristics, run here over the
// full message text instead of just the routing decision.
type TokenCountHandler struct {
	logger *slog.Logger
}

func NewTokenCountHandler(logger *slog.Logger) *TokenCountHandler {
	return &TokenCountHandler{logger: logger}
}

type countTokensRequest struct {
	System   any `json:"system"`
	Messages []struct {
		Content any `json:"content"`
	} `json:"messages"`
}

func (h *TokenCountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var req countTokensRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	text := flattenToText(req.System)
	for _, m := range req.Messages {
		text += flattenToText(m.Content)
	}

	count, err := h.countTokens(text)
	if err != nil {
		h.logger.Warn("tiktoken encoding unavailable, falling back to character estimate", "error", err)
		count = len(text) / 4
	}

	resp, _ := json.Marshal(map[string]any{"input_tokens": count})
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

func (h *TokenCountHandler) countTokens(text string) (int, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// flattenToText reduces an Anthropic content field (a plain string, or
// an array of typed content blocks) to its text for token estimation.
func flattenToText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				out += text
			}
		}
		return out
	default:
		return ""
	}
}
