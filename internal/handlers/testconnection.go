package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// TestConnectionHandler implements GET /test-connection, a trivial
// reachability check clients can hit before attempting a real
// completion.
type TestConnectionHandler struct {
	logger *slog.Logger
}

func NewTestConnectionHandler(logger *slog.Logger) *TestConnectionHandler {
	return &TestConnectionHandler{logger: logger}
}

func (h *TestConnectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := json.Marshal(map[string]any{"status": "ok"})
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		h.logger.Error("failed to write test-connection response", "error", err)
	}
}
