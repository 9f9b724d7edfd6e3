package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Davincible/claude-code-open/internal/providers"
)

// HealthHandler reports process liveness plus which provider requests
// route to by default, and whether that default came from explicit
// router config or was chosen as a fallback.
type HealthHandler struct {
	registry *providers.Registry
	logger   *slog.Logger
}

func NewHealthHandler(registry *providers.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{registry: registry, logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	descriptor, source := h.registry.Default()
	body, err := json.Marshal(map[string]any{
		"status":          "ok",
		"default_provider": descriptor.Name,
		"default_source":  source,
	})
	if err != nil {
		h.logger.Error("failed to marshal health response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("failed to write health check response", "error", err)
	}
}
