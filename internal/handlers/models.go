package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Davincible/claude-code-open/internal/providers"
)

// ModelInfo is one entry in the GET /v1/models listing.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Format   string `json:"api_format"`
}

// ModelLister is an external collaborator that can extend the static
// model list a Descriptor carries with a live catalogue fetched from
// the provider itself (e.g. an upstream /models endpoint). Discovering
// and caching that catalogue is out of scope here; ModelsHandler works
// with whatever it's given and falls back to registry.List() alone
// when lister is nil.
type ModelLister interface {
	ListModels(ctx context.Context, d providers.Descriptor) ([]string, error)
}

type ModelsHandler struct {
	registry *providers.Registry
	lister   ModelLister
	logger   *slog.Logger
}

func NewModelsHandler(registry *providers.Registry, lister ModelLister, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{registry: registry, lister: lister, logger: logger}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	providerFilter := r.URL.Query().Get("provider")
	formatFilter := r.URL.Query().Get("api_format")

	var out []ModelInfo
	for _, d := range h.registry.List() {
		if providerFilter != "" && d.Name != providerFilter {
			continue
		}
		if formatFilter != "" && string(d.APIFormat) != formatFilter {
			continue
		}

		models := d.Models
		if h.lister != nil {
			if fetched, err := h.lister.ListModels(r.Context(), d); err != nil {
				h.logger.Warn("model lister failed, falling back to static list", "provider", d.Name, "error", err)
			} else {
				models = mergeModelLists(models, fetched)
			}
		}

		for _, m := range models {
			out = append(out, ModelInfo{ID: d.Name + ":" + m, Provider: d.Name, Format: string(d.APIFormat)})
		}
	}

	body, err := json.Marshal(map[string]any{"data": out})
	if err != nil {
		h.logger.Error("failed to marshal models response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func mergeModelLists(static, fetched []string) []string {
	seen := make(map[string]bool, len(static))
	out := make([]string, 0, len(static)+len(fetched))
	for _, m := range static {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, m := range fetched {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
