package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-code-open/internal/config"
	"github.com/Davincible/claude-code-open/internal/providers"
)

func testRegistry(t *testing.T) *providers.Registry {
	t.Helper()
	cfg := &config.Config{
		Providers: []config.Provider{{
			Name:    "openrouter",
			APIBase: "https://openrouter.ai/api/v1",
			Auth:    config.Auth{Mode: config.AuthStaticKeys, StaticKeys: []string{"k"}},
			Models:  []string{"gpt-4o", "gpt-4o-mini"},
		}},
		Router: config.RouterConfig{Default: "openrouter:gpt-4o"},
	}
	r, err := providers.NewRegistryFromConfig(cfg)
	require.NoError(t, err)
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(testRegistry(t), discardLogger())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openrouter")
}

func TestModelsHandler_ListsAndFilters(t *testing.T) {
	h := NewModelsHandler(testRegistry(t), nil, discardLogger())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Contains(t, w.Body.String(), "openrouter:gpt-4o")

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/v1/models?provider=nope", nil))
	assert.NotContains(t, w2.Body.String(), "gpt-4o")
}

func TestTokenCountHandler(t *testing.T) {
	h := NewTokenCountHandler(discardLogger())
	body := `{"messages":[{"role":"user","content":"hello world"}]}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "input_tokens")
}

func TestTestConnectionHandler(t *testing.T) {
	h := NewTestConnectionHandler(discardLogger())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test-connection", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
