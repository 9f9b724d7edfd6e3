package orchestrator

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
	"github.com/Davincible/claude-code-open/internal/reqchain"
	"github.com/Davincible/claude-code-open/internal/telemetry"
	"github.com/Davincible/claude-code-open/internal/upstream"
)

func testOrchestrator(t *testing.T, upstreamURL string) *Orchestrator {
	t.Helper()
	return testOrchestratorWithKeys(t, upstreamURL, []string{"key-a"})
}

func testOrchestratorWithKeys(t *testing.T, upstreamURL string, keys []string) *Orchestrator {
	t.Helper()
	cfg := &config.Config{
		Providers: []config.Provider{{
			Name:      "openrouter",
			APIBase:   upstreamURL,
			APIFormat: config.FormatOpenAIWire,
			Auth:      config.Auth{Mode: config.AuthStaticKeys, StaticKeys: keys},
			Models:    []string{"gpt-4o"},
		}},
		Router: config.RouterConfig{Default: "openrouter:gpt-4o"},
	}
	registry, err := providers.NewRegistryFromConfig(cfg)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := reqchain.New(log)
	rec := telemetry.New(log)
	return New(registry, upstream.NewFactory(), chain, rec, nil, log)
}

func TestOrchestrator_UnaryHappyPath(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"gpt-4o"`)
		assert.Equal(t, "Bearer key-a", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2}
		}`))
	}))
	defer upstreamSrv.Close()

	o := testOrchestrator(t, upstreamSrv.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"openrouter:gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	o.ServeMessages(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hi there")
	assert.Contains(t, w.Body.String(), `"input_tokens":5`)
}

func TestOrchestrator_RetriesWithNextKeyOn401(t *testing.T) {
	var seenKeys []string
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		seenKeys = append(seenKeys, key)
		if key == "key-a" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2}
		}`))
	}))
	defer upstreamSrv.Close()

	o := testOrchestratorWithKeys(t, upstreamSrv.URL, []string{"key-a", "key-b"})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"openrouter:gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	o.ServeMessages(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hi there")
	assert.Equal(t, []string{"key-a", "key-b"}, seenKeys)
}

func TestOrchestrator_UnknownProviderIsInvalidRequest(t *testing.T) {
	o := testOrchestrator(t, "http://unused.invalid")
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"nope:gpt-4o"}`))
	w := httptest.NewRecorder()
	o.ServeMessages(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrchestrator_MissingModelIsInvalidRequest(t *testing.T) {
	o := testOrchestrator(t, "http://unused.invalid")
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	o.ServeMessages(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
