package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Host:   "127.0.0.1",
		Port:   8080,
		APIKey: "test-key",
		Providers: []Provider{
			{
				Name:      "openrouter",
				APIBase:   "https://openrouter.ai/api/v1/chat/completions",
				APIFormat: FormatOpenAIWire,
				Auth:      Auth{Mode: AuthStaticKeys, StaticKeys: []string{"test-provider-key"}},
				Models:    []string{"anthropic/claude-3.5-sonnet"},
			},
		},
		Router: RouterConfig{
			Default: "openrouter:anthropic/claude-3.5-sonnet",
		},
	}

	require.NoError(t, manager.Save(cfg))
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.Host, loaded.Host)
	assert.Equal(t, cfg.Port, loaded.Port)
	assert.Equal(t, cfg.APIKey, loaded.APIKey)
	require.Len(t, loaded.Providers, 1)
	assert.Equal(t, "openrouter", loaded.Providers[0].Name)
	assert.Equal(t, AuthStaticKeys, loaded.Providers[0].Auth.Mode)
	assert.Equal(t, "openrouter:anthropic/claude-3.5-sonnet", loaded.Router.Default)
}

func TestConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Providers: []Provider{
			{Name: "test", APIBase: "http://example.com", APIKey: "key", Models: []string{"model"}},
		},
		Router: RouterConfig{Default: "test:model"},
	}

	require.NoError(t, manager.Save(cfg))
	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, loaded.Port)
	assert.Equal(t, DefaultHost, loaded.Host)
	assert.Equal(t, AuthStaticKeys, loaded.Providers[0].Auth.Mode)
	assert.Equal(t, []string{"key"}, loaded.Providers[0].Auth.StaticKeys)
}

func TestConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	configPath := filepath.Join(tmpDir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

	_, err := manager.Load()
	assert.Error(t, err)
}

func TestConfig_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	_, err := manager.Load()
	assert.Error(t, err)
	assert.False(t, manager.Exists())
}

func TestConfig_GetWithoutLoad(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := manager.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestConfig_DuplicateProviderName(t *testing.T) {
	cfg := &Config{
		Providers: []Provider{
			{Name: "dup", Auth: Auth{Mode: AuthNone}},
			{Name: "dup", Auth: Auth{Mode: AuthNone}},
		},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "duplicate provider name")
}

func TestConfig_OAuthRequiresStoragePath(t *testing.T) {
	cfg := &Config{
		Providers: []Provider{
			{Name: "p", Auth: Auth{Mode: AuthOAuth}},
		},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "oauth_storage_path")
}
