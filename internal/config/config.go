// Package config loads and saves the router's on-disk configuration:
// the proxy key, the listen address, and the list of upstream provider
// descriptors (base URL, auth mode, timeouts, model aliases).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultHost           = "127.0.0.1"
)

// AuthMode selects how a provider's credentials are supplied.
type AuthMode string

const (
	AuthStaticKeys AuthMode = "static_keys"
	AuthOAuth      AuthMode = "oauth"
	AuthNone       AuthMode = "none"
)

// Auth is the tagged union of a provider's credential source.
type Auth struct {
	Mode AuthMode `json:"mode" yaml:"mode"`

	// StaticKeys holds one or more API keys rotated round-robin.
	StaticKeys []string `json:"static_keys,omitempty" yaml:"static_keys,omitempty"`

	// OAuthStoragePath is the directory holding this provider's
	// auth.json credential file, relative to the router's base dir.
	OAuthStoragePath string `json:"oauth_storage_path,omitempty" yaml:"oauth_storage_path,omitempty"`

	// OAuth client/endpoint configuration, used only when Mode is
	// AuthOAuth.
	ClientID     string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	AuthorizeURL string   `json:"authorize_url,omitempty" yaml:"authorize_url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

func (a Auth) Validate(providerName string) error {
	switch a.Mode {
	case AuthStaticKeys:
		if len(a.StaticKeys) == 0 {
			return fmt.Errorf("provider %q: auth mode static_keys requires at least one key", providerName)
		}
	case AuthOAuth:
		if a.OAuthStoragePath == "" {
			return fmt.Errorf("provider %q: auth mode oauth requires oauth_storage_path", providerName)
		}
	case AuthNone, "":
	default:
		return fmt.Errorf("provider %q: unknown auth mode %q", providerName, a.Mode)
	}
	return nil
}

// APIFormat is the wire format a provider's chat-completions endpoint
// speaks.
type APIFormat string

const (
	FormatOpenAIWire    APIFormat = "openai-wire"
	FormatAnthropicWire APIFormat = "anthropic-wire"
)

// Provider is a single upstream descriptor as persisted in config.json.
type Provider struct {
	Name      string    `json:"name" yaml:"name"`
	APIBase   string    `json:"api_base_url" yaml:"api_base_url"`
	APIFormat APIFormat `json:"api_format,omitempty" yaml:"api_format,omitempty"`
	Auth      Auth      `json:"auth" yaml:"auth"`
	Models    []string  `json:"models" yaml:"models"`
	Aliases   []string  `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	ConnectTimeoutMS int `json:"connect_timeout_ms,omitempty" yaml:"connect_timeout_ms,omitempty"`
	RequestTimeoutMS int `json:"request_timeout_ms,omitempty" yaml:"request_timeout_ms,omitempty"`
	StreamIdleMS     int `json:"stream_idle_timeout_ms,omitempty" yaml:"stream_idle_timeout_ms,omitempty"`

	Retries      int               `json:"retries,omitempty" yaml:"retries,omitempty"`
	MaxTokensCap int               `json:"max_tokens_cap,omitempty" yaml:"max_tokens_cap,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty" yaml:"extra_headers,omitempty"`

	// APIKey is retained for backward compatibility with the router's
	// original single-key config shape; Load promotes it into
	// Auth.StaticKeys when Auth is unset.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

type RouterConfig struct {
	Default     string `json:"default" yaml:"default"`
	Think       string `json:"think,omitempty" yaml:"think,omitempty"`
	Background  string `json:"background,omitempty" yaml:"background,omitempty"`
	LongContext string `json:"longContext,omitempty" yaml:"longContext,omitempty"`
	WebSearch   string `json:"webSearch,omitempty" yaml:"webSearch,omitempty"`
}

type Config struct {
	Host      string       `json:"HOST,omitempty" yaml:"host,omitempty"`
	Port      int          `json:"PORT,omitempty" yaml:"port,omitempty"`
	APIKey    string       `json:"APIKEY,omitempty" yaml:"api_key,omitempty"`
	Providers []Provider   `json:"Providers" yaml:"providers"`
	Router    RouterConfig `json:"Router" yaml:"router"`
}

// Validate checks the closed set of invariants the registry depends
// on: every provider auth mode is well-formed and provider names are
// unique. An invalid config is reported as ErrConfigInvalid by callers
// that also need a fallback default provider chosen.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider at index %d: missing name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Auth.Mode == "" {
			if p.APIKey != "" {
				p.Auth.Mode = AuthStaticKeys
				p.Auth.StaticKeys = []string{p.APIKey}
			} else {
				p.Auth.Mode = AuthNone
			}
		}
		if err := p.Auth.Validate(p.Name); err != nil {
			return err
		}
		if p.APIFormat == "" {
			c.Providers[i].APIFormat = FormatOpenAIWire
		}
	}
	return nil
}

type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if strings.HasSuffix(m.configPath, ".yaml") || strings.HasSuffix(m.configPath, ".yml") {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{
			Host: DefaultHost,
			Port: DefaultPort,
		}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
