// Package providers holds the data-driven provider registry: each
// upstream is described by a Descriptor rather than a bespoke Go type,
// since every provider this router talks to speaks one of exactly two
// wire formats (OpenAI-compatible chat completions, or Anthropic's own
// Messages format passed straight through).
package providers

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Davincible/claude-code-open/internal/config"
)

// Descriptor is the resolved, in-memory form of a config.Provider:
// defaults applied, timeouts parsed into time.Duration, ready to hand
// to the client factory and translator.
type Descriptor struct {
	Name      string
	APIBase   string
	APIFormat config.APIFormat
	Auth      config.Auth
	Models    []string
	Aliases   []string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	StreamIdle     time.Duration
	Retries        int
	MaxTokensCap   int
	ExtraHeaders   map[string]string
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 120 * time.Second
	defaultStreamIdle     = 60 * time.Second
	defaultMaxTokensCap   = 8192
)

// FromConfig resolves a config.Provider into a Descriptor, applying
// the timeout/cap defaults spec.md's data model calls for.
func FromConfig(p config.Provider) Descriptor {
	d := Descriptor{
		Name:         p.Name,
		APIBase:      p.APIBase,
		APIFormat:    p.APIFormat,
		Auth:         p.Auth,
		Models:       p.Models,
		Aliases:      p.Aliases,
		Retries:      p.Retries,
		MaxTokensCap: p.MaxTokensCap,
		ExtraHeaders: p.ExtraHeaders,
	}
	if d.APIFormat == "" {
		d.APIFormat = config.FormatOpenAIWire
	}
	if p.ConnectTimeoutMS > 0 {
		d.ConnectTimeout = time.Duration(p.ConnectTimeoutMS) * time.Millisecond
	} else {
		d.ConnectTimeout = defaultConnectTimeout
	}
	if p.RequestTimeoutMS > 0 {
		d.RequestTimeout = time.Duration(p.RequestTimeoutMS) * time.Millisecond
	} else {
		d.RequestTimeout = defaultRequestTimeout
	}
	if p.StreamIdleMS > 0 {
		d.StreamIdle = time.Duration(p.StreamIdleMS) * time.Millisecond
	} else {
		d.StreamIdle = defaultStreamIdle
	}
	if d.MaxTokensCap <= 0 {
		d.MaxTokensCap = defaultMaxTokensCap
	}
	return d
}

// IsPassthrough reports whether requests to this provider skip
// Anthropic<->OpenAI translation entirely.
func (d Descriptor) IsPassthrough() bool {
	return d.APIFormat == config.FormatAnthropicWire
}

// SplitModel parses the client-facing "<provider>:<model>" syntax of
// spec.md §4.1. A bare model name (no colon) returns an empty provider
// so the caller can fall back to the router's default provider.
func SplitModel(raw string) (provider, model string) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return "", raw
}

// DomainOf extracts the host from a provider's base URL.
func DomainOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return u.Hostname(), nil
}
