// Package reqchain implements the pluggable request-lifecycle
// middleware chain: before a request is dispatched upstream (on the
// Anthropic-shaped body), when a unary upstream response arrives
// (before it is translated), on each translated streamed chunk, and
// exactly once when a delivered stream ends -- including on client
// cancellation.
package reqchain

import (
	"context"
	"log/slog"

	"github.com/Davincible/claude-code-open/internal/providers"
	"github.com/Davincible/claude-code-open/internal/translate"
)

// RequestCtx carries the request-scoped information a middleware may
// need across its hooks.
type RequestCtx struct {
	Descriptor providers.Descriptor
	Model      string
	Header     map[string][]string
}

// Middleware is the base type every concrete middleware implements.
// Lifecycle participation is opt-in via the capability interfaces
// below, detected at registration time with a type assertion --
// mirroring the small single-method interfaces the rest of this
// codebase favors over one interface with optional fields.
type Middleware interface {
	Name() string
	AppliesTo(ctx RequestCtx) bool
}

// BeforeRequester may rewrite the outbound request body before it is
// sent upstream (e.g. injecting a cached thought signature).
type BeforeRequester interface {
	BeforeRequest(ctx context.Context, rctx RequestCtx, body []byte) ([]byte, error)
}

// AfterResponser observes (and may rewrite) a unary upstream response
// body before the orchestrator translates it to the Anthropic shape.
type AfterResponser interface {
	AfterResponse(ctx context.Context, rctx RequestCtx, body []byte) ([]byte, error)
}

// StreamChunker observes each translated Anthropic event as it is
// produced. Errors are logged and the chunk is still forwarded --
// mid-stream failures never abort delivery.
type StreamChunker interface {
	OnStreamChunk(ctx context.Context, rctx RequestCtx, event translate.AnthropicEvent) error
}

// StreamCompleter fires exactly once for each streamed request whose
// upstream answered 200 and whose stream was delivered, whether that
// stream finished normally, errored, or was cancelled. It does not fire
// for unary requests, nor for a streamed request that fails before
// delivery starts (dispatch error or non-200 upstream status).
type StreamCompleter interface {
	OnStreamComplete(ctx context.Context, rctx RequestCtx, state *translate.StreamState, err error)
}

// OptionalAfterResponse marks a middleware whose AfterResponse errors
// should be logged rather than treated as fatal to the request.
type OptionalAfterResponse interface {
	OptionalAfterResponse()
}

// Chain holds an ordered set of middlewares and runs each hook across
// every middleware that opts into it.
type Chain struct {
	middlewares []Middleware
	log         *slog.Logger
}

func New(log *slog.Logger, middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares, log: log}
}

func (c *Chain) active(rctx RequestCtx) []Middleware {
	var out []Middleware
	for _, m := range c.middlewares {
		if m.AppliesTo(rctx) {
			out = append(out, m)
		}
	}
	return out
}

// RunBeforeRequest runs every applicable BeforeRequester in
// registration order, threading the (possibly rewritten) body through
// each. A BeforeRequest error is always fatal to the request.
func (c *Chain) RunBeforeRequest(ctx context.Context, rctx RequestCtx, body []byte) ([]byte, error) {
	for _, m := range c.active(rctx) {
		bh, ok := m.(BeforeRequester)
		if !ok {
			continue
		}
		var err error
		body, err = bh.BeforeRequest(ctx, rctx, body)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// RunAfterResponse runs every applicable AfterResponser. A middleware
// that also implements OptionalAfterResponse has its errors logged
// instead of propagated.
func (c *Chain) RunAfterResponse(ctx context.Context, rctx RequestCtx, body []byte) ([]byte, error) {
	for _, m := range c.active(rctx) {
		ah, ok := m.(AfterResponser)
		if !ok {
			continue
		}
		out, err := ah.AfterResponse(ctx, rctx, body)
		if err != nil {
			if _, optional := m.(OptionalAfterResponse); optional {
				if c.log != nil {
					c.log.Warn("optional after_response middleware failed", "middleware", m.Name(), "error", err)
				}
				continue
			}
			return nil, err
		}
		body = out
	}
	return body, nil
}

// RunStreamChunk runs every applicable StreamChunker. Errors are
// logged, never propagated, per spec's mid-stream error policy.
func (c *Chain) RunStreamChunk(ctx context.Context, rctx RequestCtx, event translate.AnthropicEvent) {
	for _, m := range c.active(rctx) {
		sc, ok := m.(StreamChunker)
		if !ok {
			continue
		}
		if err := sc.OnStreamChunk(ctx, rctx, event); err != nil && c.log != nil {
			c.log.Warn("stream chunk middleware failed", "middleware", m.Name(), "error", err)
		}
	}
}

// RunStreamComplete fires every applicable StreamCompleter exactly
// once. Callers must guarantee this runs on every code path,
// including cancellation, via defer.
func (c *Chain) RunStreamComplete(ctx context.Context, rctx RequestCtx, state *translate.StreamState, streamErr error) {
	for _, m := range c.active(rctx) {
		if sc, ok := m.(StreamCompleter); ok {
			sc.OnStreamComplete(ctx, rctx, state, streamErr)
		}
	}
}
