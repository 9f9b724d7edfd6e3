// Package orchestrator drives the single request-lifecycle state
// machine every proxied call goes through: parse, resolve provider,
// acquire credentials, run before_request middleware, dispatch
// upstream, deliver the response (unary or streamed) and finally
// record telemetry. Telemetry is recorded on every exit path once the
// request has been dispatched upstream, including client cancellation
// and upstream failure; a request rejected before dispatch (unreadable
// body, unknown provider, missing credentials, before_request or
// translation failure) gets its error response but no telemetry record.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Davincible/claude-code-open/internal/apierror"
	"github.com/Davincible/claude-code-open/internal/auth/keyrotator"
	"github.com/Davincible/claude-code-open/internal/auth/oauth"
	"github.com/Davincible/claude-code-open/internal/config"
	"github.com/Davincible/claude-code-open/internal/providers"
	"github.com/Davincible/claude-code-open/internal/reqchain"
	"github.com/Davincible/claude-code-open/internal/sse"
	"github.com/Davincible/claude-code-open/internal/telemetry"
	"github.com/Davincible/claude-code-open/internal/translate"
	"github.com/Davincible/claude-code-open/internal/upstream"
)

// OAuthManagerFactory builds the OAuth manager for a provider on
// first use. Provided as a func rather than constructed eagerly since
// it needs a per-provider FileStore rooted at the provider's
// configured storage path.
type OAuthManagerFactory func(d providers.Descriptor) (*oauth.Manager, error)

// Orchestrator wires the registry, credential sources, HTTP client
// factory, translation layer, and request-lifecycle middleware chain
// into the eight-step handling of one /v1/messages call.
type Orchestrator struct {
	registry  *providers.Registry
	clients   *upstream.Factory
	chain     *reqchain.Chain
	telemetry *telemetry.Recorder
	log       *slog.Logger

	oauthFactory OAuthManagerFactory

	mu       sync.Mutex
	rotators map[string]*keyrotator.Rotator
	managers map[string]*oauth.Manager
}

func New(
	registry *providers.Registry,
	clients *upstream.Factory,
	chain *reqchain.Chain,
	rec *telemetry.Recorder,
	oauthFactory OAuthManagerFactory,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry:     registry,
		clients:      clients,
		chain:        chain,
		telemetry:    rec,
		oauthFactory: oauthFactory,
		log:          log,
		rotators:     make(map[string]*keyrotator.Rotator),
		managers:     make(map[string]*oauth.Manager),
	}
}

type incomingRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ServeMessages implements POST /v1/messages.
func (o *Orchestrator) ServeMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	// 1. parse
	body, err := io.ReadAll(r.Body)
	if err != nil {
		o.fail(w, apierror.New(apierror.KindInvalidRequest, fmt.Sprintf("read request body: %v", err)))
		return
	}
	var in incomingRequest
	if err := json.Unmarshal(body, &in); err != nil {
		o.fail(w, apierror.New(apierror.KindInvalidRequest, fmt.Sprintf("invalid JSON body: %v", err)))
		return
	}
	if in.Model == "" {
		o.fail(w, apierror.New(apierror.KindInvalidRequest, "missing required field: model"))
		return
	}

	// 2. authenticate: proxy-key auth already ran in the transport
	// middleware chain (internal/middleware) before this handler was
	// reached.

	// 3. resolve provider
	descriptor, model, err := o.registry.Resolve(in.Model)
	if err != nil {
		o.fail(w, apierror.New(apierror.KindInvalidRequest, err.Error()))
		return
	}
	body, err = rewriteModel(body, model)
	if err != nil {
		o.fail(w, apierror.New(apierror.KindInvalidRequest, fmt.Sprintf("rewrite model field: %v", err)))
		return
	}

	// 4. acquire credentials
	credential, err := o.credentialFor(ctx, descriptor)
	if err != nil {
		o.fail(w, apierror.New(apierror.KindUnauthorized, err.Error()))
		return
	}

	rctx := reqchain.RequestCtx{Descriptor: descriptor, Model: model, Header: r.Header}

	// 5. before_request middleware
	body, err = o.chain.RunBeforeRequest(ctx, rctx, body)
	if err != nil {
		o.fail(w, apierror.New(apierror.KindInternal, fmt.Sprintf("before_request middleware: %v", err)))
		return
	}

	// 6. dispatch
	outboundBody := body
	if !descriptor.IsPassthrough() {
		outboundBody, err = translate.RequestToOpenAI(body, descriptor.MaxTokensCap)
		if err != nil {
			o.fail(w, apierror.New(apierror.KindInvalidRequest, fmt.Sprintf("translate request: %v", err)))
			return
		}
	}

	reqCtx, cancel := upstream.WithTimeout(ctx, descriptor)
	defer cancel()

	client := o.clients.For(descriptor)
	resp, err := o.dispatch(reqCtx, client, descriptor, outboundBody, credential, in.Stream)
	if err != nil {
		o.fail(w, upstreamErrorKind(err))
		o.telemetry.Record(telemetry.Completion{
			Provider:  descriptor.Name,
			Model:     model,
			Streamed:  in.Stream,
			Duration:  time.Since(start),
			Cancelled: errors.Is(ctx.Err(), context.Canceled),
			Err:       err,
		})
		return
	}
	defer resp.Body.Close()

	bodyReader, err := upstream.DecompressReader(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		o.fail(w, apierror.New(apierror.KindUpstreamError, fmt.Sprintf("decompress upstream response: %v", err)))
		o.telemetry.Record(telemetry.Completion{
			Provider: descriptor.Name,
			Model:    model,
			Status:   resp.StatusCode,
			Streamed: in.Stream,
			Duration: time.Since(start),
			Err:      err,
		})
		return
	}
	defer bodyReader.Close()

	// 7. deliver
	var (
		cancelled    bool
		inputTokens  int
		outputTokens int
		deliverErr   error
	)
	if in.Stream && resp.StatusCode == http.StatusOK {
		cancelled, inputTokens, outputTokens, deliverErr = o.deliverStream(ctx, w, bodyReader, descriptor, rctx, resp.StatusCode)
	} else {
		inputTokens, outputTokens, deliverErr = o.deliverUnary(ctx, w, bodyReader, descriptor, rctx, resp.StatusCode)
	}

	// 8. finalize -- always, regardless of outcome
	o.telemetry.Record(telemetry.Completion{
		Provider:     descriptor.Name,
		Model:        model,
		Status:       resp.StatusCode,
		Streamed:     in.Stream,
		Duration:     time.Since(start),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cancelled:    cancelled,
		Err:          deliverErr,
	})
}

// deliverUnary reads the full upstream response, runs after_response
// middleware on the upstream body, translates it if needed, and writes
// it to the client.
func (o *Orchestrator) deliverUnary(ctx context.Context, w http.ResponseWriter, body io.Reader, d providers.Descriptor, rctx reqchain.RequestCtx, status int) (inputTokens, outputTokens int, err error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		apierror.New(apierror.KindUpstreamError, fmt.Sprintf("read upstream response: %v", err)).WriteJSON(w)
		return 0, 0, err
	}

	raw, err = o.chain.RunAfterResponse(ctx, rctx, raw)
	if err != nil {
		apierror.New(apierror.KindInternal, fmt.Sprintf("after_response middleware: %v", err)).WriteJSON(w)
		return 0, 0, err
	}

	translated := raw
	if status == http.StatusOK && !d.IsPassthrough() {
		translated, err = translate.ResponseFromOpenAI(raw, o.log)
		if err != nil {
			apierror.New(apierror.KindUpstreamError, fmt.Sprintf("translate upstream response: %v", err)).WriteJSON(w)
			return 0, 0, err
		}
	}

	inputTokens, outputTokens = usageFromAnthropicBody(translated)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(translated)
	return inputTokens, outputTokens, nil
}

// deliverStream reads upstream SSE frames, translating each into
// Anthropic-side events (or forwarding as-is for a passthrough
// descriptor), running the stream-chunk middleware hook on each event
// and the stream-complete hook exactly once when the loop exits.
func (o *Orchestrator) deliverStream(ctx context.Context, w http.ResponseWriter, body io.Reader, d providers.Descriptor, rctx reqchain.RequestCtx, status int) (cancelled bool, inputTokens, outputTokens int, err error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(status)

	writer := sse.NewWriter(w)
	reader := sse.NewReader(body)

	translator := translate.NewStreamTranslator(o.log)
	defer func() {
		o.chain.RunStreamComplete(ctx, rctx, translator.State(), err)
		inputTokens = translator.State().InputTokens
		outputTokens = translator.State().OutputTokens
	}()

	for {
		if ctx.Err() != nil {
			translator.State().Cancelled = true
			cancelled, err = true, ctx.Err()
			return
		}

		frame, readErr := reader.Next(d.StreamIdle)
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			err = readErr
			if ctx.Err() != nil {
				translator.State().Cancelled = true
				cancelled, err = true, ctx.Err()
				return
			}
			apiErr := upstreamErrorKind(readErr)
			writer.WriteError(string(apiErr.Kind), apiErr.Message)
			if !d.IsPassthrough() {
				writer.WriteDone()
			}
			return
		}
		if frame.IsDone() {
			if !d.IsPassthrough() {
				writer.WriteDone()
			}
			return
		}

		if d.IsPassthrough() {
			event, ok := translate.PassthroughTee(frame.Event, []byte(frame.Data))
			if !ok {
				if frame.Event != "" || frame.Data != "" {
					raw := "data: " + strings.ReplaceAll(frame.Data, "\n", "\ndata: ") + "\n"
					if frame.Event != "" {
						raw = "event: " + frame.Event + "\n" + raw
					}
					writer.WriteRaw(raw)
				}
				continue
			}
			o.chain.RunStreamChunk(ctx, rctx, event)
			if writeErr := writer.WriteEvent(event.Event, event.Data); writeErr != nil {
				err = writeErr
				return
			}
			continue
		}

		events, feedErr := translator.Feed([]byte(frame.Data))
		if feedErr != nil {
			o.log.Warn("stream translation error, dropping frame", "error", feedErr)
			continue
		}
		for _, event := range events {
			o.chain.RunStreamChunk(ctx, rctx, event)
			if writeErr := writer.WriteEvent(event.Event, event.Data); writeErr != nil {
				err = writeErr
				return
			}
		}
	}
}

func (o *Orchestrator) credentialFor(ctx context.Context, d providers.Descriptor) (string, error) {
	switch d.Auth.Mode {
	case config.AuthStaticKeys:
		return o.rotatorFor(d).Next(), nil
	case config.AuthOAuth:
		manager, err := o.managerFor(d)
		if err != nil {
			return "", err
		}
		token, _, err := manager.AccessToken(ctx)
		return token, err
	default:
		return "", nil
	}
}

func (o *Orchestrator) rotatorFor(d providers.Descriptor) *keyrotator.Rotator {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.rotators[d.Name]; ok {
		return r
	}
	r := keyrotator.New(d.Auth.StaticKeys)
	o.rotators[d.Name] = r
	return r
}

func (o *Orchestrator) managerFor(d providers.Descriptor) (*oauth.Manager, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.managers[d.Name]; ok {
		return m, nil
	}
	if o.oauthFactory == nil {
		return nil, fmt.Errorf("oauth requested for provider %q but no oauth factory configured", d.Name)
	}
	m, err := o.oauthFactory(d)
	if err != nil {
		return nil, err
	}
	o.managers[d.Name] = m
	return m, nil
}

func (o *Orchestrator) fail(w http.ResponseWriter, apiErr *apierror.Error) {
	o.log.Error("request failed", "kind", apiErr.Kind, "message", apiErr.Message)
	apiErr.WriteJSON(w)
}

func rewriteModel(body []byte, model string) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	m["model"] = model
	return json.Marshal(m)
}

func upstreamURL(d providers.Descriptor) string {
	base := strings.TrimSuffix(d.APIBase, "/")
	if d.IsPassthrough() {
		return base + "/v1/messages"
	}
	return base + "/chat/completions"
}

// dispatch sends the translated request upstream, and for static-key
// providers retries against a different key -- excluding every key
// already tried this request, via keyrotator.Rotator.Exclude -- when
// the upstream rejects the key with 401, 403, or 429. Once a response
// comes back with a status that isn't a key-rejection, or the rotator
// runs out of untried keys, that response is returned as-is.
func (o *Orchestrator) dispatch(ctx context.Context, client *upstream.Client, d providers.Descriptor, body []byte, credential string, stream bool) (*http.Response, error) {
	var tried []string
	if d.Auth.Mode == config.AuthStaticKeys {
		tried = append(tried, credential)
	}

	for {
		upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL(d), strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("build upstream request: %w", err)
		}
		applyHeaders(upReq, d, credential, stream)

		resp, err := client.Do(upReq)
		if err != nil {
			return nil, err
		}

		if d.Auth.Mode != config.AuthStaticKeys || !isKeyRejectedStatus(resp.StatusCode) {
			return resp, nil
		}
		next, exErr := o.rotatorFor(d).Exclude(tried...)
		if exErr != nil {
			return resp, nil
		}
		resp.Body.Close()
		credential = next
		tried = append(tried, next)
	}
}

func isKeyRejectedStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// applyHeaders sets d.ExtraHeaders first, then the resolved credential
// header last, so a static extra_headers entry can never shadow the
// credential the Client Factory just obtained.
func applyHeaders(req *http.Request, d providers.Descriptor, credential string, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range d.ExtraHeaders {
		req.Header.Set(k, v)
	}
	if credential != "" {
		switch {
		case d.Auth.Mode == config.AuthOAuth:
			req.Header.Set("Authorization", "Bearer "+credential)
		case d.IsPassthrough():
			req.Header.Set("x-api-key", credential)
			req.Header.Set("anthropic-version", "2023-06-01")
		default:
			req.Header.Set("Authorization", "Bearer "+credential)
		}
	}
}

func upstreamErrorKind(err error) *apierror.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierror.New(apierror.KindUpstreamTimeout, err.Error())
	}
	return apierror.New(apierror.KindUpstreamError, err.Error())
}

// usageFromAnthropicBody best-effort extracts token counts from a
// translated Anthropic-shaped response body, for telemetry only.
func usageFromAnthropicBody(body []byte) (inputTokens, outputTokens int) {
	var resp struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0
	}
	return resp.Usage.InputTokens, resp.Usage.OutputTokens
}
