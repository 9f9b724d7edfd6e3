// Package upstream builds and caches the HTTP clients used to talk to
// provider APIs, applying per-descriptor timeouts, connection pooling,
// and pre-first-byte retries.
package upstream

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/Davincible/claude-code-open/internal/providers"
)

// Factory caches one pooled *http.Client per descriptor name.
type Factory struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewFactory() *Factory {
	return &Factory{clients: make(map[string]*http.Client)}
}

func (f *Factory) clientFor(d providers.Descriptor) *http.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[d.Name]; ok {
		return c
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: d.ConnectTimeout,
		}).DialContext,
	}
	client := &http.Client{Transport: transport}
	f.clients[d.Name] = client
	return client
}

// Client wraps a descriptor's pooled *http.Client with retry policy.
type Client struct {
	descriptor providers.Descriptor
	http       *http.Client
}

func (f *Factory) For(d providers.Descriptor) *Client {
	return &Client{descriptor: d, http: f.clientFor(d)}
}

// Do performs a single request-response call, retrying up to
// descriptor.Retries times on connection-level failures that occur
// before any response is received. Once resp is non-nil, no retry is
// attempted regardless of status code -- a response body may already
// be partially streamed to the client.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	attempts := c.descriptor.Retries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				lastErr = err
				break
			}
			req.Body = body
		}
		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || i == attempts-1 {
			break
		}
	}
	return nil, fmt.Errorf("upstream request failed after retries: %w", lastErr)
}

func isRetryable(err error) bool {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return netErr.Timeout() || isConnRefused(err)
	}
	return isConnRefused(err)
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if !ok {
		return false
	}
	*target = ne
	return true
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	for e := err; e != nil; e = unwrap(e) {
		if o, ok := e.(*net.OpError); ok {
			opErr = o
			break
		}
	}
	return opErr != nil
}

func unwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

// DecompressReader wraps body according to the response's
// Content-Encoding header (gzip or brotli), or returns it unchanged.
func DecompressReader(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch contentEncoding {
	case "gzip":
		gr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		return struct {
			io.Reader
			io.Closer
		}{gr, body}, nil
	case "br":
		br := brotli.NewReader(body)
		return struct {
			io.Reader
			io.Closer
		}{br, body}, nil
	default:
		return body, nil
	}
}

// WithTimeout returns a context bounded by the descriptor's request
// timeout, for callers building the outbound request.
func WithTimeout(ctx context.Context, d providers.Descriptor) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.RequestTimeout)
}
