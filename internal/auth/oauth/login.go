package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	ErrStateMismatch = errors.New("oauth: callback state did not match")
	ErrLoginTimeout  = errors.New("oauth: login flow timed out waiting for callback")
)

// LoginResult is returned to the CLI once the loopback callback fires.
type LoginResult struct {
	Credentials *CredentialRecord
	AuthorizeURL string
}

// callbackResult is what the loopback handler hands back over a
// channel once it observes the redirect.
type callbackResult struct {
	code  string
	state string
	err   error
}

// RunPKCELogin starts a one-shot loopback HTTP server, prints/returns
// the browser-facing authorize URL, and blocks until the provider
// redirects back with an authorization code (or the timeout elapses).
// The server is always shut down before returning.
func RunPKCELogin(ctx context.Context, httpClient *http.Client, cfg LoginConfig) (*LoginResult, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind oauth callback listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{code: q.Get("code"), state: q.Get("state")}
		if errParam := q.Get("error"); errParam != "" {
			res.err = fmt.Errorf("oauth provider returned error: %s", errParam)
		}
		fmt.Fprint(w, "Login complete, you may close this tab.")
		resultCh <- res
	})

	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	authorizeURL := buildAuthorizeURL(cfg.AuthorizeURL, cfg.ClientID, redirectURI, state, pkce, cfg.Scopes)
	if cfg.OnAuthorizeURL != nil {
		cfg.OnAuthorizeURL(authorizeURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		if res.state != state {
			return nil, ErrStateMismatch
		}
		creds, err := ExchangeCode(ctx, httpClient, cfg.TokenURL, cfg.ClientID, res.code, pkce.CodeVerifier, redirectURI)
		if err != nil {
			return nil, err
		}
		return &LoginResult{Credentials: creds, AuthorizeURL: authorizeURL}, nil
	case <-timer.C:
		return nil, ErrLoginTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoginConfig bundles the per-provider OAuth endpoint configuration
// needed to drive the login flow.
type LoginConfig struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration

	// OnAuthorizeURL, if set, is called with the browser-facing
	// authorize URL as soon as it is built, before RunPKCELogin blocks
	// waiting for the callback -- the CLI uses this to print the link
	// the user needs to open.
	OnAuthorizeURL func(url string)
}
