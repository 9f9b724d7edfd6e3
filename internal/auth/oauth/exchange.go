package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrTokenExchangeFailed carries the upstream response for callers
// that want to render an actionable error without logging the full
// body by default.
type ErrTokenExchangeFailed struct {
	Status int
	Body   string
}

func (e *ErrTokenExchangeFailed) Error() string {
	return fmt.Sprintf("oauth token exchange failed: status=%d", e.Status)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExchangeCode trades an authorization code for a token set using the
// standard OAuth2 authorization_code grant with a PKCE code_verifier,
// form-encoded per RFC 6749 §4.1.3.
func ExchangeCode(ctx context.Context, httpClient *http.Client, tokenURL, clientID, code, verifier, redirectURI string) (*CredentialRecord, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {redirectURI},
	}
	return doTokenRequest(ctx, httpClient, tokenURL, form)
}

// RefreshToken trades a refresh_token for a new token set.
func RefreshToken(ctx context.Context, httpClient *http.Client, tokenURL, clientID, refreshToken string) (*CredentialRecord, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
	}
	return doTokenRequest(ctx, httpClient, tokenURL, form)
}

func doTokenRequest(ctx context.Context, httpClient *http.Client, tokenURL string, form url.Values) (*CredentialRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrTokenExchangeFailed{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("unmarshal token response: %w", err)
	}

	now := time.Now()
	rec := &CredentialRecord{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		LastRefresh:  &now,
	}
	if tr.ExpiresIn > 0 {
		expiry := now.Add(time.Duration(tr.ExpiresIn) * time.Second)
		rec.ExpiresAt = &expiry
	}
	if tr.IDToken != "" {
		rec.AccountID = extractAccountID(tr.IDToken)
		if rec.ExpiresAt == nil {
			rec.ExpiresAt = extractExpiry(tr.IDToken)
		}
	}
	return rec, nil
}

// buildAuthorizeURL constructs the browser-facing authorization URL
// for the PKCE flow.
func buildAuthorizeURL(authorizeURL, clientID, redirectURI, state string, pkce PKCECodes, scopes []string) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {"S256"},
	}
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	sep := "?"
	if strings.Contains(authorizeURL, "?") {
		sep = "&"
	}
	return authorizeURL + sep + q.Encode()
}

