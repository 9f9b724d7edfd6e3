package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// ProactiveRefreshWindow is how far ahead of a known expiry a
	// token is refreshed.
	ProactiveRefreshWindow = 5 * time.Minute
	// FallbackRefreshInterval bounds how long a token lacking an
	// expiry claim is trusted before being refreshed anyway.
	FallbackRefreshInterval = 50 * time.Minute
)

// Manager serves a valid access token for one provider, refreshing on
// demand and coalescing concurrent refresh attempts into one upstream
// call via singleflight.
type Manager struct {
	store      *FileStore
	httpClient *http.Client
	tokenURL   string
	clientID   string
	log        *slog.Logger

	// RaiseOnRefreshFailure selects hard-fail (return the error) vs
	// soft-fail (log and serve the stale access token) behavior when
	// a refresh attempt fails.
	RaiseOnRefreshFailure bool

	group singleflight.Group
}

func NewManager(store *FileStore, httpClient *http.Client, tokenURL, clientID string, log *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		httpClient: httpClient,
		tokenURL:   tokenURL,
		clientID:   clientID,
		log:        log,
	}
}

// AccessToken returns a valid access token and account id, refreshing
// first if the stored token is at or past its proactive refresh
// threshold.
func (m *Manager) AccessToken(ctx context.Context) (token, accountID string, err error) {
	rec, err := m.store.Load()
	if err != nil {
		return "", "", fmt.Errorf("load oauth credentials: %w", err)
	}

	if !m.shouldRefresh(rec) {
		return rec.AccessToken, rec.AccountID, nil
	}

	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx, rec)
	})
	if err != nil {
		if m.RaiseOnRefreshFailure {
			return "", "", err
		}
		if m.log != nil {
			m.log.Warn("oauth refresh failed, serving stale access token", "error", err)
		}
		return rec.AccessToken, rec.AccountID, nil
	}
	refreshed := v.(*CredentialRecord)
	return refreshed.AccessToken, refreshed.AccountID, nil
}

func (m *Manager) shouldRefresh(rec *CredentialRecord) bool {
	if rec.ExpiresAt != nil {
		return time.Now().After(rec.ExpiresAt.Add(-ProactiveRefreshWindow))
	}
	if rec.LastRefresh != nil {
		return time.Since(*rec.LastRefresh) > FallbackRefreshInterval
	}
	return true
}

func (m *Manager) refresh(ctx context.Context, rec *CredentialRecord) (*CredentialRecord, error) {
	fresh, err := RefreshToken(ctx, m.httpClient, m.tokenURL, m.clientID, rec.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh oauth token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = rec.RefreshToken
	}
	if err := m.store.Save(fresh); err != nil {
		return nil, fmt.Errorf("persist refreshed oauth token: %w", err)
	}
	return fresh, nil
}
