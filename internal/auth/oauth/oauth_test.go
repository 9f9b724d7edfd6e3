package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCE(t *testing.T) {
	codes, err := GeneratePKCE()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(codes.CodeVerifier), 43)
	assert.NotEmpty(t, codes.CodeChallenge)
	assert.NotEqual(t, codes.CodeVerifier, codes.CodeChallenge)
}

func TestFileStore_AtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	assert.False(t, store.Exists())

	rec := &CredentialRecord{AccessToken: "at", RefreshToken: "rt"}
	require.NoError(t, store.Save(rec))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "at", loaded.AccessToken)
	assert.Equal(t, "rt", loaded.RefreshToken)
}

func TestManager_RefreshesWhenExpired(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(&CredentialRecord{
		AccessToken:  "old",
		RefreshToken: "rt",
		ExpiresAt:    &past,
	}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new","refresh_token":"rt2","expires_in":3600}`))
	}))
	defer srv.Close()

	mgr := NewManager(store, srv.Client(), srv.URL, "client-id", nil)
	token, _, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)
}

func TestManager_NoRefreshWhenFresh(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.Save(&CredentialRecord{AccessToken: "still-good", ExpiresAt: &future}))

	mgr := NewManager(store, http.DefaultClient, "http://unused.invalid", "client-id", nil)
	token, _, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still-good", token)
}

func TestManager_SoftFailServesStaleToken(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(&CredentialRecord{AccessToken: "stale", RefreshToken: "rt", ExpiresAt: &past}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mgr := NewManager(store, srv.Client(), srv.URL, "client-id", nil)
	token, _, err := mgr.AccessToken(context.Background())
	require.NoError(t, err, "soft-fail mode must not surface the refresh error")
	assert.Equal(t, "stale", token)
}
