package mail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpool/mailpool/internal/cache"
)

func testAccount() Account {
	return Account{
		ID:           1,
		Address:      "user@outlook.com",
		ClientID:     "client-123",
		RefreshToken: "0.refresh",
	}
}

func TestTokenBrokerGraphToken(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "client-123", r.FormValue("client_id"))
		assert.Empty(t, r.FormValue("scope"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","scope":"profile https://graph.microsoft.com/Mail.Read","expires_in":3600}`))
	}))
	defer srv.Close()

	broker := NewTokenBroker(cache.NewMemory())
	broker.endpoint = srv.URL

	token, hasMailRead, err := broker.GraphToken(context.Background(), testAccount(), ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.True(t, hasMailRead)

	// Second call is served from cache.
	token, hasMailRead, err = broker.GraphToken(context.Background(), testAccount(), ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.True(t, hasMailRead)
	assert.Equal(t, int64(1), calls.Load())
}

func TestTokenBrokerGraphTokenWithoutMailRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-2","scope":"openid profile","expires_in":3600}`))
	}))
	defer srv.Close()

	kv := cache.NewMemory()
	broker := NewTokenBroker(kv)
	broker.endpoint = srv.URL

	token, hasMailRead, err := broker.GraphToken(context.Background(), testAccount(), ProxyConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	assert.False(t, hasMailRead)

	// Tokens without the Graph scope never enter the graph cache.
	_, ok, err := kv.Get(context.Background(), "graph_token:user@outlook.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenBrokerDegradesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	broker := NewTokenBroker(cache.NewMemory())
	broker.endpoint = srv.URL

	token, hasMailRead, err := broker.GraphToken(context.Background(), testAccount(), ProxyConfig{})
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, hasMailRead)

	imapTok, err := broker.IMAPToken(context.Background(), testAccount(), ProxyConfig{})
	require.NoError(t, err)
	assert.Empty(t, imapTok)
}

func TestTokenBrokerIMAPTokenCaches(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"imap-tok","scope":"openid IMAP.AccessAsUser.All","expires_in":900}`))
	}))
	defer srv.Close()

	broker := NewTokenBroker(cache.NewMemory())
	broker.endpoint = srv.URL

	for i := 0; i < 2; i++ {
		tok, err := broker.IMAPToken(context.Background(), testAccount(), ProxyConfig{})
		require.NoError(t, err)
		assert.Equal(t, "imap-tok", tok)
	}
	assert.Equal(t, int64(1), calls.Load())
}
