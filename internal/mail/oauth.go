package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mailpool/mailpool/internal/cache"
)

// Microsoft consumer-tenant token endpoint and the Graph read scope the
// gateway cares about.
const (
	tokenEndpoint  = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"
	mailReadScope  = "https://graph.microsoft.com/Mail.Read"
	cacheTTLSlack  = 60 * time.Second
	minCacheExpiry = 5 * time.Minute
)

// TokenBroker exchanges refresh tokens for access tokens and caches them
// in the shared store. Two cache families exist per address:
//
//	graph_token:{address} - only when the returned scope grants Mail.Read
//	imap_token:{address}  - from the scopeless exchange used for XOAUTH2
//
// Concurrent cache misses may trigger duplicate exchanges; that is
// accepted, the winner's token simply overwrites the loser's.
type TokenBroker struct {
	kv       cache.KV
	endpoint string
}

func NewTokenBroker(kv cache.KV) *TokenBroker {
	return &TokenBroker{kv: kv, endpoint: tokenEndpoint}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	ExpiresIn   int64  `json:"expires_in"`
}

// GraphToken returns an access token usable against Graph, plus whether
// the grant actually includes Mail.Read. An empty token means the
// exchange failed and the caller should degrade to IMAP.
func (b *TokenBroker) GraphToken(ctx context.Context, account Account, proxyCfg ProxyConfig) (token string, hasMailRead bool, err error) {
	key := "graph_token:" + account.Address
	if cached, ok, cerr := b.kv.Get(ctx, key); cerr == nil && ok {
		// Entries under this key are only ever written for Mail.Read grants.
		return cached, true, nil
	}

	resp, err := b.exchange(ctx, account, "", proxyCfg)
	if err != nil {
		slog.Warn("oauth_exchange_failed", "address", account.Address, "error", err)
		return "", false, nil
	}
	if resp.AccessToken == "" {
		return "", false, nil
	}

	hasMailRead = strings.Contains(resp.Scope, mailReadScope)
	if hasMailRead {
		if err := b.kv.Set(ctx, key, resp.AccessToken, cacheTTL(resp.ExpiresIn)); err != nil {
			slog.Warn("token_cache_write_failed", "key", key, "error", err)
		}
	}
	return resp.AccessToken, hasMailRead, nil
}

// IMAPToken returns an access token from the scopeless exchange, as
// required for XOAUTH2. Empty means the exchange failed.
func (b *TokenBroker) IMAPToken(ctx context.Context, account Account, proxyCfg ProxyConfig) (string, error) {
	key := "imap_token:" + account.Address
	if cached, ok, cerr := b.kv.Get(ctx, key); cerr == nil && ok {
		return cached, nil
	}

	resp, err := b.exchange(ctx, account, "", proxyCfg)
	if err != nil {
		slog.Warn("oauth_exchange_failed", "address", account.Address, "error", err)
		return "", nil
	}
	if resp.AccessToken == "" {
		return "", nil
	}

	if err := b.kv.Set(ctx, key, resp.AccessToken, cacheTTL(resp.ExpiresIn)); err != nil {
		slog.Warn("token_cache_write_failed", "key", key, "error", err)
	}
	return resp.AccessToken, nil
}

// exchange performs the refresh-token grant. scope may be empty; Microsoft
// then re-issues the originally consented scopes.
func (b *TokenBroker) exchange(ctx context.Context, account Account, scope string, proxyCfg ProxyConfig) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", account.ClientID)
	form.Set("refresh_token", account.RefreshToken)
	form.Set("grant_type", "refresh_token")
	if scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client, err := proxyCfg.HTTPClient()
	if err != nil {
		return nil, err
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("token endpoint returned %d: %s", httpResp.StatusCode, truncate(string(body), 300))
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &resp, nil
}

// cacheTTL leaves slack before the real expiry so cached tokens never die
// mid-request.
func cacheTTL(expiresIn int64) time.Duration {
	ttl := time.Duration(expiresIn)*time.Second - cacheTTLSlack
	if ttl < 0 {
		ttl = minCacheExpiry
	}
	return ttl
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
