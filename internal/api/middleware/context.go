package middleware

import (
	"context"
	"net/http"

	"github.com/mailpool/mailpool/internal/auth"
	"github.com/mailpool/mailpool/internal/storage"
)

type ctxKey int

const (
	apiKeyCtxKey ctxKey = iota
	adminCtxKey
)

// APIKeyFrom returns the credential attached by APIKeyAuth.
func APIKeyFrom(r *http.Request) *storage.APIKey {
	key, _ := r.Context().Value(apiKeyCtxKey).(*storage.APIKey)
	return key
}

func withAPIKey(ctx context.Context, key *storage.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey, key)
}

// AdminSession is what AdminAuth attaches to the request.
type AdminSession struct {
	AdminID  int64
	Username string
	Role     string
	Claims   *auth.Claims
}

// AdminFrom returns the admin session attached by AdminAuth.
func AdminFrom(r *http.Request) *AdminSession {
	session, _ := r.Context().Value(adminCtxKey).(*AdminSession)
	return session
}

func withAdmin(ctx context.Context, session *AdminSession) context.Context {
	return context.WithValue(ctx, adminCtxKey, session)
}
