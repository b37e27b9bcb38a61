package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/ratelimit"
	"github.com/mailpool/mailpool/internal/storage"
)

type credentialStore interface {
	GetAPIKeyByDigest(ctx context.Context, digest string) (*storage.APIKey, error)
	TouchAPIKeyUsage(ctx context.Context, id int64) error
}

// APIKeyAuth authenticates external callers: extract the secret, look up
// its digest, check lifecycle and expiry, apply the per-credential rate
// limit, and bump the usage counters.
func APIKeyAuth(store credentialStore, limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := extractAPIKey(r)
			if secret == "" {
				helpers.RespondError(w, r, apperr.ErrInvalidAPIKey)
				return
			}

			digest := sha256.Sum256([]byte(secret))
			key, err := store.GetAPIKeyByDigest(r.Context(), hex.EncodeToString(digest[:]))
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					helpers.RespondError(w, r, apperr.ErrInvalidAPIKey)
					return
				}
				helpers.RespondError(w, r, err)
				return
			}

			if key.Status != storage.StatusActive {
				helpers.RespondError(w, r, apperr.ErrAPIKeyDisabled)
				return
			}
			if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
				helpers.RespondError(w, r, apperr.ErrAPIKeyExpired)
				return
			}

			if err := limiter.Allow(r.Context(), key.ID, key.RatePerMinute); err != nil {
				helpers.RespondError(w, r, err)
				return
			}

			if err := store.TouchAPIKeyUsage(r.Context(), key.ID); err != nil {
				slog.Warn("api_key_usage_touch_failed", "api_key_id", key.ID, "error", err)
			}

			next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), key)))
		})
	}
}

// extractAPIKey checks, in order: X-API-Key header, Authorization bearer,
// api_key query parameter.
func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); strings.HasPrefix(token, "sk_") {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}
