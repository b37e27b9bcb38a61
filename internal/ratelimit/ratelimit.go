// Package ratelimit enforces per-credential request budgets.
//
// The counter lives in the shared store under
// rate:credential:{id}:{minute_bucket} with a 60-second expiry set on the
// first increment, so every gateway process charges the same window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/cache"
)

// Limiter checks whether a credential may perform one more request this minute.
type Limiter interface {
	// Allow charges one request against the credential's budget.
	// Returns apperr.ErrRateLimitExceeded when the budget is exhausted.
	Allow(ctx context.Context, credentialID int64, perMinute int) error
}

// KVLimiter implements Limiter on any cache.KV backend (Redis in shared
// deployments, process-local memory as the fallback).
type KVLimiter struct {
	kv  cache.KV
	now func() time.Time
}

func New(kv cache.KV) *KVLimiter {
	return &KVLimiter{kv: kv, now: time.Now}
}

func (l *KVLimiter) Allow(ctx context.Context, credentialID int64, perMinute int) error {
	if perMinute <= 0 {
		return nil // unlimited
	}

	bucket := l.now().Unix() / 60
	key := fmt.Sprintf("rate:credential:%d:%d", credentialID, bucket)

	count, err := l.kv.Incr(ctx, key, 60*time.Second)
	if err != nil {
		// Fail open: a broken shared store must not take the API down
		// with it. The miss is logged so operators notice.
		slog.Warn("rate_limit_counter_unavailable", "credential_id", credentialID, "error", err)
		return nil
	}
	if count > int64(perMinute) {
		return apperr.ErrRateLimitExceeded
	}
	return nil
}
