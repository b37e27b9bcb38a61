package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/cache"
)

// LoginGuard tracks failed admin logins per (username, ip) and locks the
// pair out once the threshold is reached. Counters live in the shared
// store so all processes observe the same attempt count.
type LoginGuard struct {
	kv          cache.KV
	maxAttempts int
	lockWindow  time.Duration
	now         func() time.Time
}

func NewLoginGuard(kv cache.KV, maxAttempts int, lockWindow time.Duration) *LoginGuard {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	if lockWindow <= 0 {
		lockWindow = 15 * time.Minute
	}
	return &LoginGuard{kv: kv, maxAttempts: maxAttempts, lockWindow: lockWindow, now: time.Now}
}

func (g *LoginGuard) keys(username, ip string) (failKey, lockKey string) {
	username = strings.ToLower(strings.TrimSpace(username))
	if ip == "" {
		ip = "unknown"
	}
	return "login_fail:" + username + ":" + ip, "login_lock:" + username + ":" + ip
}

// Check fails with AccountLocked while a lock is active. Callers must call
// it before the password check so locked attempts never touch the hasher.
func (g *LoginGuard) Check(ctx context.Context, username, ip string) error {
	_, lockKey := g.keys(username, ip)

	val, ok, err := g.kv.Get(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("login lock lookup failed: %w", err)
	}
	if !ok {
		return nil
	}

	// The lock value is the unix time the lock expires; remaining minutes
	// feed the client-facing message.
	remaining := g.lockWindow
	if until, perr := strconv.ParseInt(val, 10, 64); perr == nil {
		remaining = time.Unix(until, 0).Sub(g.now())
	}
	minutes := int(remaining.Minutes()) + 1
	if minutes < 1 {
		minutes = 1
	}
	return apperr.AccountLocked(minutes)
}

// RecordFailure increments the failure counter and installs the lock when
// the threshold is reached. It returns the AccountLocked error when this
// attempt tripped the lock, so the triggering request itself answers 429.
func (g *LoginGuard) RecordFailure(ctx context.Context, username, ip string) error {
	failKey, lockKey := g.keys(username, ip)

	count, err := g.kv.Incr(ctx, failKey, g.lockWindow)
	if err != nil {
		slog.Warn("login_failure_counter_unavailable", "error", err)
		return nil
	}
	if count < int64(g.maxAttempts) {
		return nil
	}

	until := g.now().Add(g.lockWindow)
	if err := g.kv.Set(ctx, lockKey, strconv.FormatInt(until.Unix(), 10), g.lockWindow); err != nil {
		slog.Warn("login_lock_set_failed", "error", err)
		return nil
	}
	if err := g.kv.Del(ctx, failKey); err != nil {
		slog.Warn("login_failure_counter_clear_failed", "error", err)
	}
	slog.Warn("admin_login_locked", "username", strings.ToLower(username), "ip", ip, "until", until)

	minutes := int(g.lockWindow.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return apperr.AccountLocked(minutes)
}

// RecordSuccess clears both keys after a successful authentication.
func (g *LoginGuard) RecordSuccess(ctx context.Context, username, ip string) {
	failKey, lockKey := g.keys(username, ip)
	if err := g.kv.Del(ctx, failKey, lockKey); err != nil {
		slog.Warn("login_lock_clear_failed", "error", err)
	}
}
