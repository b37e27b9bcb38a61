package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/apperr"
)

// IPRateLimiter throttles unauthenticated endpoints (the admin login)
// per client IP.
type IPRateLimiter struct {
	ips   sync.Map
	rps   rate.Limit
	burst int
}

func NewIPRateLimiter(rps rate.Limit, burst int) *IPRateLimiter {
	l := &IPRateLimiter{rps: rps, burst: burst}
	go l.cleanupLoop()
	return l
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	if existing, ok := l.ips.Load(ip); ok {
		return existing.(*rate.Limiter)
	}
	limiter, _ := l.ips.LoadOrStore(ip, rate.NewLimiter(l.rps, l.burst))
	return limiter.(*rate.Limiter)
}

// cleanupLoop wipes the map periodically. Limiters refill fast, so losing
// state every interval only grants a one-off extra burst.
func (l *IPRateLimiter) cleanupLoop() {
	for {
		time.Sleep(10 * time.Minute)
		l.ips.Range(func(key, _ any) bool {
			l.ips.Delete(key)
			return true
		})
	}
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := helpers.ClientIP(r)
		if !l.limiterFor(ip).Allow() {
			slog.Warn("ip_rate_limit_exceeded", "ip", ip, "path", r.URL.Path)
			helpers.RespondError(w, r, apperr.ErrRateLimitExceeded)
			return
		}
		next.ServeHTTP(w, r)
	})
}
