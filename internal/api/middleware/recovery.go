package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/apperr"
)

// PanicRecovery converts panics into a 500 envelope, logging the stack
// and forwarding to Sentry when a hub is attached.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic_recovered",
					"error", rec,
					"path", r.URL.Path,
					"method", r.Method,
					"ip", helpers.ClientIP(r),
					"stack", string(debug.Stack()),
				)
				if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
					hub.Recover(rec)
				}
				helpers.RespondError(w, r, apperr.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
