// Package middleware holds the HTTP middleware chain: request ids,
// logging, panic recovery, CORS, and the two authentication layers.
package middleware

import (
	"net/http"

	"github.com/mailpool/mailpool/internal/api/helpers"
)

// RequestID honors an inbound X-Request-Id, synthesizes one otherwise,
// and echoes it back on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = helpers.NewRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(helpers.WithRequestID(r.Context(), id)))
	})
}
