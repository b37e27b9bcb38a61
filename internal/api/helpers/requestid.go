package helpers

import (
	"context"
	"crypto/rand"
	"net/http"
	"strconv"
	"time"
)

type ctxKey int

const requestIDKey ctxKey = 0

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRequestID synthesizes a short request token for requests that arrive
// without an X-Request-Id header.
func NewRequestID() string {
	buf := make([]byte, 6)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return "web-" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + string(buf)
}

// WithRequestID stores the request id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id attached by the middleware, or "".
func RequestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
