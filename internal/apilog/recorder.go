// Package apilog records every external-API call and enforces the
// retention window on the resulting audit table.
package apilog

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailpool/mailpool/internal/storage"
)

// Entry is one terminated external-API call.
type Entry struct {
	Action         string
	APIKeyID       *int64
	EmailAccountID *int64
	ClientIP       string
	HTTPStatus     int
	Elapsed        time.Duration
	RequestID      string
	Extra          map[string]any
}

type inserter interface {
	InsertAPILog(ctx context.Context, p storage.InsertAPILogParams) error
}

// Recorder writes call records. Insert failures are logged and swallowed
// so an audit hiccup never masks the real response.
type Recorder struct {
	store  inserter
	logger *slog.Logger
}

func NewRecorder(store inserter, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	metadata := map[string]any{"request_id": e.RequestID}
	for k, v := range e.Extra {
		metadata[k] = v
	}

	err := r.store.InsertAPILog(ctx, storage.InsertAPILogParams{
		Action:         e.Action,
		APIKeyID:       e.APIKeyID,
		EmailAccountID: e.EmailAccountID,
		ClientIP:       e.ClientIP,
		HTTPStatus:     e.HTTPStatus,
		ElapsedMS:      e.Elapsed.Milliseconds(),
		Metadata:       metadata,
	})
	if err != nil {
		r.logger.Warn("api_log_insert_failed", "action", e.Action, "error", err)
	}
}
