package helpers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mailpool/mailpool/internal/apperr"
)

// Envelope is the JSON shape of every API response.
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RespondData writes a success envelope.
func RespondData(w http.ResponseWriter, r *http.Request, status int, data any) {
	respond(w, status, Envelope{Success: true, Data: data, RequestID: RequestID(r)})
}

// RespondError maps err onto the error envelope via apperr.From.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	respond(w, appErr.Status, Envelope{
		Success:   false,
		Error:     &ErrorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		RequestID: RequestID(r),
	})
}

// RespondText writes a text/plain body, the shape used by /mail_text.
func RespondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("response_write_failed", "error", err)
	}
}

func respond(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}
