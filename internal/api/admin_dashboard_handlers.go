package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

// DashboardStats summarizes the deployment for the admin UI.
func (h *AdminHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	keys, err := h.store.ListAPIKeys(ctx)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	activeKeys := 0
	for _, k := range keys {
		if k.Status == storage.StatusActive {
			activeKeys++
		}
	}

	mailboxes, err := h.store.CountEmailAccountsByStatus(ctx)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	var totalMailboxes int64
	for _, n := range mailboxes {
		totalMailboxes += n
	}

	assignments, err := h.store.CountAssignments(ctx)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	callsLast24h, err := h.store.CountAPILogsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	admins, err := h.store.CountAdmins(ctx)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondData(w, r, http.StatusOK, map[string]any{
		"apiKeys": map[string]any{
			"total":  len(keys),
			"active": activeKeys,
		},
		"mailboxes": map[string]any{
			"total":    totalMailboxes,
			"byStatus": mailboxes,
		},
		"assignments":  assignments,
		"callsLast24h": callsLast24h,
		"admins":       admins,
	})
}

func apiLogJSON(l *storage.APILog) map[string]any {
	return map[string]any{
		"id":             l.ID,
		"action":         l.Action,
		"apiKeyId":       l.APIKeyID,
		"emailAccountId": l.EmailAccountID,
		"clientIp":       l.ClientIP,
		"httpStatus":     l.HTTPStatus,
		"elapsedMs":      l.ElapsedMS,
		"metadata":       l.Metadata,
		"createdAt":      l.CreatedAt,
	}
}

// ListAPILogs pages through the call audit, newest first.
func (h *AdminHandler) ListAPILogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := storage.ListAPILogsParams{Action: q.Get("action")}
	if v := q.Get("apiKeyId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			helpers.RespondError(w, r, apperr.Validation("apiKeyId must be an integer", nil))
			return
		}
		params.APIKeyID = &id
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			helpers.RespondError(w, r, apperr.Validation("since must be RFC 3339", nil))
			return
		}
		params.Since = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			helpers.RespondError(w, r, apperr.Validation("until must be RFC 3339", nil))
			return
		}
		params.Until = &ts
	}
	params.Limit, _ = strconv.Atoi(q.Get("limit"))
	params.Offset, _ = strconv.Atoi(q.Get("offset"))

	logs, total, err := h.store.ListAPILogs(r.Context(), params)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, apiLogJSON(l))
	}
	helpers.RespondData(w, r, http.StatusOK, map[string]any{
		"total": total,
		"logs":  out,
	})
}
