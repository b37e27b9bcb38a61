package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

func mailboxJSON(m *storage.EmailAccount) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"email":       m.Address,
		"clientId":    m.ClientID,
		"status":      m.Status,
		"groupId":     m.GroupID,
		"lastCheckAt": m.LastCheckAt,
		"lastError":   m.LastError,
		"createdAt":   m.CreatedAt,
		"updatedAt":   m.UpdatedAt,
	}
}

type mailboxRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"clientId"`
	RefreshToken string `json:"refreshToken"`
	Status       string `json:"status,omitempty"`
	GroupID      *int64 `json:"groupId,omitempty"`
}

func (h *AdminHandler) CreateMailbox(w http.ResponseWriter, r *http.Request) {
	var req mailboxRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if req.Email == "" || req.ClientID == "" || req.RefreshToken == "" {
		helpers.RespondError(w, r, apperr.Validation("email, clientId and refreshToken are required", nil))
		return
	}

	params, err := h.sealMailbox(req)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	acct, err := h.store.CreateEmailAccount(r.Context(), params)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			helpers.RespondError(w, r, apperr.ErrDuplicateEmail)
			return
		}
		helpers.RespondError(w, r, err)
		return
	}

	h.logger.Info("mailbox_created", "email_account_id", acct.ID, "address", acct.Address)
	helpers.RespondData(w, r, http.StatusCreated, mailboxJSON(acct))
}

func (h *AdminHandler) ListMailboxes(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListEmailAccounts(r.Context(), nil, nil)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(accounts))
	for _, m := range accounts {
		out = append(out, mailboxJSON(m))
	}
	helpers.RespondData(w, r, http.StatusOK, out)
}

func (h *AdminHandler) GetMailbox(w http.ResponseWriter, r *http.Request) {
	acct, err := h.mailboxFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, mailboxJSON(acct))
}

// UpdateMailbox rewrites the mutable fields. Secrets are re-sealed only
// when the payload carries replacements.
func (h *AdminHandler) UpdateMailbox(w http.ResponseWriter, r *http.Request) {
	acct, err := h.mailboxFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	var req mailboxRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	params := storage.UpdateEmailAccountParams{
		ClientID:           acct.ClientID,
		RefreshTokenCipher: acct.RefreshTokenCipher,
		PasswordCipher:     acct.PasswordCipher,
		Status:             acct.Status,
		GroupID:            acct.GroupID,
	}
	if req.ClientID != "" {
		params.ClientID = req.ClientID
	}
	if req.RefreshToken != "" {
		cipher, err := h.box.Encrypt(req.RefreshToken)
		if err != nil {
			helpers.RespondError(w, r, err)
			return
		}
		params.RefreshTokenCipher = cipher
	}
	if req.Password != "" {
		cipher, err := h.box.Encrypt(req.Password)
		if err != nil {
			helpers.RespondError(w, r, err)
			return
		}
		params.PasswordCipher = &cipher
	}
	if req.Status != "" {
		params.Status = req.Status
	}
	if req.GroupID != nil {
		params.GroupID = req.GroupID
	}

	updated, err := h.store.UpdateEmailAccount(r.Context(), acct.ID, params)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, mailboxJSON(updated))
}

func (h *AdminHandler) DeleteMailbox(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := h.store.DeleteEmailAccount(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondError(w, r, apperr.ErrEmailNotFound)
			return
		}
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("mailbox_deleted", "email_account_id", id)
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "mailbox deleted"})
}

type bulkImportRequest struct {
	Lines   string `json:"lines"`
	GroupID *int64 `json:"groupId,omitempty"`
}

type bulkImportLine struct {
	Line    int    `json:"line"`
	Email   string `json:"email,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ImportMailboxes ingests "address----password----client_id----refresh_token"
// lines, one mailbox per line. Failures are reported per line; the rest
// of the batch proceeds.
func (h *AdminHandler) ImportMailboxes(w http.ResponseWriter, r *http.Request) {
	var req bulkImportRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	var results []bulkImportLine
	var imported int
	for i, raw := range strings.Split(req.Lines, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		entry := bulkImportLine{Line: i + 1}

		parts := strings.Split(line, "----")
		if len(parts) != 4 {
			entry.Status = "error"
			entry.Message = "expected address----password----client_id----refresh_token"
			results = append(results, entry)
			continue
		}
		entry.Email = strings.TrimSpace(parts[0])

		params, err := h.sealMailbox(mailboxRequest{
			Email:        entry.Email,
			Password:     strings.TrimSpace(parts[1]),
			ClientID:     strings.TrimSpace(parts[2]),
			RefreshToken: strings.TrimSpace(parts[3]),
			GroupID:      req.GroupID,
		})
		if err != nil {
			entry.Status = "error"
			entry.Message = apperr.From(err).Message
			results = append(results, entry)
			continue
		}

		if _, err := h.store.CreateEmailAccount(r.Context(), params); err != nil {
			if storage.IsUniqueViolation(err) {
				entry.Status = "skipped"
				entry.Message = "address already exists"
			} else {
				entry.Status = "error"
				entry.Message = apperr.From(err).Message
			}
			results = append(results, entry)
			continue
		}

		entry.Status = "imported"
		imported++
		results = append(results, entry)
	}

	h.logger.Info("mailboxes_imported", "imported", imported, "total", len(results))
	helpers.RespondData(w, r, http.StatusOK, map[string]any{
		"imported": imported,
		"total":    len(results),
		"results":  results,
	})
}

func (h *AdminHandler) sealMailbox(req mailboxRequest) (storage.CreateEmailAccountParams, error) {
	tokenCipher, err := h.box.Encrypt(req.RefreshToken)
	if err != nil {
		return storage.CreateEmailAccountParams{}, err
	}
	params := storage.CreateEmailAccountParams{
		Address:            req.Email,
		ClientID:           req.ClientID,
		RefreshTokenCipher: tokenCipher,
		GroupID:            req.GroupID,
	}
	if req.Password != "" {
		passCipher, err := h.box.Encrypt(req.Password)
		if err != nil {
			return storage.CreateEmailAccountParams{}, err
		}
		params.PasswordCipher = &passCipher
	}
	return params, nil
}

func (h *AdminHandler) mailboxFromPath(r *http.Request) (*storage.EmailAccount, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	acct, err := h.store.GetEmailAccountByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrEmailNotFound
	}
	return acct, err
}
