package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/api/middleware"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/perm"
	"github.com/mailpool/mailpool/internal/storage"
)

// NewAPIKeySecret mints raw key material: "sk_" + 48 hex chars. The
// prefix stored for display is the first 7 chars of the whole secret.
func NewAPIKeySecret() (secret, prefix, digest string) {
	buf := make([]byte, 24)
	rand.Read(buf)
	secret = "sk_" + hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(secret))
	return secret, secret[:7], hex.EncodeToString(sum[:])
}

func apiKeyJSON(k *storage.APIKey) map[string]any {
	return map[string]any{
		"id":              k.ID,
		"name":            k.Name,
		"prefix":          k.Prefix,
		"ratePerMinute":   k.RatePerMinute,
		"status":          k.Status,
		"expiresAt":       k.ExpiresAt,
		"permissions":     k.Permissions,
		"allowedGroupIds": k.AllowedGroupIDs,
		"allowedEmailIds": k.AllowedEmailIDs,
		"usageCount":      k.UsageCount,
		"lastUsedAt":      k.LastUsedAt,
		"createdBy":       k.CreatedBy,
		"createdAt":       k.CreatedAt,
		"updatedAt":       k.UpdatedAt,
	}
}

type credentialRequest struct {
	Name            string          `json:"name"`
	RatePerMinute   int             `json:"ratePerMinute"`
	Status          string          `json:"status,omitempty"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
	Permissions     map[string]bool `json:"permissions,omitempty"`
	AllowedGroupIDs []int64         `json:"allowedGroupIds,omitempty"`
	AllowedEmailIDs []int64         `json:"allowedEmailIds,omitempty"`
}

func (req *credentialRequest) validate() error {
	var details []map[string]string
	if req.Name == "" {
		details = append(details, map[string]string{"path": "name", "message": "name is required"})
	}
	if req.RatePerMinute < 0 {
		details = append(details, map[string]string{"path": "ratePerMinute", "message": "must be >= 0"})
	}
	for key := range req.Permissions {
		if !perm.KnownAction(key) {
			details = append(details, map[string]string{"path": "permissions." + key, "message": "unknown action"})
		}
	}
	if len(details) > 0 {
		return apperr.Validation("invalid credential payload", details)
	}
	// Hyphenated aliases are accepted inbound but stored normalized.
	req.Permissions = perm.NormalizeMap(req.Permissions)
	return nil
}

// CreateCredential mints a credential. The raw secret appears only in
// this response.
func (h *AdminHandler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	secret, prefix, digest := NewAPIKeySecret()
	session := middleware.AdminFrom(r)

	key, err := h.store.CreateAPIKey(r.Context(), storage.CreateAPIKeyParams{
		Name:            req.Name,
		Prefix:          prefix,
		SecretDigest:    digest,
		RatePerMinute:   req.RatePerMinute,
		ExpiresAt:       req.ExpiresAt,
		Permissions:     req.Permissions,
		AllowedGroupIDs: req.AllowedGroupIDs,
		AllowedEmailIDs: req.AllowedEmailIDs,
		CreatedBy:       session.Username,
	})
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	h.logger.Info("api_key_created", "api_key_id", key.ID, "name", key.Name, "by", session.Username)
	data := apiKeyJSON(key)
	data["secret"] = secret
	helpers.RespondData(w, r, http.StatusCreated, data)
}

func (h *AdminHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, apiKeyJSON(k))
	}
	helpers.RespondData(w, r, http.StatusOK, out)
}

func (h *AdminHandler) GetCredential(w http.ResponseWriter, r *http.Request) {
	key, err := h.credentialFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, apiKeyJSON(key))
}

func (h *AdminHandler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	key, err := h.credentialFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	req := credentialRequest{
		Name:            key.Name,
		RatePerMinute:   key.RatePerMinute,
		Status:          key.Status,
		ExpiresAt:       key.ExpiresAt,
		Permissions:     key.Permissions,
		AllowedGroupIDs: key.AllowedGroupIDs,
		AllowedEmailIDs: key.AllowedEmailIDs,
	}
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	status := req.Status
	if status == "" {
		status = key.Status
	}

	updated, err := h.store.UpdateAPIKey(r.Context(), key.ID, storage.UpdateAPIKeyParams{
		Name:            req.Name,
		RatePerMinute:   req.RatePerMinute,
		Status:          status,
		ExpiresAt:       req.ExpiresAt,
		Permissions:     req.Permissions,
		AllowedGroupIDs: req.AllowedGroupIDs,
		AllowedEmailIDs: req.AllowedEmailIDs,
	})
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, apiKeyJSON(updated))
}

func (h *AdminHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondError(w, r, apperr.ErrNotFound)
			return
		}
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("api_key_deleted", "api_key_id", id)
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "credential deleted"})
}

// GetCredentialPool lists the mailbox ids currently assigned to the
// credential.
func (h *AdminHandler) GetCredentialPool(w http.ResponseWriter, r *http.Request) {
	key, err := h.credentialFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	ids, err := h.assignments.Assigned(r.Context(), key.ID)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"emailIds": ids})
}

type replacePoolRequest struct {
	EmailIDs []int64 `json:"emailIds"`
}

// ReplaceCredentialPool swaps the credential's assignment set. Ids
// outside the credential's scope are rejected.
func (h *AdminHandler) ReplaceCredentialPool(w http.ResponseWriter, r *http.Request) {
	key, err := h.credentialFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	var req replacePoolRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := h.assignments.Replace(r.Context(), key, req.EmailIDs); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("api_key_pool_replaced", "api_key_id", key.ID, "count", len(req.EmailIDs))
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "pool updated", "count": len(req.EmailIDs)})
}

func (h *AdminHandler) credentialFromPath(r *http.Request) (*storage.APIKey, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	key, err := h.store.GetAPIKeyByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	return key, err
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, apperr.Validation("invalid id in path", nil)
	}
	return id, nil
}
