package api

import (
	"errors"
	"net/http"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/api/middleware"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

type adminCreateRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Email    *string `json:"email,omitempty"`
	Role     string  `json:"role,omitempty"`
}

// CreateAdminAccount registers a new operator. Super-admin only (enforced
// in the router).
func (h *AdminHandler) CreateAdminAccount(w http.ResponseWriter, r *http.Request) {
	var req adminCreateRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		helpers.RespondError(w, r, apperr.Validation("username and a password of at least 8 characters are required", nil))
		return
	}
	role := req.Role
	if role == "" {
		role = storage.RoleAdmin
	}
	if role != storage.RoleAdmin && role != storage.RoleSuperAdmin {
		helpers.RespondError(w, r, apperr.Validation("unknown role", role))
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	admin, err := h.store.CreateAdmin(r.Context(), req.Username, hash, req.Email, role)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			helpers.RespondError(w, r, apperr.ErrDuplicateUsername)
			return
		}
		helpers.RespondError(w, r, err)
		return
	}

	h.logger.Info("admin_created", "admin_id", admin.ID, "username", admin.Username, "role", admin.Role)
	helpers.RespondData(w, r, http.StatusCreated, adminJSON(admin))
}

func (h *AdminHandler) ListAdminAccounts(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(admins))
	for _, a := range admins {
		out = append(out, adminJSON(a))
	}
	helpers.RespondData(w, r, http.StatusOK, out)
}

type adminUpdateRequest struct {
	Email    *string `json:"email,omitempty"`
	Role     string  `json:"role,omitempty"`
	Status   string  `json:"status,omitempty"`
	Password string  `json:"password,omitempty"`
}

// UpdateAdminAccount edits role, status, email, or password. The last
// active super admin can neither be demoted nor disabled.
func (h *AdminHandler) UpdateAdminAccount(w http.ResponseWriter, r *http.Request) {
	target, err := h.adminFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	var req adminUpdateRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	role := target.Role
	if req.Role != "" {
		if req.Role != storage.RoleAdmin && req.Role != storage.RoleSuperAdmin {
			helpers.RespondError(w, r, apperr.Validation("unknown role", req.Role))
			return
		}
		role = req.Role
	}
	status := target.Status
	if req.Status != "" {
		if req.Status != storage.StatusActive && req.Status != storage.StatusDisabled {
			helpers.RespondError(w, r, apperr.Validation("unknown status", req.Status))
			return
		}
		status = req.Status
	}

	losesSuperAdmin := target.Role == storage.RoleSuperAdmin && target.Status == storage.StatusActive &&
		(role != storage.RoleSuperAdmin || status != storage.StatusActive)
	if losesSuperAdmin {
		if err := h.requireAnotherSuperAdmin(r); err != nil {
			helpers.RespondError(w, r, err)
			return
		}
	}

	if req.Password != "" {
		if len(req.Password) < 8 {
			helpers.RespondError(w, r, apperr.Validation("password must be at least 8 characters", nil))
			return
		}
		hash, err := h.hasher.Hash(req.Password)
		if err != nil {
			helpers.RespondError(w, r, err)
			return
		}
		if err := h.store.UpdateAdminPassword(r.Context(), target.ID, hash); err != nil {
			helpers.RespondError(w, r, err)
			return
		}
	}

	email := target.Email
	if req.Email != nil {
		email = req.Email
	}
	updated, err := h.store.UpdateAdmin(r.Context(), target.ID, storage.UpdateAdminParams{
		Email:  email,
		Role:   role,
		Status: status,
	})
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondData(w, r, http.StatusOK, adminJSON(updated))
}

// DeleteAdminAccount removes an operator. Self-deletion and deleting the
// last active super admin are rejected.
func (h *AdminHandler) DeleteAdminAccount(w http.ResponseWriter, r *http.Request) {
	target, err := h.adminFromPath(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	session := middleware.AdminFrom(r)
	if session.AdminID == target.ID {
		helpers.RespondError(w, r, apperr.Validation("cannot delete your own account", nil))
		return
	}
	if target.Role == storage.RoleSuperAdmin && target.Status == storage.StatusActive {
		if err := h.requireAnotherSuperAdmin(r); err != nil {
			helpers.RespondError(w, r, err)
			return
		}
	}

	if err := h.store.DeleteAdmin(r.Context(), target.ID); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("admin_deleted", "admin_id", target.ID, "by", session.Username)
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "admin deleted"})
}

func (h *AdminHandler) requireAnotherSuperAdmin(r *http.Request) error {
	count, err := h.store.CountActiveSuperAdmins(r.Context())
	if err != nil {
		return err
	}
	// The target is itself an active super admin; it must not be the
	// only one.
	if count <= 1 {
		return apperr.Validation("cannot remove the last active super admin", nil)
	}
	return nil
}

func (h *AdminHandler) adminFromPath(r *http.Request) (*storage.Admin, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	admin, err := h.store.GetAdminByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	return admin, err
}
