package api

import (
	"errors"
	"net/http"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/api/middleware"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	OTP      string `json:"otp,omitempty"`
}

// Login authenticates an operator: lock-out check, password, then TOTP
// when the account (or the legacy deployment secret) requires it.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		helpers.RespondError(w, r, apperr.Validation("username and password are required", nil))
		return
	}
	ip := helpers.ClientIP(r)

	if err := h.guard.Check(r.Context(), req.Username, ip); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	admin, err := h.store.GetAdminByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondError(w, r, h.loginFailure(r, req.Username, ip, apperr.ErrInvalidCredentials))
			return
		}
		helpers.RespondError(w, r, err)
		return
	}
	if admin.Status != storage.StatusActive {
		helpers.RespondError(w, r, apperr.ErrAccountDisabled)
		return
	}

	if err := h.hasher.Compare(admin.PasswordHash, req.Password); err != nil {
		helpers.RespondError(w, r, h.loginFailure(r, req.Username, ip, apperr.ErrInvalidCredentials))
		return
	}

	secret, err := h.totpSecretFor(admin)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if secret != "" {
		if req.OTP == "" {
			// Valid password, missing code: tell the client to prompt.
			helpers.RespondError(w, r, apperr.ErrInvalidOTP)
			return
		}
		if !h.totp.Validate(req.OTP, secret, h.totpWindow) {
			helpers.RespondError(w, r, h.loginFailure(r, req.Username, ip, apperr.ErrInvalidOTP))
			return
		}
	}

	h.guard.RecordSuccess(r.Context(), req.Username, ip)
	if err := h.store.RecordAdminLogin(r.Context(), admin.ID, ip); err != nil {
		h.logger.Warn("admin_login_stamp_failed", "admin_id", admin.ID, "error", err)
	}

	token, err := h.tokens.GenerateToken(admin.ID, admin.Username, admin.Role)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	h.logger.Info("admin_logged_in", "admin_id", admin.ID, "username", admin.Username, "ip", ip)
	helpers.RespondData(w, r, http.StatusOK, map[string]any{
		"token": token,
		"admin": adminJSON(admin),
	})
}

// loginFailure records a failed attempt and picks the response error.
// The attempt that trips the lock-out threshold answers with the lock
// error itself rather than another credential rejection.
func (h *AdminHandler) loginFailure(r *http.Request, username, ip string, cause error) error {
	if locked := h.guard.RecordFailure(r.Context(), username, ip); locked != nil {
		return locked
	}
	return cause
}

// Logout discards any pending 2FA setup. The JWT itself is stateless;
// clients drop it.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.AdminFrom(r)
	if err := h.store.SetAdminPendingTwoFactor(r.Context(), session.AdminID, nil); err != nil {
		h.logger.Warn("pending_2fa_discard_failed", "admin_id", session.AdminID, "error", err)
	}
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "logged out"})
}

// Me returns the authenticated admin's own record.
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.AdminFrom(r)
	admin, err := h.store.GetAdminByID(r.Context(), session.AdminID)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	data := adminJSON(admin)
	data["legacyTwoFactor"] = !admin.TwoFactorEnabled && h.legacy2FASecret != ""
	helpers.RespondData(w, r, http.StatusOK, data)
}

// SetupTwoFactor issues a fresh pending secret. Re-running setup replaces
// any earlier pending secret.
func (h *AdminHandler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	session := middleware.AdminFrom(r)

	secret, err := h.totp.GenerateSecret()
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	cipher, err := h.box.Encrypt(secret)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if err := h.store.SetAdminPendingTwoFactor(r.Context(), session.AdminID, &cipher); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondData(w, r, http.StatusOK, map[string]any{
		"secret": secret,
		"uri":    h.totp.ProvisioningURI(session.Username, secret),
	})
}

type twoFactorEnableRequest struct {
	OTP string `json:"otp"`
}

// EnableTwoFactor promotes the pending secret after the operator proves
// possession with a valid code.
func (h *AdminHandler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	session := middleware.AdminFrom(r)

	var req twoFactorEnableRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	admin, err := h.store.GetAdminByID(r.Context(), session.AdminID)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if admin.TwoFactorPendingCipher == nil {
		helpers.RespondError(w, r, apperr.Validation("no pending 2FA setup, call setup first", nil))
		return
	}

	secret, err := h.box.Decrypt(*admin.TwoFactorPendingCipher)
	if err != nil {
		helpers.RespondError(w, r, apperr.ErrTwoFactorInvalid)
		return
	}
	if !h.totp.Validate(req.OTP, secret, h.totpWindow) {
		helpers.RespondError(w, r, apperr.ErrInvalidOTP)
		return
	}

	if err := h.store.EnableAdminTwoFactor(r.Context(), session.AdminID, *admin.TwoFactorPendingCipher); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("admin_2fa_enabled", "admin_id", session.AdminID)
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "2FA enabled"})
}

type twoFactorDisableRequest struct {
	Password string `json:"password"`
	OTP      string `json:"otp"`
}

// DisableTwoFactor requires both the password and a valid current code.
// The legacy env-based secret cannot be disabled here.
func (h *AdminHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	session := middleware.AdminFrom(r)

	var req twoFactorDisableRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	admin, err := h.store.GetAdminByID(r.Context(), session.AdminID)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if !admin.TwoFactorEnabled || admin.TwoFactorSecretCipher == nil {
		helpers.RespondError(w, r, apperr.Validation("2FA is not enabled on this account", nil))
		return
	}
	if err := h.hasher.Compare(admin.PasswordHash, req.Password); err != nil {
		helpers.RespondError(w, r, apperr.ErrInvalidCredentials)
		return
	}

	secret, err := h.box.Decrypt(*admin.TwoFactorSecretCipher)
	if err != nil {
		helpers.RespondError(w, r, apperr.ErrTwoFactorInvalid)
		return
	}
	if !h.totp.Validate(req.OTP, secret, h.totpWindow) {
		helpers.RespondError(w, r, apperr.ErrInvalidOTP)
		return
	}

	if err := h.store.DisableAdminTwoFactor(r.Context(), session.AdminID); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	h.logger.Info("admin_2fa_disabled", "admin_id", session.AdminID)
	helpers.RespondData(w, r, http.StatusOK, map[string]any{"message": "2FA disabled"})
}

// totpSecretFor resolves which TOTP secret, if any, guards this login.
func (h *AdminHandler) totpSecretFor(admin *storage.Admin) (string, error) {
	if admin.TwoFactorEnabled && admin.TwoFactorSecretCipher != nil {
		secret, err := h.box.Decrypt(*admin.TwoFactorSecretCipher)
		if err != nil {
			return "", apperr.ErrTwoFactorInvalid
		}
		return secret, nil
	}
	return h.legacy2FASecret, nil
}
