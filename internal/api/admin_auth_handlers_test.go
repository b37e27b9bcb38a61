package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custommw "github.com/mailpool/mailpool/internal/api/middleware"
	"github.com/mailpool/mailpool/internal/auth"
	"github.com/mailpool/mailpool/internal/cache"
	"github.com/mailpool/mailpool/internal/storage"
)

type fakeAdminStore struct {
	AdminStore

	admin         *storage.Admin
	pendingCipher *string
	enabledCipher *string
	loginStamps   int

	createdKey    *storage.APIKey
	addresses     map[string]bool
	nextMailboxID int64
}

func (s *fakeAdminStore) GetAdminByUsername(_ context.Context, username string) (*storage.Admin, error) {
	if s.admin != nil && s.admin.Username == username {
		return s.admin, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeAdminStore) GetAdminByID(_ context.Context, id int64) (*storage.Admin, error) {
	if s.admin != nil && s.admin.ID == id {
		return s.admin, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeAdminStore) RecordAdminLogin(context.Context, int64, string) error {
	s.loginStamps++
	return nil
}

func (s *fakeAdminStore) SetAdminPendingTwoFactor(_ context.Context, _ int64, cipher *string) error {
	s.pendingCipher = cipher
	s.admin.TwoFactorPendingCipher = cipher
	return nil
}

func (s *fakeAdminStore) EnableAdminTwoFactor(_ context.Context, _ int64, cipher string) error {
	s.enabledCipher = &cipher
	s.admin.TwoFactorEnabled = true
	s.admin.TwoFactorSecretCipher = &cipher
	s.admin.TwoFactorPendingCipher = nil
	return nil
}

type adminFixture struct {
	handler *AdminHandler
	store   *fakeAdminStore
	tokens  *auth.JWTProvider
	totp    *auth.TOTPService
}

func newAdminFixture(t *testing.T, admin *storage.Admin, legacySecret string) *adminFixture {
	t.Helper()
	store := &fakeAdminStore{admin: admin}
	tokens := auth.NewJWTProvider("0123456789abcdef0123456789abcdef", time.Hour)
	totp := auth.NewTOTPService("mailpool")
	h := NewAdminHandler(AdminHandlerDeps{
		Store:           store,
		Hasher:          auth.NewBcryptHasher(),
		TOTP:            totp,
		Tokens:          tokens,
		Guard:           auth.NewLoginGuard(cache.NewMemory(), 3, 15*time.Minute),
		Box:             testBox(t),
		Logger:          slog.Default(),
		Legacy2FASecret: legacySecret,
		TOTPWindow:      1,
	})
	return &adminFixture{handler: h, store: store, tokens: tokens, totp: totp}
}

func adminAccount(t *testing.T, password string) *storage.Admin {
	t.Helper()
	hash, err := auth.NewBcryptHasher().Hash(password)
	require.NoError(t, err)
	return &storage.Admin{
		ID:           1,
		Username:     "root",
		PasswordHash: hash,
		Role:         storage.RoleSuperAdmin,
		Status:       storage.StatusActive,
	}
}

func postLogin(t *testing.T, h *AdminHandler, payload map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:49152"
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestLoginIssuesToken(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")

	rec, body := postLogin(t, fx.handler, map[string]string{
		"username": "root",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	token := data["token"].(string)

	claims, err := fx.tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Username)
	assert.Equal(t, storage.RoleSuperAdmin, claims.Role)
	assert.Equal(t, 1, fx.store.loginStamps)
}

func TestLoginWrongPassword(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")

	rec, body := postLogin(t, fx.handler, map[string]string{
		"username": "root",
		"password": "battery staple",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_CREDENTIALS", errBody["code"])
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")

	var codes []string
	var statuses []int
	for i := 0; i < 3; i++ {
		rec, body := postLogin(t, fx.handler, map[string]string{
			"username": "root",
			"password": "wrong",
		})
		statuses = append(statuses, rec.Code)
		codes = append(codes, body["error"].(map[string]any)["code"].(string))
	}
	// The attempt that trips the threshold is already answered with the
	// lock, not with another credential rejection.
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, statuses)
	assert.Equal(t, []string{"INVALID_CREDENTIALS", "INVALID_CREDENTIALS", "ACCOUNT_LOCKED"}, codes)

	// Locked now, even with the right password.
	rec, body := postLogin(t, fx.handler, map[string]string{
		"username": "root",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "ACCOUNT_LOCKED", errBody["code"])
}

func TestLoginPromptsForOTPWithoutCountingFailure(t *testing.T) {
	admin := adminAccount(t, "correct horse")
	fx := newAdminFixture(t, admin, "")

	box := fx.handler.box
	secret := "JBSWY3DPEHPK3PXP"
	cipher, err := box.Encrypt(secret)
	require.NoError(t, err)
	admin.TwoFactorEnabled = true
	admin.TwoFactorSecretCipher = &cipher

	// Missing code is a prompt, not a failed attempt.
	for i := 0; i < 5; i++ {
		rec, body := postLogin(t, fx.handler, map[string]string{
			"username": "root",
			"password": "correct horse",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		errBody := body["error"].(map[string]any)
		require.Equal(t, "INVALID_OTP", errBody["code"])
	}

	code, err := fx.totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	rec, body := postLogin(t, fx.handler, map[string]string{
		"username": "root",
		"password": "correct horse",
		"otp":      code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["token"])
}

func TestLoginLegacySecretApplies(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "JBSWY3DPEHPK3PXP")

	rec, body := postLogin(t, fx.handler, map[string]string{
		"username": "root",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_OTP", errBody["code"])

	code, err := fx.totp.CodeAt("JBSWY3DPEHPK3PXP", time.Now())
	require.NoError(t, err)
	rec, _ = postLogin(t, fx.handler, map[string]string{
		"username": "root",
		"password": "correct horse",
		"otp":      code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

// adminRouter mounts protected routes behind the real JWT middleware.
func adminRouter(fx *adminFixture, register func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(custommw.RequestID)
	r.Use(custommw.AdminAuth(fx.tokens, fx.store))
	register(r)
	return r
}

func authedRequest(t *testing.T, fx *adminFixture, method, target string, payload any) *http.Request {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, body)
	token, err := fx.tokens.GenerateToken(fx.store.admin.ID, fx.store.admin.Username, fx.store.admin.Role)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestTwoFactorSetupThenEnable(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")
	router := adminRouter(fx, func(r chi.Router) {
		r.Post("/admin/auth/2fa/setup", fx.handler.SetupTwoFactor)
		r.Post("/admin/auth/2fa/enable", fx.handler.EnableTwoFactor)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodPost, "/admin/auth/2fa/setup", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	secret := data["secret"].(string)
	require.NotEmpty(t, secret)
	assert.Contains(t, data["uri"], "otpauth://")
	require.NotNil(t, fx.store.pendingCipher)

	// Wrong code is rejected and the secret stays pending.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodPost, "/admin/auth/2fa/enable", map[string]string{"otp": "000000"}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, fx.store.admin.TwoFactorEnabled)

	code, err := fx.totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodPost, "/admin/auth/2fa/enable", map[string]string{"otp": code}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fx.store.admin.TwoFactorEnabled)
	require.NotNil(t, fx.store.enabledCipher)
}

func TestMeReportsLegacyTwoFactor(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "JBSWY3DPEHPK3PXP")
	router := adminRouter(fx, func(r chi.Router) {
		r.Get("/admin/auth/me", fx.handler.Me)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodGet, "/admin/auth/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "root", data["username"])
	assert.Equal(t, true, data["legacyTwoFactor"])
}

func TestAdminAuthRejectsMissingToken(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")
	router := adminRouter(fx, func(r chi.Router) {
		r.Get("/admin/auth/me", fx.handler.Me)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/auth/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
