package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpool/mailpool/internal/storage"
)

func (s *fakeAdminStore) CreateAPIKey(_ context.Context, p storage.CreateAPIKeyParams) (*storage.APIKey, error) {
	s.createdKey = &storage.APIKey{
		ID:              10,
		Name:            p.Name,
		Prefix:          p.Prefix,
		SecretDigest:    p.SecretDigest,
		RatePerMinute:   p.RatePerMinute,
		Status:          storage.StatusActive,
		ExpiresAt:       p.ExpiresAt,
		Permissions:     p.Permissions,
		AllowedGroupIDs: p.AllowedGroupIDs,
		AllowedEmailIDs: p.AllowedEmailIDs,
		CreatedBy:       p.CreatedBy,
	}
	return s.createdKey, nil
}

func (s *fakeAdminStore) GetAPIKeyByID(_ context.Context, id int64) (*storage.APIKey, error) {
	if s.createdKey != nil && s.createdKey.ID == id {
		return s.createdKey, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeAdminStore) CreateEmailAccount(_ context.Context, p storage.CreateEmailAccountParams) (*storage.EmailAccount, error) {
	if s.addresses[p.Address] {
		return nil, &pgconn.PgError{Code: "23505"}
	}
	if s.addresses == nil {
		s.addresses = map[string]bool{}
	}
	s.addresses[p.Address] = true
	s.nextMailboxID++
	return &storage.EmailAccount{
		ID:                 s.nextMailboxID,
		Address:            p.Address,
		ClientID:           p.ClientID,
		RefreshTokenCipher: p.RefreshTokenCipher,
		PasswordCipher:     p.PasswordCipher,
		Status:             storage.StatusActive,
		GroupID:            p.GroupID,
	}, nil
}

type fakeAssignments struct {
	assigned []int64
	replaced []int64
}

func (a *fakeAssignments) Assigned(context.Context, int64) ([]int64, error) {
	return a.assigned, nil
}

func (a *fakeAssignments) Replace(_ context.Context, _ *storage.APIKey, ids []int64) error {
	a.replaced = ids
	return nil
}

func TestCreateCredentialReturnsSecretOnce(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")
	router := adminRouter(fx, func(r chi.Router) {
		r.Post("/admin/api-keys", fx.handler.CreateCredential)
		r.Get("/admin/api-keys/{id}", fx.handler.GetCredential)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodPost, "/admin/api-keys", map[string]any{
		"name":          "partner",
		"ratePerMinute": 30,
		"permissions":   map[string]bool{"get-email": true, "mail_new": true},
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)

	secret := data["secret"].(string)
	assert.True(t, strings.HasPrefix(secret, "sk_"))
	assert.Len(t, secret, 51)
	assert.Equal(t, secret[:7], data["prefix"])
	assert.Equal(t, "partner", data["name"])

	// Hyphenated permission keys are stored normalized.
	perms := data["permissions"].(map[string]any)
	assert.Equal(t, true, perms["get_email"])
	_, hasAlias := perms["get-email"]
	assert.False(t, hasAlias)

	// The raw secret and digest never reappear on reads.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodGet, "/admin/api-keys/10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data = body["data"].(map[string]any)
	_, hasSecret := data["secret"]
	assert.False(t, hasSecret)
	_, hasDigest := data["secretDigest"]
	assert.False(t, hasDigest)
}

func TestCreateCredentialRejectsUnknownAction(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")
	router := adminRouter(fx, func(r chi.Router) {
		r.Post("/admin/api-keys", fx.handler.CreateCredential)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodPost, "/admin/api-keys", map[string]any{
		"name":        "partner",
		"permissions": map[string]bool{"drop_tables": true},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
}

func TestReplaceCredentialPool(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")
	fx.store.createdKey = &storage.APIKey{ID: 10, Name: "partner", Status: storage.StatusActive}
	assignments := &fakeAssignments{assigned: []int64{1, 2}}
	fx.handler.assignments = assignments
	router := adminRouter(fx, func(r chi.Router) {
		r.Get("/admin/api-keys/{id}/pool", fx.handler.GetCredentialPool)
		r.Put("/admin/api-keys/{id}/pool", fx.handler.ReplaceCredentialPool)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodGet, "/admin/api-keys/10/pool", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, []any{float64(1), float64(2)}, data["emailIds"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodPut, "/admin/api-keys/10/pool", map[string]any{
		"emailIds": []int64{3, 4, 5},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{3, 4, 5}, assignments.replaced)
}

func TestImportMailboxes(t *testing.T) {
	fx := newAdminFixture(t, adminAccount(t, "correct horse"), "")
	fx.store.addresses = map[string]bool{"dup@outlook.com": true}
	router := adminRouter(fx, func(r chi.Router) {
		r.Post("/admin/emails/import", fx.handler.ImportMailboxes)
	})

	lines := strings.Join([]string{
		"new@outlook.com----pass1----client-1----0.refresh1",
		"dup@outlook.com----pass2----client-2----0.refresh2",
		"broken line without separators",
		"",
	}, "\n")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, fx, http.MethodPost, "/admin/emails/import", map[string]any{
		"lines": lines,
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(1), data["imported"])
	assert.Equal(t, float64(3), data["total"])

	results := data["results"].([]any)
	require.Len(t, results, 3)
	first := results[0].(map[string]any)
	assert.Equal(t, "imported", first["status"])
	assert.Equal(t, "new@outlook.com", first["email"])
	second := results[1].(map[string]any)
	assert.Equal(t, "skipped", second["status"])
	third := results[2].(map[string]any)
	assert.Equal(t, "error", third["status"])
}
