package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mailpool/mailpool/internal/api/helpers"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/auth"
	"github.com/mailpool/mailpool/internal/storage"
)

type adminLookup interface {
	GetAdminByID(ctx context.Context, id int64) (*storage.Admin, error)
}

// AdminAuth validates the session JWT from the Authorization header or
// the "token" cookie and attaches the admin to the request. The account
// is re-checked against the store so a disabled admin loses access
// before the token expires.
func AdminAuth(provider auth.TokenProvider, store adminLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				helpers.RespondError(w, r, apperr.ErrUnauthorized)
				return
			}

			claims, err := provider.ValidateToken(token)
			if err != nil {
				helpers.RespondError(w, r, apperr.ErrInvalidToken)
				return
			}
			adminID, err := claims.AdminID()
			if err != nil {
				helpers.RespondError(w, r, apperr.ErrInvalidToken)
				return
			}

			admin, err := store.GetAdminByID(r.Context(), adminID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					helpers.RespondError(w, r, apperr.ErrInvalidToken)
					return
				}
				helpers.RespondError(w, r, err)
				return
			}
			if admin.Status != storage.StatusActive {
				helpers.RespondError(w, r, apperr.ErrAccountDisabled)
				return
			}

			session := &AdminSession{
				AdminID:  admin.ID,
				Username: admin.Username,
				Role:     admin.Role,
				Claims:   claims,
			}
			next.ServeHTTP(w, r.WithContext(withAdmin(r.Context(), session)))
		})
	}
}

// RequireSuperAdmin guards the admin-management routes.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := AdminFrom(r)
		if session == nil {
			helpers.RespondError(w, r, apperr.ErrUnauthorized)
			return
		}
		if session.Role != storage.RoleSuperAdmin {
			helpers.RespondError(w, r, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractSessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}
