package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailpool/mailpool/internal/auth"
	"github.com/mailpool/mailpool/internal/crypto"
	"github.com/mailpool/mailpool/internal/storage"
)

// AdminStore is the storage surface behind the /admin routes. The pgx
// store satisfies it; tests substitute fakes per handler group.
type AdminStore interface {
	GetAdminByID(ctx context.Context, id int64) (*storage.Admin, error)
	GetAdminByUsername(ctx context.Context, username string) (*storage.Admin, error)
	CreateAdmin(ctx context.Context, username, passwordHash string, email *string, role string) (*storage.Admin, error)
	UpdateAdmin(ctx context.Context, id int64, p storage.UpdateAdminParams) (*storage.Admin, error)
	UpdateAdminPassword(ctx context.Context, id int64, passwordHash string) error
	DeleteAdmin(ctx context.Context, id int64) error
	ListAdmins(ctx context.Context) ([]*storage.Admin, error)
	CountActiveSuperAdmins(ctx context.Context) (int64, error)
	RecordAdminLogin(ctx context.Context, id int64, ip string) error
	SetAdminPendingTwoFactor(ctx context.Context, id int64, pendingCipher *string) error
	EnableAdminTwoFactor(ctx context.Context, id int64, secretCipher string) error
	DisableAdminTwoFactor(ctx context.Context, id int64) error

	GetAPIKeyByID(ctx context.Context, id int64) (*storage.APIKey, error)
	CreateAPIKey(ctx context.Context, p storage.CreateAPIKeyParams) (*storage.APIKey, error)
	UpdateAPIKey(ctx context.Context, id int64, p storage.UpdateAPIKeyParams) (*storage.APIKey, error)
	DeleteAPIKey(ctx context.Context, id int64) error
	ListAPIKeys(ctx context.Context) ([]*storage.APIKey, error)

	GetEmailAccountByID(ctx context.Context, id int64) (*storage.EmailAccount, error)
	CreateEmailAccount(ctx context.Context, p storage.CreateEmailAccountParams) (*storage.EmailAccount, error)
	UpdateEmailAccount(ctx context.Context, id int64, p storage.UpdateEmailAccountParams) (*storage.EmailAccount, error)
	DeleteEmailAccount(ctx context.Context, id int64) error
	ListEmailAccounts(ctx context.Context, clauses []string, args []any) ([]*storage.EmailAccount, error)
	CountEmailAccountsByStatus(ctx context.Context) (map[string]int64, error)

	GetGroupByID(ctx context.Context, id int64) (*storage.EmailGroup, error)
	GetGroupByName(ctx context.Context, name string) (*storage.EmailGroup, error)
	CreateGroup(ctx context.Context, name string, description *string, fetchStrategy string) (*storage.EmailGroup, error)
	UpdateGroup(ctx context.Context, id int64, name string, description *string, fetchStrategy string) (*storage.EmailGroup, error)
	DeleteGroup(ctx context.Context, id int64) error
	ListGroups(ctx context.Context) ([]*storage.EmailGroup, error)

	ListAPILogs(ctx context.Context, p storage.ListAPILogsParams) ([]*storage.APILog, int64, error)
	CountAPILogsSince(ctx context.Context, since time.Time) (int64, error)
	CountAdmins(ctx context.Context) (int64, error)
	CountAssignments(ctx context.Context) (int64, error)
}

// AssignmentService is the allocator surface for the admin-side pool
// endpoints.
type AssignmentService interface {
	Assigned(ctx context.Context, apiKeyID int64) ([]int64, error)
	Replace(ctx context.Context, key *storage.APIKey, ids []int64) error
}

// AdminHandler serves the JWT-authenticated /admin routes.
type AdminHandler struct {
	store       AdminStore
	assignments AssignmentService
	hasher      auth.PasswordHasher
	totp        *auth.TOTPService
	tokens      auth.TokenProvider
	guard       *auth.LoginGuard
	box         *crypto.SecretBox
	logger      *slog.Logger

	// Legacy deployment-wide TOTP secret; applies to admins without a
	// per-account secret and cannot be changed through the API.
	legacy2FASecret string
	totpWindow      int
}

type AdminHandlerDeps struct {
	Store           AdminStore
	Assignments     AssignmentService
	Hasher          auth.PasswordHasher
	TOTP            *auth.TOTPService
	Tokens          auth.TokenProvider
	Guard           *auth.LoginGuard
	Box             *crypto.SecretBox
	Logger          *slog.Logger
	Legacy2FASecret string
	TOTPWindow      int
}

func NewAdminHandler(deps AdminHandlerDeps) *AdminHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		store:           deps.Store,
		assignments:     deps.Assignments,
		hasher:          deps.Hasher,
		totp:            deps.TOTP,
		tokens:          deps.Tokens,
		guard:           deps.Guard,
		box:             deps.Box,
		logger:          logger,
		legacy2FASecret: deps.Legacy2FASecret,
		totpWindow:      deps.TOTPWindow,
	}
}

// adminJSON is the wire shape of an admin account. Secrets never leave.
func adminJSON(a *storage.Admin) map[string]any {
	return map[string]any{
		"id":               a.ID,
		"username":         a.Username,
		"email":            a.Email,
		"role":             a.Role,
		"status":           a.Status,
		"twoFactorEnabled": a.TwoFactorEnabled,
		"lastLoginAt":      a.LastLoginAt,
		"lastLoginIp":      a.LastLoginIP,
		"createdAt":        a.CreatedAt,
	}
}
