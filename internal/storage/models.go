package storage

import "time"

// Lifecycle states and roles persisted as lowercase strings.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
	StatusError    = "error"

	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"

	StrategyGraphFirst = "graph_first"
	StrategyImapFirst  = "imap_first"
	StrategyGraphOnly  = "graph_only"
	StrategyImapOnly   = "imap_only"
)

// APIKey is the credential presented by external callers.
type APIKey struct {
	ID              int64
	Name            string
	Prefix          string
	SecretDigest    string
	RatePerMinute   int
	Status          string
	ExpiresAt       *time.Time
	Permissions     map[string]bool
	AllowedGroupIDs []int64
	AllowedEmailIDs []int64
	UsageCount      int64
	LastUsedAt      *time.Time
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EmailAccount is a Microsoft consumer mailbox the gateway can fetch.
type EmailAccount struct {
	ID                 int64
	Address            string
	ClientID           string
	RefreshTokenCipher string
	PasswordCipher     *string
	Status             string
	GroupID            *int64
	LastCheckAt        *time.Time
	LastError          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EmailGroup is a logical bucket of mailboxes with a fetch-strategy hint.
type EmailGroup struct {
	ID            int64
	Name          string
	Description   *string
	FetchStrategy string
	CreatedAt     time.Time
}

// Admin is a human operator account.
type Admin struct {
	ID                     int64
	Username               string
	PasswordHash           string
	Email                  *string
	Role                   string
	Status                 string
	TwoFactorEnabled       bool
	TwoFactorSecretCipher  *string
	TwoFactorPendingCipher *string
	LastLoginAt            *time.Time
	LastLoginIP            *string
	CreatedAt              time.Time
}

// APILog is one append-only record of an external-API invocation.
type APILog struct {
	ID             int64
	Action         string
	APIKeyID       *int64
	EmailAccountID *int64
	ClientIP       string
	HTTPStatus     int
	ElapsedMS      int64
	Metadata       map[string]any
	CreatedAt      time.Time
}
