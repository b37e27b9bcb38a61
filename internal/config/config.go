// Package config loads and validates runtime configuration from the
// environment. Validation collects every violation so a broken deployment
// fails with a single, complete report instead of one field at a time.
package config

import (
	"encoding/base32"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultAdminPassword is the development bootstrap password. Production
// deployments must override it; Validate enforces this.
const DefaultAdminPassword = "admin123"

// Config holds all application configuration.
type Config struct {
	Env  string
	Port string

	DatabaseURL string
	RedisURL    string

	JWTSecret     string
	JWTExpiresIn  time.Duration
	EncryptionKey string

	AdminUsername string
	AdminPassword string

	AdminLoginMaxAttempts int
	AdminLoginLockWindow  time.Duration

	// Legacy deployment-wide TOTP secret. Applies to admins without a
	// per-account secret; read-only through the API.
	Admin2FASecret string
	Admin2FAWindow int

	LogRetentionDays   int
	LogCleanupInterval time.Duration

	CORSOrigins []string

	SentryDSN string
}

// Load reads configuration from environment variables.
func Load() Config {
	cfg := Config{
		Env:                   getEnv("NODE_ENV", "development"),
		Port:                  getEnv("PORT", "3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		JWTExpiresIn:          getEnvAsDuration("JWT_EXPIRES_IN", 2*time.Hour),
		EncryptionKey:         os.Getenv("ENCRYPTION_KEY"),
		AdminUsername:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:         getEnv("ADMIN_PASSWORD", DefaultAdminPassword),
		AdminLoginMaxAttempts: getEnvAsInt("ADMIN_LOGIN_MAX_ATTEMPTS", 5),
		AdminLoginLockWindow:  time.Duration(getEnvAsInt("ADMIN_LOGIN_LOCK_MINUTES", 15)) * time.Minute,
		Admin2FASecret:        strings.ToUpper(strings.TrimSpace(os.Getenv("ADMIN_2FA_SECRET"))),
		Admin2FAWindow:        getEnvAsInt("ADMIN_2FA_WINDOW", 1),
		LogRetentionDays:      getEnvAsInt("API_LOG_RETENTION_DAYS", 30),
		LogCleanupInterval:    time.Duration(getEnvAsInt("API_LOG_CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
		SentryDSN:             os.Getenv("SENTRY_DSN"),
	}

	if raw := os.Getenv("CORS_ORIGIN"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg
}

// IsProduction reports whether the gateway runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks every required field and returns all violations at once.
func (c Config) Validate() error {
	var violations []string

	if len(c.JWTSecret) < 32 {
		violations = append(violations, "JWT_SECRET must be at least 32 characters")
	}
	if len(c.EncryptionKey) != 32 {
		violations = append(violations, "ENCRYPTION_KEY must be exactly 32 characters")
	}
	if c.DatabaseURL == "" {
		violations = append(violations, "DATABASE_URL is required")
	} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		violations = append(violations, "DATABASE_URL must be a valid postgres:// URL")
	}
	if c.Admin2FASecret != "" {
		if len(c.Admin2FASecret) < 16 {
			violations = append(violations, "ADMIN_2FA_SECRET must be at least 16 base32 characters")
		} else if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(c.Admin2FASecret); err != nil {
			violations = append(violations, "ADMIN_2FA_SECRET must be valid base32 (A-Z2-7)")
		}
	}
	if c.Admin2FAWindow < 0 || c.Admin2FAWindow > 5 {
		violations = append(violations, "ADMIN_2FA_WINDOW must be between 0 and 5")
	}
	if c.AdminLoginMaxAttempts < 1 {
		violations = append(violations, "ADMIN_LOGIN_MAX_ATTEMPTS must be at least 1")
	}
	if c.LogRetentionDays < 1 {
		violations = append(violations, "API_LOG_RETENTION_DAYS must be at least 1")
	}
	if c.IsProduction() && c.AdminPassword == DefaultAdminPassword {
		violations = append(violations, "ADMIN_PASSWORD must not be the default value in production")
	}

	if len(violations) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(violations, "; "))
	}
	return nil
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// getEnvAsDuration accepts Go duration strings ("2h") and falls back to
// interpreting a bare number as hours, matching the legacy JWT_EXPIRES_IN.
func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(valStr); err == nil {
		return d
	}
	if n, err := strconv.Atoi(valStr); err == nil && n > 0 {
		return time.Duration(n) * time.Hour
	}
	return defaultVal
}
