package storage

import (
	"context"
	"fmt"
)

const adminColumns = `id, username, password_hash, email, role, status, two_factor_enabled,
	two_factor_secret_cipher, two_factor_pending_cipher, last_login_at, last_login_ip, created_at`

func scanAdmin(row interface{ Scan(...any) error }) (*Admin, error) {
	var a Admin
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Email, &a.Role, &a.Status,
		&a.TwoFactorEnabled, &a.TwoFactorSecretCipher, &a.TwoFactorPendingCipher,
		&a.LastLoginAt, &a.LastLoginIP, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) GetAdminByID(ctx context.Context, id int64) (*Admin, error) {
	row := s.db.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id)
	return scanAdmin(row)
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*Admin, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE lower(username) = lower($1)`, username)
	return scanAdmin(row)
}

func (s *Store) CreateAdmin(ctx context.Context, username, passwordHash string, email *string, role string) (*Admin, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO admins (username, password_hash, email, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+adminColumns, username, passwordHash, email, role)
	return scanAdmin(row)
}

type UpdateAdminParams struct {
	Email  *string
	Role   string
	Status string
}

func (s *Store) UpdateAdmin(ctx context.Context, id int64, p UpdateAdminParams) (*Admin, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE admins SET email = $2, role = $3, status = $4 WHERE id = $1
		RETURNING `+adminColumns, id, p.Email, p.Role, p.Status)
	return scanAdmin(row)
}

func (s *Store) UpdateAdminPassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := s.db.Exec(ctx, `UPDATE admins SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update admin password: %w", err)
	}
	return nil
}

func (s *Store) DeleteAdmin(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM admins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]*Admin, error) {
	rows, err := s.db.Query(ctx, `SELECT `+adminColumns+` FROM admins ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var admins []*Admin
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

// CountActiveSuperAdmins backs the "never lock out the last operator" guard.
func (s *Store) CountActiveSuperAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM admins WHERE role = $1 AND status = $2`, RoleSuperAdmin, StatusActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count super admins: %w", err)
	}
	return n, nil
}

func (s *Store) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

// RecordAdminLogin stamps the login time and source address.
func (s *Store) RecordAdminLogin(ctx context.Context, id int64, ip string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE admins SET last_login_at = now(), last_login_ip = $2 WHERE id = $1`, id, ip)
	if err != nil {
		return fmt.Errorf("failed to record admin login: %w", err)
	}
	return nil
}

// SetAdminPendingTwoFactor installs (or clears, with nil) the pending
// secret produced by 2FA setup.
func (s *Store) SetAdminPendingTwoFactor(ctx context.Context, id int64, pendingCipher *string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE admins SET two_factor_pending_cipher = $2 WHERE id = $1`, id, pendingCipher)
	if err != nil {
		return fmt.Errorf("failed to set pending 2fa secret: %w", err)
	}
	return nil
}

// EnableAdminTwoFactor promotes the pending secret to active and clears it.
func (s *Store) EnableAdminTwoFactor(ctx context.Context, id int64, secretCipher string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE admins
		SET two_factor_enabled = TRUE, two_factor_secret_cipher = $2, two_factor_pending_cipher = NULL
		WHERE id = $1`, id, secretCipher)
	if err != nil {
		return fmt.Errorf("failed to enable 2fa: %w", err)
	}
	return nil
}

// DisableAdminTwoFactor drops both the active and any pending secret.
func (s *Store) DisableAdminTwoFactor(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE admins
		SET two_factor_enabled = FALSE, two_factor_secret_cipher = NULL, two_factor_pending_cipher = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to disable 2fa: %w", err)
	}
	return nil
}
