package storage

import (
	"context"
	"fmt"
	"strings"
)

const emailAccountColumns = `id, address, client_id, refresh_token_cipher, password_cipher,
	status, group_id, last_check_at, last_error, created_at, updated_at`

func scanEmailAccount(row interface{ Scan(...any) error }) (*EmailAccount, error) {
	var m EmailAccount
	err := row.Scan(&m.ID, &m.Address, &m.ClientID, &m.RefreshTokenCipher, &m.PasswordCipher,
		&m.Status, &m.GroupID, &m.LastCheckAt, &m.LastError, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) GetEmailAccountByID(ctx context.Context, id int64) (*EmailAccount, error) {
	row := s.db.QueryRow(ctx, `SELECT `+emailAccountColumns+` FROM email_accounts WHERE id = $1`, id)
	return scanEmailAccount(row)
}

func (s *Store) GetEmailAccountByAddress(ctx context.Context, address string) (*EmailAccount, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+emailAccountColumns+` FROM email_accounts WHERE lower(address) = lower($1)`, address)
	return scanEmailAccount(row)
}

type CreateEmailAccountParams struct {
	Address            string
	ClientID           string
	RefreshTokenCipher string
	PasswordCipher     *string
	GroupID            *int64
}

func (s *Store) CreateEmailAccount(ctx context.Context, p CreateEmailAccountParams) (*EmailAccount, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO email_accounts (address, client_id, refresh_token_cipher, password_cipher, group_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+emailAccountColumns,
		strings.ToLower(strings.TrimSpace(p.Address)), p.ClientID, p.RefreshTokenCipher, p.PasswordCipher, p.GroupID)
	return scanEmailAccount(row)
}

type UpdateEmailAccountParams struct {
	ClientID           string
	RefreshTokenCipher string
	PasswordCipher     *string
	Status             string
	GroupID            *int64
}

func (s *Store) UpdateEmailAccount(ctx context.Context, id int64, p UpdateEmailAccountParams) (*EmailAccount, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE email_accounts
		SET client_id = $2, refresh_token_cipher = $3, password_cipher = $4,
			status = $5, group_id = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+emailAccountColumns,
		id, p.ClientID, p.RefreshTokenCipher, p.PasswordCipher, p.Status, p.GroupID)
	return scanEmailAccount(row)
}

func (s *Store) DeleteEmailAccount(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM email_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete email account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEmailAccounts returns accounts matching the given WHERE clauses
// (already parameterized by the caller, typically via scope.Filter).
func (s *Store) ListEmailAccounts(ctx context.Context, clauses []string, args []any) ([]*EmailAccount, error) {
	query := `SELECT ` + emailAccountColumns + ` FROM email_accounts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list email accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*EmailAccount
	for rows.Next() {
		m, err := scanEmailAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, m)
	}
	return accounts, rows.Err()
}

// SetEmailAccountCheckResult records the outcome of a fetch attempt.
// Status and error message are written atomically with the check stamp.
func (s *Store) SetEmailAccountCheckResult(ctx context.Context, id int64, status string, lastError *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE email_accounts
		SET status = $2, last_error = $3, last_check_at = now(), updated_at = now()
		WHERE id = $1`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("failed to record check result: %w", err)
	}
	return nil
}

// CountEmailAccountsByStatus feeds the admin dashboard.
func (s *Store) CountEmailAccountsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM email_accounts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count email accounts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
