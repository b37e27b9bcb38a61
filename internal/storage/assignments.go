package storage

import (
	"context"
	"fmt"
	"strings"
)

// SelectUnassignedEmailAccount returns the lowest-id active mailbox with no
// assignment for the credential, further narrowed by the given clauses
// (which reference the alias "e" and use placeholders from $2 on).
func (s *Store) SelectUnassignedEmailAccount(ctx context.Context, apiKeyID int64, clauses []string, args []any) (*EmailAccount, error) {
	query := `
		SELECT e.id, e.address, e.client_id, e.refresh_token_cipher, e.password_cipher,
			e.status, e.group_id, e.last_check_at, e.last_error, e.created_at, e.updated_at
		FROM email_accounts e
		WHERE e.status = 'active'
		AND NOT EXISTS (
			SELECT 1 FROM email_usage u
			WHERE u.api_key_id = $1 AND u.email_account_id = e.id
		)`
	for _, c := range clauses {
		query += " AND " + c
	}
	query += ` ORDER BY e.id ASC LIMIT 1`

	row := s.db.QueryRow(ctx, query, append([]any{apiKeyID}, args...)...)
	return scanEmailAccount(row)
}

// InsertAssignment records that the mailbox was handed to the credential.
// A unique-key conflict propagates; callers translate it to AlreadyUsed.
func (s *Store) InsertAssignment(ctx context.Context, apiKeyID, emailAccountID int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO email_usage (api_key_id, email_account_id) VALUES ($1, $2)`,
		apiKeyID, emailAccountID)
	return err
}

// DeleteAssignments removes the credential's assignments restricted to the
// given mailbox clauses; returns the number of rows removed.
func (s *Store) DeleteAssignments(ctx context.Context, apiKeyID int64, clauses []string, args []any) (int64, error) {
	query := `
		DELETE FROM email_usage u
		USING email_accounts e
		WHERE u.email_account_id = e.id AND u.api_key_id = $1`
	for _, c := range clauses {
		query += " AND " + c
	}

	tag, err := s.db.Exec(ctx, query, append([]any{apiKeyID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAllAssignments clears every assignment for the credential.
func (s *Store) DeleteAllAssignments(ctx context.Context, apiKeyID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM email_usage WHERE api_key_id = $1`, apiKeyID)
	if err != nil {
		return fmt.Errorf("failed to clear assignments: %w", err)
	}
	return nil
}

// CountPool returns the size of the credential's visible pool and how much
// of it has been assigned, under the same clauses Allocate uses.
func (s *Store) CountPool(ctx context.Context, apiKeyID int64, clauses []string, args []any) (total, used int64, err error) {
	where := `e.status = 'active'`
	if len(clauses) > 0 {
		where += " AND " + strings.Join(clauses, " AND ")
	}
	query := `
		SELECT count(*),
			count(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM email_usage u
				WHERE u.api_key_id = $1 AND u.email_account_id = e.id
			))
		FROM email_accounts e
		WHERE ` + where

	err = s.db.QueryRow(ctx, query, append([]any{apiKeyID}, args...)...).Scan(&total, &used)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pool: %w", err)
	}
	return total, used, nil
}

// ListAssignedIDs returns the mailbox ids currently assigned to the credential.
func (s *Store) ListAssignedIDs(ctx context.Context, apiKeyID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT email_account_id FROM email_usage WHERE api_key_id = $1 ORDER BY email_account_id`, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEmailAccountsByIDs reports how many of the given ids exist within
// the clauses; used to validate pool replacements against scope.
func (s *Store) CountEmailAccountsByIDs(ctx context.Context, ids []int64, clauses []string, args []any) (int64, error) {
	where := `id = ANY($1)`
	if len(clauses) > 0 {
		where += " AND " + strings.Join(clauses, " AND ")
	}
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM email_accounts WHERE `+where,
		append([]any{ids}, args...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count email accounts by ids: %w", err)
	}
	return n, nil
}

// CountAssignments feeds the dashboard.
func (s *Store) CountAssignments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM email_usage`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}
