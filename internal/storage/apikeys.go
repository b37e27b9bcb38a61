package storage

import (
	"context"
	"fmt"
	"time"
)

// NULL jsonb is coalesced to the JSON null literal so the codec yields nil
// maps/slices instead of a scan error.
const apiKeyColumns = `id, name, prefix, secret_digest, rate_per_minute, status, expires_at,
	COALESCE(permissions, 'null'::jsonb),
	COALESCE(allowed_group_ids, 'null'::jsonb),
	COALESCE(allowed_email_ids, 'null'::jsonb),
	usage_count, last_used_at, created_by, created_at, updated_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.Name, &k.Prefix, &k.SecretDigest, &k.RatePerMinute, &k.Status,
		&k.ExpiresAt, &k.Permissions, &k.AllowedGroupIDs, &k.AllowedEmailIDs,
		&k.UsageCount, &k.LastUsedAt, &k.CreatedBy, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &k, nil
}

// GetAPIKeyByDigest resolves inbound key material to a credential record.
func (s *Store) GetAPIKeyByDigest(ctx context.Context, digest string) (*APIKey, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE secret_digest = $1`, digest)
	return scanAPIKey(row)
}

func (s *Store) GetAPIKeyByID(ctx context.Context, id int64) (*APIKey, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanAPIKey(row)
}

// CreateAPIKeyParams carries the persisted fields; the raw secret never
// reaches storage.
type CreateAPIKeyParams struct {
	Name            string
	Prefix          string
	SecretDigest    string
	RatePerMinute   int
	ExpiresAt       *time.Time
	Permissions     map[string]bool
	AllowedGroupIDs []int64
	AllowedEmailIDs []int64
	CreatedBy       string
}

func (s *Store) CreateAPIKey(ctx context.Context, p CreateAPIKeyParams) (*APIKey, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO api_keys (name, prefix, secret_digest, rate_per_minute, expires_at,
			permissions, allowed_group_ids, allowed_email_ids, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+apiKeyColumns,
		p.Name, p.Prefix, p.SecretDigest, p.RatePerMinute, p.ExpiresAt,
		p.Permissions, p.AllowedGroupIDs, p.AllowedEmailIDs, p.CreatedBy)
	k, err := scanAPIKey(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}
	return k, nil
}

// UpdateAPIKeyParams updates the admin-mutable fields.
type UpdateAPIKeyParams struct {
	Name            string
	RatePerMinute   int
	Status          string
	ExpiresAt       *time.Time
	Permissions     map[string]bool
	AllowedGroupIDs []int64
	AllowedEmailIDs []int64
}

func (s *Store) UpdateAPIKey(ctx context.Context, id int64, p UpdateAPIKeyParams) (*APIKey, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE api_keys
		SET name = $2, rate_per_minute = $3, status = $4, expires_at = $5,
			permissions = $6, allowed_group_ids = $7, allowed_email_ids = $8,
			updated_at = now()
		WHERE id = $1
		RETURNING `+apiKeyColumns,
		id, p.Name, p.RatePerMinute, p.Status, p.ExpiresAt,
		p.Permissions, p.AllowedGroupIDs, p.AllowedEmailIDs)
	return scanAPIKey(row)
}

func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKeyUsage bumps the usage counter and last-used stamp after a
// successful identification.
func (s *Store) TouchAPIKeyUsage(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key usage: %w", err)
	}
	return nil
}
