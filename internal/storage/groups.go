package storage

import (
	"context"
	"fmt"
)

const groupColumns = `id, name, description, fetch_strategy, created_at`

func scanGroup(row interface{ Scan(...any) error }) (*EmailGroup, error) {
	var g EmailGroup
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.FetchStrategy, &g.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *Store) GetGroupByID(ctx context.Context, id int64) (*EmailGroup, error) {
	row := s.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM email_groups WHERE id = $1`, id)
	return scanGroup(row)
}

func (s *Store) GetGroupByName(ctx context.Context, name string) (*EmailGroup, error) {
	row := s.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM email_groups WHERE name = $1`, name)
	return scanGroup(row)
}

func (s *Store) CreateGroup(ctx context.Context, name string, description *string, fetchStrategy string) (*EmailGroup, error) {
	if fetchStrategy == "" {
		fetchStrategy = StrategyGraphFirst
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO email_groups (name, description, fetch_strategy)
		VALUES ($1, $2, $3)
		RETURNING `+groupColumns, name, description, fetchStrategy)
	return scanGroup(row)
}

func (s *Store) UpdateGroup(ctx context.Context, id int64, name string, description *string, fetchStrategy string) (*EmailGroup, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE email_groups
		SET name = $2, description = $3, fetch_strategy = $4
		WHERE id = $1
		RETURNING `+groupColumns, id, name, description, fetchStrategy)
	return scanGroup(row)
}

// DeleteGroup removes the group; member mailboxes are kept with a nulled
// group_id (the FK is ON DELETE SET NULL).
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM email_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]*EmailGroup, error) {
	rows, err := s.db.Query(ctx, `SELECT `+groupColumns+` FROM email_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*EmailGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
