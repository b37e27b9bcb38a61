package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const apiLogColumns = `id, action, api_key_id, email_account_id, client_ip,
	http_status, elapsed_ms, COALESCE(metadata, 'null'::jsonb), created_at`

func scanAPILog(row interface{ Scan(...any) error }) (*APILog, error) {
	var l APILog
	err := row.Scan(&l.ID, &l.Action, &l.APIKeyID, &l.EmailAccountID, &l.ClientIP,
		&l.HTTPStatus, &l.ElapsedMS, &l.Metadata, &l.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

type InsertAPILogParams struct {
	Action         string
	APIKeyID       *int64
	EmailAccountID *int64
	ClientIP       string
	HTTPStatus     int
	ElapsedMS      int64
	Metadata       map[string]any
}

func (s *Store) InsertAPILog(ctx context.Context, p InsertAPILogParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_logs (action, api_key_id, email_account_id, client_ip, http_status, elapsed_ms, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.Action, p.APIKeyID, p.EmailAccountID, p.ClientIP, p.HTTPStatus, p.ElapsedMS, p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to insert api log: %w", err)
	}
	return nil
}

type ListAPILogsParams struct {
	Action   string
	APIKeyID *int64
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// ListAPILogs returns log rows newest first, plus the total matching count
// for pagination.
func (s *Store) ListAPILogs(ctx context.Context, p ListAPILogsParams) ([]*APILog, int64, error) {
	var clauses []string
	var args []any
	if p.Action != "" {
		args = append(args, p.Action)
		clauses = append(clauses, fmt.Sprintf("action = $%d", len(args)))
	}
	if p.APIKeyID != nil {
		args = append(args, *p.APIKeyID)
		clauses = append(clauses, fmt.Sprintf("api_key_id = $%d", len(args)))
	}
	if p.Since != nil {
		args = append(args, *p.Since)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if p.Until != nil {
		args = append(args, *p.Until)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = ` WHERE ` + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM api_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count api logs: %w", err)
	}

	limit := p.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, p.Offset)
	query := fmt.Sprintf(`SELECT `+apiLogColumns+` FROM api_logs`+where+
		` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list api logs: %w", err)
	}
	defer rows.Close()

	var logs []*APILog
	for rows.Next() {
		l, err := scanAPILog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

// DeleteAPILogsBefore is the retention sweep.
func (s *Store) DeleteAPILogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired api logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountAPILogsSince feeds the dashboard's requests-today figure.
func (s *Store) CountAPILogsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM api_logs WHERE created_at >= $1`, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count api logs: %w", err)
	}
	return n, nil
}
