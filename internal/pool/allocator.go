// Package pool hands out unused mailboxes to credentials exactly once.
// The unique primary key on email_usage(api_key_id, email_account_id) is
// the sole arbiter; lost races surface as AlreadyUsed and are retried by
// the route layer.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/scope"
	"github.com/mailpool/mailpool/internal/storage"
)

// Allocator implements allocation, reset, stats, and pool replacement.
type Allocator struct {
	db    *pgxpool.Pool
	store *storage.Store
}

func NewAllocator(db *pgxpool.Pool, store *storage.Store) *Allocator {
	return &Allocator{db: db, store: store}
}

// Stats summarizes a credential's pool.
type Stats struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// resolveGroup maps an optional group name to its id, enforcing the scope
// allow-list on explicit requests.
func (a *Allocator) resolveGroup(ctx context.Context, filter scope.Filter, groupName string) (*int64, error) {
	if groupName == "" {
		return nil, nil
	}
	group, err := a.store.GetGroupByName(ctx, groupName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to resolve group %q: %w", groupName, err)
	}
	if err := filter.CheckGroup(group.ID); err != nil {
		return nil, err
	}
	return &group.ID, nil
}

// Allocate picks the lowest-id active mailbox within scope that has not
// been assigned to this credential. Returns NoUnusedEmail when the pool
// is exhausted. The caller must follow up with MarkUsed.
func (a *Allocator) Allocate(ctx context.Context, key *storage.APIKey, groupName string) (*storage.EmailAccount, error) {
	filter := scope.FromAPIKey(key)
	groupID, err := a.resolveGroup(ctx, filter, groupName)
	if err != nil {
		return nil, err
	}

	clauses, args := filter.Clauses("e", groupID, 1)
	account, err := a.store.SelectUnassignedEmailAccount(ctx, key.ID, clauses, args)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrNoUnusedEmail
		}
		return nil, fmt.Errorf("failed to select unused mailbox: %w", err)
	}
	return account, nil
}

// MarkUsed claims the (credential, mailbox) pair. A primary-key conflict
// means another caller won the race: AlreadyUsed.
func (a *Allocator) MarkUsed(ctx context.Context, apiKeyID, emailAccountID int64) error {
	if err := a.store.InsertAssignment(ctx, apiKeyID, emailAccountID); err != nil {
		if storage.IsUniqueViolation(err) {
			return apperr.ErrAlreadyUsed
		}
		return fmt.Errorf("failed to mark mailbox used: %w", err)
	}
	return nil
}

// Reset removes the credential's assignments within scope and the optional
// group filter, returning how many were removed.
func (a *Allocator) Reset(ctx context.Context, key *storage.APIKey, groupName string) (int64, error) {
	filter := scope.FromAPIKey(key)
	groupID, err := a.resolveGroup(ctx, filter, groupName)
	if err != nil {
		return 0, err
	}

	clauses, args := filter.Clauses("e", groupID, 1)
	return a.store.DeleteAssignments(ctx, key.ID, clauses, args)
}

// PoolStats reports total / used / remaining for the credential's scope.
func (a *Allocator) PoolStats(ctx context.Context, key *storage.APIKey, groupName string) (Stats, error) {
	filter := scope.FromAPIKey(key)
	groupID, err := a.resolveGroup(ctx, filter, groupName)
	if err != nil {
		return Stats{}, err
	}

	clauses, args := filter.Clauses("e", groupID, 1)
	total, used, err := a.store.CountPool(ctx, key.ID, clauses, args)
	if err != nil {
		return Stats{}, err
	}

	remaining := total - used
	if remaining < 0 {
		remaining = 0
	}
	return Stats{Total: total, Used: used, Remaining: remaining}, nil
}

// Assigned lists the mailbox ids currently assigned to the credential.
func (a *Allocator) Assigned(ctx context.Context, apiKeyID int64) ([]int64, error) {
	return a.store.ListAssignedIDs(ctx, apiKeyID)
}

// Replace swaps the credential's assignment set for the supplied ids in one
// transaction. Every id must exist and lie within the credential's scope.
func (a *Allocator) Replace(ctx context.Context, key *storage.APIKey, ids []int64) error {
	filter := scope.FromAPIKey(key)
	if err := filter.CheckMailboxIDs(ids); err != nil {
		return err
	}

	if len(ids) > 0 {
		clauses, args := filter.Clauses("", nil, 1)
		n, err := a.store.CountEmailAccountsByIDs(ctx, ids, clauses, args)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			// Either a nonexistent id or one outside the group allow-list.
			return apperr.ErrEmailForbidden
		}
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin pool replacement: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := a.store.WithTx(tx)
	if err := txStore.DeleteAllAssignments(ctx, key.ID); err != nil {
		return err
	}
	for _, id := range ids {
		if err := txStore.InsertAssignment(ctx, key.ID, id); err != nil {
			return fmt.Errorf("failed to insert assignment %d: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pool replacement: %w", err)
	}
	return nil
}
