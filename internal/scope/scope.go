// Package scope resolves a credential's allow-lists into mailbox query
// predicates. Keeping the predicate builder separate from the allocator
// makes the scope rules independently testable (and keeps raw SQL
// fragments out of business logic).
package scope

import (
	"fmt"
	"slices"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

// Filter is the resolved scope of one credential.
type Filter struct {
	GroupIDs []int64 // allowed group ids; empty means unrestricted
	EmailIDs []int64 // allowed mailbox ids; empty means unrestricted
}

// FromAPIKey builds the filter from a credential record.
func FromAPIKey(key *storage.APIKey) Filter {
	return Filter{GroupIDs: key.AllowedGroupIDs, EmailIDs: key.AllowedEmailIDs}
}

// CheckGroup validates an explicitly requested group against the allow-list.
// An unrestricted filter accepts any group.
func (f Filter) CheckGroup(groupID int64) error {
	if len(f.GroupIDs) == 0 || slices.Contains(f.GroupIDs, groupID) {
		return nil
	}
	return apperr.ErrGroupForbidden
}

// CheckMailboxIDs validates that every id lies within the resolved scope.
// Used by admin-side pool updates before replacing assignments.
func (f Filter) CheckMailboxIDs(ids []int64) error {
	if len(f.EmailIDs) == 0 {
		return nil
	}
	for _, id := range ids {
		if !slices.Contains(f.EmailIDs, id) {
			return apperr.ErrEmailForbidden
		}
	}
	return nil
}

// CheckMailbox validates a single looked-up account against both
// allow-lists. Named-address routes use this before touching the mailbox.
func (f Filter) CheckMailbox(acct *storage.EmailAccount) error {
	if len(f.EmailIDs) > 0 && !slices.Contains(f.EmailIDs, acct.ID) {
		return apperr.ErrEmailForbidden
	}
	if len(f.GroupIDs) > 0 {
		if acct.GroupID == nil || !slices.Contains(f.GroupIDs, *acct.GroupID) {
			return apperr.ErrEmailForbidden
		}
	}
	return nil
}

// Clauses renders the scope into SQL predicates over an email_accounts
// table aliased as alias. requestedGroup narrows to one group when the
// caller asked for it explicitly (the caller must run CheckGroup first);
// otherwise the group allow-list applies as a whole. Placeholders start at
// argOffset+1.
func (f Filter) Clauses(alias string, requestedGroup *int64, argOffset int) (clauses []string, args []any) {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}

	if requestedGroup != nil {
		args = append(args, *requestedGroup)
		clauses = append(clauses, fmt.Sprintf("%sgroup_id = $%d", prefix, argOffset+len(args)))
	} else if len(f.GroupIDs) > 0 {
		args = append(args, f.GroupIDs)
		clauses = append(clauses, fmt.Sprintf("%sgroup_id = ANY($%d)", prefix, argOffset+len(args)))
	}

	if len(f.EmailIDs) > 0 {
		args = append(args, f.EmailIDs)
		clauses = append(clauses, fmt.Sprintf("%sid = ANY($%d)", prefix, argOffset+len(args)))
	}

	return clauses, args
}
