package scope

import (
	"errors"
	"testing"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckGroup(t *testing.T) {
	unrestricted := Filter{}
	assert.NoError(t, unrestricted.CheckGroup(9))

	f := Filter{GroupIDs: []int64{7}}
	assert.NoError(t, f.CheckGroup(7))

	err := f.CheckGroup(9)
	assert.True(t, errors.Is(err, apperr.ErrGroupForbidden))
}

func TestCheckMailboxIDs(t *testing.T) {
	unrestricted := Filter{}
	assert.NoError(t, unrestricted.CheckMailboxIDs([]int64{1, 2, 3}))

	f := Filter{EmailIDs: []int64{1, 2}}
	assert.NoError(t, f.CheckMailboxIDs([]int64{1, 2}))
	assert.True(t, errors.Is(f.CheckMailboxIDs([]int64{1, 3}), apperr.ErrEmailForbidden))
}

func TestCheckMailbox(t *testing.T) {
	unrestricted := Filter{}
	assert.NoError(t, unrestricted.CheckMailbox(&storage.EmailAccount{ID: 1}))

	g := int64(7)
	acct := &storage.EmailAccount{ID: 1, GroupID: &g}

	f := Filter{EmailIDs: []int64{1}}
	assert.NoError(t, f.CheckMailbox(acct))
	assert.True(t, errors.Is(f.CheckMailbox(&storage.EmailAccount{ID: 2}), apperr.ErrEmailForbidden))

	f = Filter{GroupIDs: []int64{7}}
	assert.NoError(t, f.CheckMailbox(acct))
	assert.True(t, errors.Is(f.CheckMailbox(&storage.EmailAccount{ID: 1}), apperr.ErrEmailForbidden))

	other := int64(9)
	assert.True(t, errors.Is(f.CheckMailbox(&storage.EmailAccount{ID: 1, GroupID: &other}), apperr.ErrEmailForbidden))
}

func TestClauses_Unrestricted(t *testing.T) {
	clauses, args := Filter{}.Clauses("e", nil, 0)
	assert.Empty(t, clauses)
	assert.Empty(t, args)
}

func TestClauses_GroupAllowList(t *testing.T) {
	f := Filter{GroupIDs: []int64{7, 8}}
	clauses, args := f.Clauses("e", nil, 0)
	require.Equal(t, []string{"e.group_id = ANY($1)"}, clauses)
	require.Len(t, args, 1)
	assert.Equal(t, []int64{7, 8}, args[0])
}

func TestClauses_ExplicitGroupNarrows(t *testing.T) {
	f := Filter{GroupIDs: []int64{7, 8}}
	g := int64(7)
	clauses, args := f.Clauses("e", &g, 0)
	require.Equal(t, []string{"e.group_id = $1"}, clauses)
	assert.Equal(t, []any{int64(7)}, args)
}

func TestClauses_EmailAllowListAndOffset(t *testing.T) {
	f := Filter{GroupIDs: []int64{7}, EmailIDs: []int64{1, 2}}
	clauses, args := f.Clauses("e", nil, 2)
	require.Equal(t, []string{"e.group_id = ANY($3)", "e.id = ANY($4)"}, clauses)
	require.Len(t, args, 2)
}

func TestClauses_NoAlias(t *testing.T) {
	f := Filter{EmailIDs: []int64{5}}
	clauses, _ := f.Clauses("", nil, 0)
	require.Equal(t, []string{"id = ANY($1)"}, clauses)
}

func TestFromAPIKey(t *testing.T) {
	key := &storage.APIKey{AllowedGroupIDs: []int64{1}, AllowedEmailIDs: []int64{2}}
	f := FromAPIKey(key)
	assert.Equal(t, []int64{1}, f.GroupIDs)
	assert.Equal(t, []int64{2}, f.EmailIDs)
}
