package pool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/storage"
)

// uniqueInsertDB admits one assignment row per (credential, mailbox)
// pair and answers later inserts with the driver's unique violation,
// the way the email_usage primary key does.
type uniqueInsertDB struct {
	mu   sync.Mutex
	seen map[[2]int64]bool
}

func (d *uniqueInsertDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := [2]int64{args[0].(int64), args[1].(int64)}
	if d.seen[key] {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "email_usage_pkey"}
	}
	if d.seen == nil {
		d.seen = map[[2]int64]bool{}
	}
	d.seen[key] = true
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *uniqueInsertDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (d *uniqueInsertDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("unexpected query")
}

func TestMarkUsedConcurrentExactlyOnce(t *testing.T) {
	alloc := NewAllocator(nil, storage.New(&uniqueInsertDB{seen: map[[2]int64]bool{}}))

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = alloc.MarkUsed(context.Background(), 1, 42)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperr.ErrAlreadyUsed):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one racer may claim the mailbox")
	assert.Equal(t, workers-1, losses)
}

func TestMarkUsedSeparatePairsDoNotCollide(t *testing.T) {
	alloc := NewAllocator(nil, storage.New(&uniqueInsertDB{seen: map[[2]int64]bool{}}))
	ctx := context.Background()

	require.NoError(t, alloc.MarkUsed(ctx, 1, 42))
	require.NoError(t, alloc.MarkUsed(ctx, 2, 42), "another credential may hold the same mailbox")
	require.NoError(t, alloc.MarkUsed(ctx, 1, 43))

	err := alloc.MarkUsed(ctx, 1, 42)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyUsed))
}
