package apilog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpool/mailpool/internal/storage"
)

type fakeLogStore struct {
	mu           sync.Mutex
	inserted     []storage.InsertAPILogParams
	insertErr    error
	deleteCutoff time.Time
	deleteCount  int64
	deleteErr    error
	block        chan struct{}
}

func (f *fakeLogStore) InsertAPILog(_ context.Context, p storage.InsertAPILogParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, p)
	return f.insertErr
}

func (f *fakeLogStore) DeleteAPILogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCutoff = cutoff
	return f.deleteCount, f.deleteErr
}

func TestRecorderWritesRequestID(t *testing.T) {
	store := &fakeLogStore{}
	rec := NewRecorder(store, slog.Default())

	keyID := int64(7)
	rec.Record(context.Background(), Entry{
		Action:     "get-email",
		APIKeyID:   &keyID,
		ClientIP:   "10.0.0.1",
		HTTPStatus: 200,
		Elapsed:    120 * time.Millisecond,
		RequestID:  "web-abc123-x1y2z3",
		Extra:      map[string]any{"group": "pool-a"},
	})

	require.Len(t, store.inserted, 1)
	got := store.inserted[0]
	assert.Equal(t, "get-email", got.Action)
	assert.Equal(t, int64(120), got.ElapsedMS)
	assert.Equal(t, "web-abc123-x1y2z3", got.Metadata["request_id"])
	assert.Equal(t, "pool-a", got.Metadata["group"])
}

func TestRecorderSwallowsInsertFailure(t *testing.T) {
	store := &fakeLogStore{insertErr: errors.New("db down")}
	rec := NewRecorder(store, slog.Default())

	// Must not panic or propagate.
	rec.Record(context.Background(), Entry{Action: "mail_all", HTTPStatus: 500})
	assert.Len(t, store.inserted, 1)
}

func TestRetentionSweepCutoff(t *testing.T) {
	store := &fakeLogStore{deleteCount: 3}
	job := NewRetentionJob(store, slog.Default(), 30, time.Hour)
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	require.True(t, job.Sweep(context.Background()))
	assert.Equal(t, now.Add(-30*24*time.Hour), store.deleteCutoff)
}

func TestRetentionSkipsOverlappingSweep(t *testing.T) {
	store := &fakeLogStore{block: make(chan struct{})}
	job := NewRetentionJob(store, slog.Default(), 30, time.Hour)

	done := make(chan struct{})
	go func() {
		job.Sweep(context.Background())
		close(done)
	}()

	// Wait until the first sweep holds the running flag.
	require.Eventually(t, func() bool { return job.running.Load() }, time.Second, time.Millisecond)
	assert.False(t, job.Sweep(context.Background()))

	close(store.block)
	<-done
	assert.True(t, job.Sweep(context.Background()))
}

func TestRetentionDefaults(t *testing.T) {
	job := NewRetentionJob(&fakeLogStore{}, slog.Default(), 0, 0)
	assert.Equal(t, 30*24*time.Hour, job.retention)
	assert.Equal(t, time.Hour, job.interval)
}
