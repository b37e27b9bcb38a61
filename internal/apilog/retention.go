package apilog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type retentionStore interface {
	DeleteAPILogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob periodically deletes call records older than the retention
// window. A running flag skips a tick if the previous sweep is still in
// flight.
type RetentionJob struct {
	store     retentionStore
	logger    *slog.Logger
	retention time.Duration
	interval  time.Duration
	running   atomic.Bool
	now       func() time.Time
}

func NewRetentionJob(store retentionStore, logger *slog.Logger, retentionDays int, interval time.Duration) *RetentionJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionJob{
		store:     store,
		logger:    logger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (j *RetentionJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("log_retention_started",
		"retention_days", int(j.retention/(24*time.Hour)),
		"interval", j.interval.String())

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("log_retention_stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one deletion pass. Returns false if a pass was already
// running.
func (j *RetentionJob) Sweep(ctx context.Context) bool {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Debug("log_retention_skipped", "reason", "previous sweep still running")
		return false
	}
	defer j.running.Store(false)

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.store.DeleteAPILogsBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("log_retention_failed", "error", err)
		return true
	}
	if deleted > 0 {
		j.logger.Info("log_retention_swept", "deleted", deleted, "cutoff", cutoff)
	}
	return true
}
