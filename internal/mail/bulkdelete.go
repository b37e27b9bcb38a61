package mail

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const deleteConcurrency = 10

// bulkDelete removes messages concurrently and returns how many were
// actually deleted. Individual failures are logged and skipped so one
// stubborn message never aborts a clear.
func (g *GraphClient) bulkDelete(ctx context.Context, token string, ids []string, proxyCfg ProxyConfig) int64 {
	var deleted atomic.Int64
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(deleteConcurrency)

	for _, id := range ids {
		id := id
		group.Go(func() error {
			if err := g.Delete(ctx, token, id, proxyCfg); err != nil {
				slog.Warn("graph_delete_failed", "message_id", id, "error", err)
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	group.Wait()
	return deleted.Load()
}

// Clear deletes every message in the folder and reports the count.
func (g *GraphClient) Clear(ctx context.Context, token, folder string, proxyCfg ProxyConfig) (int64, error) {
	ids, err := g.ListIDs(ctx, token, folder, proxyCfg)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return g.bulkDelete(ctx, token, ids, proxyCfg), nil
}
