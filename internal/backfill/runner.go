package backfill

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

// BackfillPending discovers sessions with unprocessed records and
// backfills up to maxSessions of them through a bounded worker pool.
// Cancellation is honored between sessions only, never mid-session, so
// no session is ever left half-linked. Stats for completed sessions
// are returned even when the run is cut short.
func (e *Engine) BackfillPending(ctx context.Context, maxSessions, concurrency int) ([]models.BackfillStats, error) {
	if maxSessions <= 0 {
		maxSessions = 10
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	sessions, err := e.store.Records().PendingSessions(maxSessions)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		results []models.BackfillStats
	)
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for _, sessionID := range sessions {
		sessionID := sessionID
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stats, err := e.BackfillSession(ctx, sessionID)
			if err != nil {
				e.logger.Warn("session backfill failed", "session_id", sessionID, "error", err)
				stats.Issues = append(stats.Issues, err.Error())
			}
			mu.Lock()
			results = append(results, stats)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
