package tasks

import (
	"context"
	"fmt"
)

// newQueueSweepTask creates the task that reclaims queue events whose worker
// lease expired without an acknowledgement.
func newQueueSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "queue_sweep")

	return func(ctx context.Context) error {
		reclaimed, err := deps.Queue.SweepExpired(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Queue sweep failed", "error", err)
			return fmt.Errorf("queue sweep failed: %w", err)
		}
		if reclaimed > 0 {
			log.InfoContext(ctx, "Queue sweep reclaimed expired leases", "count", reclaimed)
		}
		return nil
	}
}
