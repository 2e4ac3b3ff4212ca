package service

import (
	"context"
	"log/slog"
	"time"
)

// RunCleanup deletes terminal sagas older than ageHours every interval until
// ctx is cancelled. It always returns nil so it can sit in an errgroup next
// to the HTTP server.
func (c *TransactionCoordinator) RunCleanup(ctx context.Context, interval time.Duration, ageHours int) error {
	if interval <= 0 || ageHours <= 0 {
		c.logger.InfoContext(ctx, "saga cleanup disabled")
		return nil
	}

	c.logger.InfoContext(ctx, "saga cleanup scheduled",
		slog.Duration("interval", interval),
		slog.Int("age_hours", ageHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.CleanupOldSagas(ctx, ageHours); err != nil {
				c.logger.WarnContext(ctx, "saga cleanup failed", slog.String("error", err.Error()))
			}
		}
	}
}
