package verification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gardenhub/internal/metrics"
)

const DefaultSweepInterval = 5 * time.Minute

// RunSweeper removes expired codes every interval until ctx is cancelled.
// Sweep errors are logged and the loop keeps going.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("code sweeper stopped")
			return
		case <-ticker.C:
			removed, err := store.SweepExpired(ctx)
			if err != nil {
				logger.Error("sweep expired codes", zap.Error(err))
				continue
			}
			if removed > 0 {
				metrics.CodesSwept.Add(float64(removed))
				logger.Debug("swept expired codes", zap.Int("removed", removed))
			}
		}
	}
}
