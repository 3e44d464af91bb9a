package presence

import (
	"context"
	"log/slog"
	"time"
)

// StartReaper runs a background goroutine that periodically sweeps the
// registry for sessions whose liveness has expired. It is the safety net for
// sessions whose owning process vanished without a close frame; missed
// heartbeats on the channel itself are the primary offline-detection path
// and operate on a much shorter time scale.
func StartReaper(ctx context.Context, reg *Registry, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", interval, "threshold", threshold)

		for {
			select {
			case <-ticker.C:
				sweepOnce(reg, threshold)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// sweepOnce performs one sweep. Any failure is caught and logged so a broken
// run can never take down the scheduler host or affect the next run.
func sweepOnce(reg *Registry, threshold time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Session reaper sweep failed", "panic", r)
		}
	}()

	removed := reg.SweepExpired(threshold, time.Now())
	if removed > 0 {
		slog.Info("Session reaper removed stale sessions", "count", removed)
	}
}
