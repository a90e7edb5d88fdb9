package session

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically removes expired
// session entries. The bridge also sweeps opportunistically before each
// captcha fetch; this worker only bounds the lifetime of entries abandoned
// mid-flow (a caller that fetched a captcha and never logged in).
func StartSweeper(ctx context.Context, store Store) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", sweepInterval)

		for {
			select {
			case <-ticker.C:
				removed, err := store.Sweep(ctx)
				if err != nil {
					slog.Error("Session sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("Session sweep removed expired entries", "count", removed)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
