package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const maxBusyRetries = 3

// retryOnBusy retries a write with exponential backoff when SQLite reports a
// locked database. Other errors return immediately.
func retryOnBusy(ctx context.Context, fn func() error) error {
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxBusyRetries; i++ {
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if i < maxBusyRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("Database locked, retrying write", "attempt", i+1, "delay", delay)
			time.Sleep(delay)
		}
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
