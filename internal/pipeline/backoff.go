package pipeline

import (
	"context"
	"time"
)

// Backoff parameters for transient failures within a single tick.
// A tick never carries backoff state into the next tick.
const (
	backoffBase   = 100 * time.Millisecond
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	maxAttempts   = 4
)

// retry runs fn up to maxAttempts times with exponential backoff,
// stopping early on success or context cancellation. The last error
// is returned on exhaustion.
func retry(ctx context.Context, fn func() error) error {
	delay := backoffBase
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= backoffFactor
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return err
}
