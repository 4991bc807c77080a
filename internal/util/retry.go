package util

import (
	"context"
	"time"
)

// RetryIf calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay. It returns nil on the first successful call, the first error
// for which retryable returns false, or the last error if all attempts fail.
// Context cancellation between attempts returns ctx.Err().
func RetryIf(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
