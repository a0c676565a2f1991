package providers

import (
	"context"
	"time"
)

// base holds shared retry configuration for provider adapters.
type base struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

func newBase(name string, maxRetries int, retryDelay time.Duration) base {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return base{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// retry executes op, backing off linearly between retryable failures.
func (b *base) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
