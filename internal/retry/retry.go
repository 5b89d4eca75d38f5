package retry

import (
	"context"
	"log/slog"
	"time"
)

// Strategy is a fixed per-provider delay table. Attempt i (1-based) sleeps
// Delays[i-1] first, reusing the last entry when attempts outrun the table.
type Strategy struct {
	MaxRetries int
	Delays     []time.Duration
}

// DefaultStrategy is the shared provider default: 3 retries at 1s/2s/5s.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxRetries: 3,
		Delays:     []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second},
	}
}

// Delay returns the sleep before the given retry attempt (1-based).
func (s Strategy) Delay(attempt int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Delays) {
		idx = len(s.Delays) - 1
	}
	return s.Delays[idx]
}

// Do runs fn up to MaxRetries+1 times. Failures classified as
// KindAPIError4xx or KindValidationError abort immediately; everything else
// retries until attempts are exhausted, then the last error is returned.
// The inter-attempt sleep honors ctx cancellation.
func Do[T any](ctx context.Context, strategy Strategy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= strategy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := strategy.Delay(attempt)
			slog.Warn("retrying after failure",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", strategy.MaxRetries),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		kind := Classify(err)
		if kind == KindAPIError4xx || kind == KindValidationError {
			slog.Error("non-retryable failure",
				slog.String("kind", string(kind)),
				slog.Any("error", err),
			)
			return zero, err
		}
	}

	return zero, lastErr
}
