package rallysync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/errors"
)

// backoff is a capped exponential delay schedule.
type backoff struct {
	base time.Duration
	max  time.Duration
}

// delay returns the wait before attempt+1, doubling from base.
func (b backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.max || d <= 0 {
			return b.max
		}
	}
	return min(d, b.max)
}

// retry runs op at most attempts times, retrying only transient failures.
// Each attempt gets its own timeout derived from ctx. The last error is
// returned when attempts run out.
func retry(ctx context.Context, attempts int, timeout time.Duration, b backoff, logger *zerolog.Logger, operation string, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		err = op(opCtx)
		cancel()

		if err == nil || !errors.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := b.delay(attempt)
		logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Dur("backoff", wait).
			Msg("Transient remote failure, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
