package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy bounds retry behaviour for a single operation.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	JitterFrac  float64
	// Retryable classifies errors; nil means every error is retryable.
	Retryable func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.JitterFrac <= 0 {
		p.JitterFrac = 0.20
	}
	return p
}

// Do runs op up to MaxAttempts times with exponential backoff between
// attempts. It returns nil on the first success, the last error when
// attempts are exhausted or the error is not retryable, and the context
// error when the context ends mid-wait.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			return err
		}

		timer := time.NewTimer(Backoff(p, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// Backoff computes the wait before the attempt following the given one:
// MinBackoff doubled per attempt, capped at MaxBackoff, with ±JitterFrac
// jitter applied.
func Backoff(p Policy, attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	d := time.Duration(float64(p.MinBackoff) * math.Pow(2, float64(attempt-1)))
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}

	delta := float64(d) * p.JitterFrac
	low := float64(d) - delta
	if low < 0 {
		low = 0
	}
	high := float64(d) + delta
	return time.Duration(low + rand.Float64()*(high-low))
}
