package fetch

import (
	"context"
	"log/slog"
	"time"
)

// Policy retries an operation with capped exponential backoff. Only transient
// failures are retried; the delay before attempt n is
// min(BaseDelay*2^(n-1), MaxDelay), so delays never decrease.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Log         *slog.Logger
}

// NewPolicy creates a Policy with the given budget. A nil logger falls back
// to slog.Default.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, log *slog.Logger) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Log:         log,
	}
}

// Do calls fn up to MaxAttempts times. It returns nil on the first success,
// the error itself when it is not transient, the context error when cancelled
// mid-backoff, and a *TerminalError once the budget is exhausted. Each retry
// is logged with the attempt count and the delay that preceded it.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	delay := p.BaseDelay
	var err error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		p.Log.Warn("transient fetch failure, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return &TerminalError{Op: op, Attempts: p.MaxAttempts, Err: err}
}
