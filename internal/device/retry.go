package device

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// transientMarkers are substrings of adb error output that indicate the
// transport hiccuped rather than the command being wrong. Matching is by
// message because adb reports everything on stderr as free text.
var transientMarkers = []string{
	"device offline",
	"no devices/emulators found",
	"device not found",
	"connection reset",
	"protocol fault",
	"closed",
	"cannot connect to daemon",
	"broken pipe",
}

// IsTransient reports whether an error looks like a recoverable ADB
// transport failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retrier re-runs an operation when it fails with a transient transport
// error. Permanent errors return immediately; context cancellation always
// wins. Backoff is linear: delay, 2*delay, 3*delay...
type Retrier struct {
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

// NewRetrier builds a retrier. attempts is the number of retries after the
// first try; zero disables retrying entirely.
func NewRetrier(attempts int, delay time.Duration, logger *zap.Logger) *Retrier {
	if delay <= 0 {
		delay = time.Second
	}
	return &Retrier{attempts: attempts, delay: delay, logger: logger.Named("retry")}
}

// Do runs op, retrying transient failures within the budget.
func (r *Retrier) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(lastErr) || attempt >= r.attempts {
			return lastErr
		}

		wait := time.Duration(attempt+1) * r.delay
		r.logger.Warn("Transient device error, retrying.",
			zap.String("op", name),
			zap.Int("attempt", attempt+1),
			zap.Int("budget", r.attempts),
			zap.Duration("backoff", wait),
			zap.Error(lastErr))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
