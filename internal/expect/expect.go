// Package expect provides polling verification helpers. Conditions are
// re-evaluated until they hold or the deadline passes; all failures come
// back as errors, never panics, so callers decide whether a check is fatal.
package expect

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Condition is a single evaluation of a predicate. Returning an error means
// "not yet"; the poller keeps the last error for the timeout message.
type Condition func(ctx context.Context) error

// Eventually polls cond every interval until it succeeds or timeout elapses.
// The last condition error is wrapped into the timeout error.
func Eventually(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		lastErr = cond(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("condition not met within %v: %w", timeout, lastErr)
}

// Never polls cond for the full window and fails as soon as it succeeds.
// Useful for "this error banner must not appear" style checks.
func Never(ctx context.Context, window, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(window)

	for {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		err := cond(attemptCtx)
		cancel()
		if err == nil {
			return fmt.Errorf("condition held when it never should have")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TextReader resolves the current text of something addressable by selector.
// Both browser sessions and mobile pages satisfy this shape via adapters.
type TextReader func(ctx context.Context) (string, error)

// TextEquals builds a condition that passes when the read text matches want
// exactly (after trimming).
func TextEquals(read TextReader, want string) Condition {
	return func(ctx context.Context) error {
		got, err := read(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(got) != want {
			return fmt.Errorf("text is %q, want %q", strings.TrimSpace(got), want)
		}
		return nil
	}
}

// TextContains builds a condition that passes when the read text contains
// the given substring.
func TextContains(read TextReader, substr string) Condition {
	return func(ctx context.Context) error {
		got, err := read(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(got, substr) {
			return fmt.Errorf("text %q does not contain %q", got, substr)
		}
		return nil
	}
}
