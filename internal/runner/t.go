package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/api/schemas"
	"github.com/nhantruonghcmut/uitf/internal/browser"
	"github.com/nhantruonghcmut/uitf/internal/device"
	"github.com/nhantruonghcmut/uitf/internal/reporting"
)

// ErrSkip marks a case as skipped. Return it (or a wrap of it) from a
// CaseFunc.
var ErrSkip = errors.New("case skipped")

// Skipf builds a skip error with a reason.
func Skipf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSkip}, args...)...)
}

// T is the per-case execution context handed to a CaseFunc. It carries the
// worker's drivers and collects steps and attachments for the result.
type T struct {
	worker    int
	logger    *zap.Logger
	session   *browser.Session
	driver    *device.Driver
	collector *reporting.Collector

	mu          sync.Mutex
	steps       []schemas.Step
	attachments []schemas.Attachment
}

// Worker returns the worker index executing this case.
func (t *T) Worker() int { return t.worker }

// Logger returns the case-scoped logger.
func (t *T) Logger() *zap.Logger { return t.logger }

// Session returns the worker's browser session. Nil for android suites.
func (t *T) Session() *browser.Session { return t.session }

// Driver returns the mobile driver. Nil for web suites.
func (t *T) Driver() *device.Driver { return t.driver }

// Step runs fn as a named step and records its outcome. The step error is
// returned unchanged so callers can propagate it.
func (t *T) Step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	started := time.Now()
	t.logger.Debug("Step started.", zap.String("step", name))
	err := fn(ctx)

	step := schemas.Step{
		Name:      name,
		Status:    schemas.StatusPassed,
		StartedAt: started,
		StoppedAt: time.Now(),
	}
	if err != nil {
		step.Status = schemas.StatusFailed
		step.Error = err.Error()
		t.logger.Warn("Step failed.", zap.String("step", name), zap.Error(err))
	}

	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("step %q: %w", name, err)
	}
	return nil
}

// Attach stores data as a named artifact on this case's result.
func (t *T) Attach(name string, typ schemas.AttachmentType, data []byte) error {
	att, err := t.collector.Save(name, typ, data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.attachments = append(t.attachments, att)
	t.mu.Unlock()
	return nil
}

// drain returns and clears the collected steps and attachments. Called by
// the runner between attempts so retries start clean.
func (t *T) drain() ([]schemas.Step, []schemas.Attachment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	steps, atts := t.steps, t.attachments
	t.steps, t.attachments = nil, nil
	return steps, atts
}
