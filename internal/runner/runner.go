package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhantruonghcmut/uitf/api/schemas"
	"github.com/nhantruonghcmut/uitf/internal/browser"
	"github.com/nhantruonghcmut/uitf/internal/config"
	"github.com/nhantruonghcmut/uitf/internal/device"
	"github.com/nhantruonghcmut/uitf/internal/reporting"
)

// Runner drives the selected cases across a fixed pool of workers. Each
// worker owns at most one browser session, checked out from the manager and
// reused across its cases.
type Runner struct {
	cfg       config.Interface
	browsers  *browser.Manager
	driver    *device.Driver
	logcat    *device.Logcat
	collector *reporting.Collector
	logger    *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithBrowsers provides the browser manager for web cases.
func WithBrowsers(m *browser.Manager) Option {
	return func(r *Runner) { r.browsers = m }
}

// WithDriver provides the mobile driver for android cases.
func WithDriver(d *device.Driver) Option {
	return func(r *Runner) { r.driver = d }
}

// WithLogcat enables logcat slices as failure attachments for android cases.
func WithLogcat(l *device.Logcat) Option {
	return func(r *Runner) { r.logcat = l }
}

// New builds a runner.
func New(cfg config.Interface, collector *reporting.Collector, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		collector: collector,
		logger:    logger.Named("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the cases and returns the aggregated result. Test failures
// are recorded in the result, not returned as an error; the error covers
// infrastructure breakage only.
func (r *Runner) Run(ctx context.Context, cases []Case) (*schemas.RunResult, error) {
	run := &schemas.RunResult{
		RunID:       uuid.New().String(),
		Environment: r.cfg.Run().Environment,
		StartedAt:   time.Now(),
	}
	if len(cases) == 0 {
		return run, fmt.Errorf("no cases selected")
	}

	concurrency := r.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(cases) {
		concurrency = len(cases)
	}

	r.logger.Info("Run starting.",
		zap.String("run_id", run.RunID),
		zap.Int("cases", len(cases)),
		zap.Int("workers", concurrency))

	jobs := make(chan Case)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < concurrency; worker++ {
		worker := worker
		g.Go(func() error {
			for c := range jobs {
				result, err := r.executeCase(gctx, worker, c)
				if err != nil {
					return err
				}
				mu.Lock()
				run.Results = append(run.Results, result)
				mu.Unlock()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, c := range cases {
			select {
			case jobs <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	run.Duration = time.Since(run.StartedAt)

	passed, failed, skipped, broken := run.Counts()
	r.logger.Info("Run finished.",
		zap.String("run_id", run.RunID),
		zap.Int("passed", passed),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Int("broken", broken),
		zap.Duration("duration", run.Duration))
	return run, err
}

// executeCase runs one case with the configured retry budget. A case that
// fails and then passes within the budget is reported as broken, the
// flakiness signal the history store tracks.
func (r *Runner) executeCase(ctx context.Context, worker int, c Case) (schemas.TestResult, error) {
	result := schemas.TestResult{
		ID:        uuid.New().String(),
		Suite:     c.Suite,
		Name:      c.Name,
		Platform:  c.Platform,
		StartedAt: time.Now(),
	}
	caseLogger := r.logger.With(
		zap.String("suite", c.Suite),
		zap.String("case", c.Name),
		zap.Int("worker", worker))

	retries := r.cfg.Engine().CaseRetries
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		t := &T{
			worker:    worker,
			logger:    caseLogger,
			driver:    r.driver,
			collector: r.collector,
		}

		if c.Platform == schemas.PlatformWeb {
			if r.browsers == nil {
				return result, fmt.Errorf("case %s/%s needs a browser but none is configured", c.Suite, c.Name)
			}
			session, err := r.browsers.Checkout(ctx, worker)
			if err != nil {
				return result, fmt.Errorf("failed to check out browser for worker %d: %w", worker, err)
			}
			t.session = session
		}
		if c.Platform == schemas.PlatformAndroid && r.driver == nil {
			return result, fmt.Errorf("case %s/%s needs a device but none is configured", c.Suite, c.Name)
		}

		attemptStart := time.Now()
		lastErr = r.runAttempt(ctx, c, t)
		steps, attachments := t.drain()

		if errors.Is(lastErr, ErrSkip) {
			result.Status = schemas.StatusSkipped
			result.Error = lastErr.Error()
			result.Steps = steps
			break
		}
		if lastErr == nil {
			if attempt > 0 {
				result.Status = schemas.StatusBroken
				caseLogger.Warn("Case passed after retry.", zap.Int("attempt", attempt))
			} else {
				result.Status = schemas.StatusPassed
			}
			result.Retries = attempt
			result.Steps = steps
			result.Attachments = append(result.Attachments, attachments...)
			break
		}

		caseLogger.Warn("Case attempt failed.",
			zap.Int("attempt", attempt),
			zap.Duration("took", time.Since(attemptStart)),
			zap.Error(lastErr))

		// Keep the artifacts of the failing attempt; a later green attempt
		// should not erase the evidence.
		result.Status = schemas.StatusFailed
		result.Error = lastErr.Error()
		result.Retries = attempt
		result.Steps = steps
		result.Attachments = append(result.Attachments, attachments...)
		r.collectFailureArtifacts(c, t, attemptStart, &result)

		if attempt < retries {
			// A wedged session poisons every later attempt on this worker.
			if c.Platform == schemas.PlatformWeb && r.browsers != nil {
				r.browsers.Discard(ctx, worker)
			}
			continue
		}
	}

	result.Duration = time.Since(result.StartedAt)
	return result, nil
}

// runAttempt executes the case body under the per-case timeout, converting
// panics into failures so one bad case cannot take the worker down.
func (r *Runner) runAttempt(ctx context.Context, c Case, t *T) (err error) {
	timeout := r.cfg.Engine().CaseTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	caseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("case panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return c.Fn(caseCtx, t)
}

// collectFailureArtifacts grabs the configured evidence for a failed
// attempt. Collection errors are logged, never fatal.
func (r *Runner) collectFailureArtifacts(c Case, t *T, since time.Time, result *schemas.TestResult) {
	report := r.cfg.Report()

	// Artifact collection gets its own deadline; the case context may
	// already be expired.
	artCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch c.Platform {
	case schemas.PlatformWeb:
		if t.session == nil {
			return
		}
		if report.ScreenshotOnFailure {
			if png, err := t.session.Screenshot(artCtx, true); err != nil {
				r.logger.Warn("Failed to capture failure screenshot.", zap.Error(err))
			} else if att, err := r.collector.Save(c.Name+"-failure", schemas.AttachmentScreenshot, png); err == nil {
				result.Attachments = append(result.Attachments, att)
			}
		}
		if report.PageSourceOnFailure {
			if source, err := t.session.PageSource(artCtx); err != nil {
				r.logger.Warn("Failed to capture page source.", zap.Error(err))
			} else if att, err := r.collector.SavePageSource(c.Name+"-page", source); err == nil {
				result.Attachments = append(result.Attachments, att)
			}
		}
	case schemas.PlatformAndroid:
		if r.driver == nil {
			return
		}
		if report.ScreenshotOnFailure {
			if png, err := r.driver.Screenshot(artCtx); err != nil {
				r.logger.Warn("Failed to capture device screenshot.", zap.Error(err))
			} else if att, err := r.collector.Save(c.Name+"-failure", schemas.AttachmentScreenshot, png); err == nil {
				result.Attachments = append(result.Attachments, att)
			}
		}
		if r.logcat != nil {
			if slice := r.logcat.CollectSince(since); slice != "" {
				if att, err := r.collector.Save(c.Name+"-logcat", schemas.AttachmentLogcat, []byte(slice)); err == nil {
					result.Attachments = append(result.Attachments, att)
				}
			}
		}
	}
}
