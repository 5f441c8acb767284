package runner

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/api/schemas"
	"github.com/nhantruonghcmut/uitf/internal/config"
	"github.com/nhantruonghcmut/uitf/internal/reporting"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestRunner builds a runner with no drivers attached; cases that leave
// Platform empty exercise the engine without needing a browser or device.
func newTestRunner(t *testing.T, retries int) *Runner {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetEngineCaseRetries(retries)
	cfg.SetRunConfig(config.RunConfig{Environment: "unit"})

	collector, err := reporting.NewCollector(t.TempDir())
	require.NoError(t, err)
	return New(cfg, collector, zap.NewNop())
}

func driverlessCase(suite, name string, fn CaseFunc) Case {
	return Case{Suite: suite, Name: name, Fn: fn}
}

func findResult(t *testing.T, run *schemas.RunResult, name string) schemas.TestResult {
	t.Helper()
	for _, tr := range run.Results {
		if tr.Name == name {
			return tr
		}
	}
	t.Fatalf("no result named %q", name)
	return schemas.TestResult{}
}

func TestRunExecutesAllCases(t *testing.T) {
	r := newTestRunner(t, 0)

	var mu sync.Mutex
	seen := map[string]int{}
	mark := func(name string) CaseFunc {
		return func(ctx context.Context, t *T) error {
			mu.Lock()
			seen[name]++
			mu.Unlock()
			return nil
		}
	}

	cases := []Case{
		driverlessCase("s", "one", mark("one")),
		driverlessCase("s", "two", mark("two")),
		driverlessCase("s", "three", mark("three")),
	}
	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)

	assert.Len(t, run.Results, 3)
	passed, failed, skipped, broken := run.Counts()
	assert.Equal(t, 3, passed)
	assert.Zero(t, failed+skipped+broken)
	assert.Equal(t, map[string]int{"one": 1, "two": 1, "three": 1}, seen)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "unit", run.Environment)
}

func TestRunNoCases(t *testing.T) {
	r := newTestRunner(t, 0)
	_, err := r.Run(context.Background(), nil)
	assert.ErrorContains(t, err, "no cases selected")
}

func TestFailedCaseRecordsError(t *testing.T) {
	r := newTestRunner(t, 0)

	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "boom", func(ctx context.Context, t *T) error {
			return errors.New("banner not shown")
		}),
	})
	require.NoError(t, err)

	tr := findResult(t, run, "boom")
	assert.Equal(t, schemas.StatusFailed, tr.Status)
	assert.Contains(t, tr.Error, "banner not shown")
	assert.True(t, run.Failed())
}

func TestRetryTurnsFlakyCaseBroken(t *testing.T) {
	r := newTestRunner(t, 2)

	attempts := 0
	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "flaky", func(ctx context.Context, t *T) error {
			attempts++
			if attempts < 2 {
				return errors.New("first attempt fails")
			}
			return nil
		}),
	})
	require.NoError(t, err)

	tr := findResult(t, run, "flaky")
	assert.Equal(t, schemas.StatusBroken, tr.Status)
	assert.Equal(t, 1, tr.Retries)
	assert.Equal(t, 2, attempts)
	assert.False(t, run.Failed())
}

func TestRetryBudgetExhausted(t *testing.T) {
	r := newTestRunner(t, 1)

	attempts := 0
	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "hopeless", func(ctx context.Context, t *T) error {
			attempts++
			return errors.New("always fails")
		}),
	})
	require.NoError(t, err)

	tr := findResult(t, run, "hopeless")
	assert.Equal(t, schemas.StatusFailed, tr.Status)
	assert.Equal(t, 2, attempts)
}

func TestSkippedCase(t *testing.T) {
	r := newTestRunner(t, 3)

	attempts := 0
	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "skipped", func(ctx context.Context, t *T) error {
			attempts++
			return Skipf("feature flag off in %s", "unit")
		}),
	})
	require.NoError(t, err)

	tr := findResult(t, run, "skipped")
	assert.Equal(t, schemas.StatusSkipped, tr.Status)
	assert.Contains(t, tr.Error, "feature flag off")
	// Skips must not burn the retry budget.
	assert.Equal(t, 1, attempts)
}

func TestPanickingCaseFailsWithoutKillingWorker(t *testing.T) {
	r := newTestRunner(t, 0)

	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "panics", func(ctx context.Context, t *T) error {
			panic("nil map write")
		}),
		driverlessCase("s", "survives", func(ctx context.Context, t *T) error {
			return nil
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusFailed, findResult(t, run, "panics").Status)
	assert.Contains(t, findResult(t, run, "panics").Error, "case panicked")
	assert.Equal(t, schemas.StatusPassed, findResult(t, run, "survives").Status)
}

func TestStepsAreRecorded(t *testing.T) {
	r := newTestRunner(t, 0)

	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "steps", func(ctx context.Context, t *T) error {
			if err := t.Step(ctx, "open cart", func(ctx context.Context) error { return nil }); err != nil {
				return err
			}
			return t.Step(ctx, "pay", func(ctx context.Context) error {
				return errors.New("payment gateway 502")
			})
		}),
	})
	require.NoError(t, err)

	tr := findResult(t, run, "steps")
	require.Len(t, tr.Steps, 2)
	assert.Equal(t, "open cart", tr.Steps[0].Name)
	assert.Equal(t, schemas.StatusPassed, tr.Steps[0].Status)
	assert.Equal(t, schemas.StatusFailed, tr.Steps[1].Status)
	assert.Contains(t, tr.Error, `step "pay"`)
}

func TestAttachmentsSurviveSuccess(t *testing.T) {
	r := newTestRunner(t, 0)

	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "attaches", func(ctx context.Context, t *T) error {
			return t.Attach("console", schemas.AttachmentText, []byte("hello"))
		}),
	})
	require.NoError(t, err)

	tr := findResult(t, run, "attaches")
	require.Len(t, tr.Attachments, 1)
	assert.Equal(t, "console", tr.Attachments[0].Name)
	assert.Equal(t, int64(5), tr.Attachments[0].Size)
}

func TestCaseTimeoutEnforced(t *testing.T) {
	chdir(t, t.TempDir())
	resolver := config.NewResolver()
	require.NoError(t, resolver.LoadFile(""))
	resolver.SetOverride("engine.case_timeout", "20ms")
	cfg, err := resolver.Snapshot()
	require.NoError(t, err)

	collector, err := reporting.NewCollector(t.TempDir())
	require.NoError(t, err)
	r := New(cfg, collector, zap.NewNop())

	run, err := r.Run(context.Background(), []Case{
		driverlessCase("s", "too slow", func(ctx context.Context, t *T) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		}),
	})
	require.NoError(t, err)

	tr := findResult(t, run, "too slow")
	assert.Equal(t, schemas.StatusFailed, tr.Status)
	assert.Contains(t, tr.Error, "context deadline exceeded")
}

// chdir changes to dir for the duration of the test, matching t.Chdir,
// which requires a newer Go toolchain than this module builds with.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
