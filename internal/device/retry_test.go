package device

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"offline", errors.New("adb: error: device offline"), true},
		{"no devices", errors.New("adb: no devices/emulators found"), true},
		{"daemon down", errors.New("cannot connect to daemon at tcp:5037"), true},
		{"broken pipe", fmt.Errorf("wrapped: %w", errors.New("write: broken pipe")), true},
		{"protocol fault", errors.New("protocol fault (couldn't read status)"), true},
		{"permanent", errors.New("unknown command frobnicate"), false},
		{"permission", errors.New("java.lang.SecurityException: Permission Denial"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestRetrierRecoversTransientFailure(t *testing.T) {
	r := NewRetrier(3, time.Millisecond, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), "shell", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("device offline")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierPermanentErrorReturnsImmediately(t *testing.T) {
	r := NewRetrier(3, time.Millisecond, zap.NewNop())

	calls := 0
	wantErr := errors.New("unknown command")
	err := r.Do(context.Background(), "shell", func(ctx context.Context) error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
}

func TestRetrierBudgetExhausted(t *testing.T) {
	r := NewRetrier(2, time.Millisecond, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), "shell", func(ctx context.Context) error {
		calls++
		return errors.New("device offline")
	})
	assert.ErrorContains(t, err, "device offline")
	// One initial try plus two retries.
	assert.Equal(t, 3, calls)
}

func TestRetrierZeroBudgetDisablesRetry(t *testing.T) {
	r := NewRetrier(0, time.Millisecond, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), "shell", func(ctx context.Context) error {
		calls++
		return errors.New("device offline")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	r := NewRetrier(10, 50*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, "shell", func(ctx context.Context) error {
		calls++
		return errors.New("device offline")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}
