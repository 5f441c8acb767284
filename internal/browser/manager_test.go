package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/config"
)

func TestNewManagerDefersLaunch(t *testing.T) {
	// Construction must not touch Chrome; only the first checkout does.
	m := NewManager(config.BrowserConfig{Headless: true}, zap.NewNop())
	assert.Nil(t, m.allocCtx)
	assert.Empty(t, m.sessions)
}

func TestWithProxy(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zap.NewNop(), WithProxy("127.0.0.1:8899"))
	assert.Equal(t, "127.0.0.1:8899", m.proxyAddr)
}

func TestDiscardUnknownWorkerIsNoop(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zap.NewNop())
	m.Discard(context.Background(), 7)
}

func TestShutdownWithoutSessions(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zap.NewNop())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestTrimFlag(t *testing.T) {
	assert.Equal(t, "disable-gpu", trimFlag("--disable-gpu"))
	assert.Equal(t, "disable-gpu", trimFlag("-disable-gpu"))
	assert.Equal(t, "disable-gpu", trimFlag("disable-gpu"))
	assert.Equal(t, "", trimFlag("--"))
}

func TestCombineContextCancelsWithSecondary(t *testing.T) {
	parent := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(parent, secondary)
	defer cancel()

	select {
	case <-combined.Done():
		t.Fatal("combined context done too early")
	default:
	}

	cancelSecondary()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled with secondary")
	}
}

func TestCombineContextCancelsWithParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	combined, cancel := CombineContext(parent, context.Background())
	defer cancel()

	cancelParent()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled with parent")
	}
}
