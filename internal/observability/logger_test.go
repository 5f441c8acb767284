package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/nhantruonghcmut/uitf/internal/config"
)

func TestInitializedLifecycle(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	assert.False(t, Initialized())
	Sync() // must be a no-op before initialization

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "uitf"}, zapcore.AddSync(&buf))
	assert.True(t, Initialized())

	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Info("hello")
	Sync()
	assert.Contains(t, buf.String(), "hello")
}

func TestInitializeHappensOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "uitf"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "other"}, zapcore.AddSync(&second))

	GetLogger().Info("routed")
	Sync()
	assert.Contains(t, first.String(), "routed")
	assert.Empty(t, second.String())
}

func TestGetLoggerFallsBackBeforeInit(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	assert.NotNil(t, GetLogger())
	assert.False(t, Initialized())
}
