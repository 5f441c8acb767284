package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/config"
)

// fakeRunner scripts process executions for tests.
type fakeRunner struct {
	calls   [][]string
	outputs []fakeResult
}

type fakeResult struct {
	out []byte
	err error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(f.outputs) == 0 {
		return nil, errors.New("fakeRunner: no scripted output")
	}
	res := f.outputs[0]
	f.outputs = f.outputs[1:]
	return res.out, res.err
}

func newTestADB(serial string, fake *fakeRunner) *ADB {
	cfg := config.DeviceConfig{
		ADBPath:        "adb",
		Serial:         serial,
		CommandTimeout: time.Second,
		ConnectRetries: 2,
		RetryDelay:     time.Millisecond,
	}
	a := NewADB(cfg, zap.NewNop())
	a.run = fake
	return a
}

func TestExecScopesSerial(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: []byte("ok\n")}}}
	a := newTestADB("emulator-5554", fake)

	out, err := a.Exec(context.Background(), "shell", "echo", "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{"adb", "-s", "emulator-5554", "shell", "echo", "ok"}, fake.calls[0])
}

func TestExecWithoutSerial(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: []byte("ok")}}}
	a := newTestADB("", fake)

	_, err := a.Exec(context.Background(), "shell", "echo", "ok")
	require.NoError(t, err)
	assert.Equal(t, []string{"adb", "shell", "echo", "ok"}, fake.calls[0])
}

func TestExecRetriesTransientFailure(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{
		{err: errors.New("adb: device offline")},
		{out: []byte("recovered")},
	}}
	a := newTestADB("emulator-5554", fake)

	out, err := a.Exec(context.Background(), "get-state")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Len(t, fake.calls, 2)
}

func TestExecPermanentFailureDoesNotRetry(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{
		{err: errors.New("unknown command frobnicate")},
	}}
	a := newTestADB("emulator-5554", fake)

	_, err := a.Exec(context.Background(), "frobnicate")
	assert.Error(t, err)
	assert.Len(t, fake.calls, 1)
}

func TestDevicesNotSerialScoped(t *testing.T) {
	out := "List of devices attached\nemulator-5554\tdevice\nRF8M12ABCDE\toffline\n* daemon started successfully\n"
	fake := &fakeRunner{outputs: []fakeResult{{out: []byte(out)}}}
	a := newTestADB("emulator-5554", fake)

	devices, err := a.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"adb", "devices"}, fake.calls[0])
	require.Len(t, devices, 2)
	assert.Equal(t, DeviceInfo{Serial: "emulator-5554", State: "device"}, devices[0])
	assert.Equal(t, DeviceInfo{Serial: "RF8M12ABCDE", State: "offline"}, devices[1])
}

func TestParseDevicesEmpty(t *testing.T) {
	assert.Empty(t, parseDevices("List of devices attached\n\n"))
}

func TestShellPrependsShell(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: []byte("Success")}}}
	a := newTestADB("", fake)

	out, err := a.Shell(context.Background(), "pm", "clear", "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "Success", out)
	assert.Equal(t, []string{"adb", "shell", "pm", "clear", "com.example.app"}, fake.calls[0])
}
