package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDriver(fake *fakeRunner) *Driver {
	return &Driver{adb: newTestADB("", fake), logger: zap.NewNop()}
}

func TestTapSendsInputTap(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: nil}}}
	d := newTestDriver(fake)

	require.NoError(t, d.Tap(context.Background(), 120, 640))
	assert.Equal(t, []string{"adb", "shell", "input", "tap", "120", "640"}, fake.calls[0])
}

func TestInputTextEscapesSpaces(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: nil}}}
	d := newTestDriver(fake)

	require.NoError(t, d.InputText(context.Background(), "hello world again"))
	assert.Equal(t,
		[]string{"adb", "shell", "input", "text", "hello%sworld%sagain"},
		fake.calls[0])
}

func TestLaunchAppByComponent(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: nil}}}
	d := newTestDriver(fake)

	require.NoError(t, d.LaunchApp(context.Background(), "com.example.app/.MainActivity"))
	assert.Equal(t,
		[]string{"adb", "shell", "am", "start", "-n", "com.example.app/.MainActivity"},
		fake.calls[0])
}

func TestLaunchAppByPackage(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: nil}}}
	d := newTestDriver(fake)

	require.NoError(t, d.LaunchApp(context.Background(), "com.example.app"))
	assert.Equal(t,
		[]string{"adb", "shell", "monkey", "-p", "com.example.app", "-c", "android.intent.category.LAUNCHER", "1"},
		fake.calls[0])
}

func TestClearAppStateChecksOutput(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: []byte("Success\n")}}}
	d := newTestDriver(fake)
	require.NoError(t, d.ClearAppState(context.Background(), "com.example.app"))

	fake = &fakeRunner{outputs: []fakeResult{{out: []byte("Failed\n")}}}
	d = newTestDriver(fake)
	assert.ErrorContains(t, d.ClearAppState(context.Background(), "com.example.app"), "Failed")
}

func TestCurrentActivityParsesFocus(t *testing.T) {
	dumpsys := `
  mCurrentFocus=Window{8f4a2b1 u0 com.example.app/com.example.app.MainActivity}
  mFocusedApp=AppWindowToken{...}
`
	fake := &fakeRunner{outputs: []fakeResult{{out: []byte(dumpsys)}}}
	d := newTestDriver(fake)

	pkg, activity, err := d.CurrentActivity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", pkg)
	assert.Equal(t, "com.example.app.MainActivity", activity)
}

func TestCurrentActivityNoFocus(t *testing.T) {
	fake := &fakeRunner{outputs: []fakeResult{{out: []byte("mCurrentFocus=null")}}}
	d := newTestDriver(fake)

	_, _, err := d.CurrentActivity(context.Background())
	assert.Error(t, err)
}
