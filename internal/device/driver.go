package device

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/config"
)

// Driver exposes mobile UI operations on top of the ADB wrapper. It is the
// Android counterpart of browser.Session.
type Driver struct {
	adb    *ADB
	logger *zap.Logger
}

// NewDriver builds a driver for the configured device.
func NewDriver(cfg config.DeviceConfig, logger *zap.Logger) *Driver {
	return &Driver{
		adb:    NewADB(cfg, logger),
		logger: logger.Named("device"),
	}
}

// ADB exposes the underlying wrapper for commands the driver does not model.
func (d *Driver) ADB() *ADB { return d.adb }

// Tap taps the screen at the given coordinates.
func (d *Driver) Tap(ctx context.Context, x, y int) error {
	if _, err := d.adb.Shell(ctx, "input", "tap", itoa(x), itoa(y)); err != nil {
		return fmt.Errorf("tap (%d,%d) failed: %w", x, y, err)
	}
	return nil
}

// Swipe swipes between two points over the given duration in milliseconds.
func (d *Driver) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	if _, err := d.adb.Shell(ctx, "input", "swipe",
		itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(durationMs)); err != nil {
		return fmt.Errorf("swipe failed: %w", err)
	}
	return nil
}

// InputText types text into the focused field. Spaces must be encoded as %s
// for `input text`.
func (d *Driver) InputText(ctx context.Context, text string) error {
	escaped := strings.ReplaceAll(text, " ", "%s")
	if _, err := d.adb.Shell(ctx, "input", "text", escaped); err != nil {
		return fmt.Errorf("input text failed: %w", err)
	}
	return nil
}

// PressKey sends an Android key event, e.g. 4 for BACK, 66 for ENTER.
func (d *Driver) PressKey(ctx context.Context, keycode int) error {
	if _, err := d.adb.Shell(ctx, "input", "keyevent", itoa(keycode)); err != nil {
		return fmt.Errorf("keyevent %d failed: %w", keycode, err)
	}
	return nil
}

// LaunchApp starts an application. component is either a bare package name
// (launched via monkey) or a package/activity pair (launched via am start).
func (d *Driver) LaunchApp(ctx context.Context, component string) error {
	var err error
	if strings.Contains(component, "/") {
		_, err = d.adb.Shell(ctx, "am", "start", "-n", component)
	} else {
		_, err = d.adb.Shell(ctx, "monkey", "-p", component, "-c", "android.intent.category.LAUNCHER", "1")
	}
	if err != nil {
		return fmt.Errorf("failed to launch '%s': %w", component, err)
	}
	d.logger.Info("App launched.", zap.String("component", component))
	return nil
}

// StopApp force-stops an application.
func (d *Driver) StopApp(ctx context.Context, pkg string) error {
	if _, err := d.adb.Shell(ctx, "am", "force-stop", pkg); err != nil {
		return fmt.Errorf("failed to stop '%s': %w", pkg, err)
	}
	return nil
}

// ClearAppState clears an application's data, resetting it to first-launch
// state.
func (d *Driver) ClearAppState(ctx context.Context, pkg string) error {
	out, err := d.adb.Shell(ctx, "pm", "clear", pkg)
	if err != nil {
		return fmt.Errorf("failed to clear state of '%s': %w", pkg, err)
	}
	if !strings.Contains(out, "Success") {
		return fmt.Errorf("pm clear '%s' reported: %s", pkg, out)
	}
	return nil
}

// Screenshot captures the screen as PNG via screencap. exec-out keeps the
// binary stream clean of shell CRLF mangling.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	png, err := d.adb.ExecRaw(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	return png, nil
}

// UIHierarchy dumps the current UI hierarchy as XML.
func (d *Driver) UIHierarchy(ctx context.Context) (string, error) {
	const remote = "/sdcard/uitf-window-dump.xml"
	if _, err := d.adb.Shell(ctx, "uiautomator", "dump", remote); err != nil {
		return "", fmt.Errorf("uiautomator dump failed: %w", err)
	}
	xml, err := d.adb.Shell(ctx, "cat", remote)
	if err != nil {
		return "", fmt.Errorf("failed to read hierarchy dump: %w", err)
	}
	return xml, nil
}

var focusRe = regexp.MustCompile(`mCurrentFocus=.*\s([\w.]+)/([\w.]+)[}\s]`)

// CurrentActivity returns the package and activity currently focused.
func (d *Driver) CurrentActivity(ctx context.Context) (pkg, activity string, err error) {
	out, err := d.adb.Shell(ctx, "dumpsys", "window", "windows")
	if err != nil {
		return "", "", fmt.Errorf("dumpsys window failed: %w", err)
	}
	m := focusRe.FindStringSubmatch(out)
	if m == nil {
		return "", "", fmt.Errorf("could not parse current focus from dumpsys output")
	}
	return m[1], m[2], nil
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }
