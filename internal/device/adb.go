package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/config"
)

// runner abstracts process execution so the ADB wrapper can be tested
// without an adb binary on PATH.
type runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// adb writes its diagnostics to stderr; fold them into the error so
		// the retry classifier can see them.
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), msg, err)
	}
	return stdout.Bytes(), nil
}

// ADB is a serial-scoped wrapper around the adb binary. Every command runs
// under the configured timeout and through the connection-retry decorator.
type ADB struct {
	path    string
	serial  string
	timeout time.Duration
	logger  *zap.Logger
	retry   *Retrier
	run     runner
}

// NewADB builds the wrapper from device configuration.
func NewADB(cfg config.DeviceConfig, logger *zap.Logger) *ADB {
	log := logger.Named("adb")
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ADB{
		path:    cfg.ADBPath,
		serial:  cfg.Serial,
		timeout: timeout,
		logger:  log,
		retry:   NewRetrier(cfg.ConnectRetries, cfg.RetryDelay, log),
		run:     execRunner{},
	}
}

// Serial returns the device serial this wrapper is bound to, empty when the
// single connected device is used.
func (a *ADB) Serial() string { return a.serial }

// Exec runs an adb command and returns its stdout as a trimmed string.
func (a *ADB) Exec(ctx context.Context, args ...string) (string, error) {
	out, err := a.ExecRaw(ctx, args...)
	return strings.TrimSpace(string(out)), err
}

// ExecRaw runs an adb command and returns its raw stdout. Use for binary
// payloads such as screencap output.
func (a *ADB) ExecRaw(ctx context.Context, args ...string) ([]byte, error) {
	full := a.scoped(args)

	var out []byte
	err := a.retry.Do(ctx, args[0], func(ctx context.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		a.logger.Debug("Executing adb command.", zap.Strings("args", full))
		var runErr error
		out, runErr = a.run.Run(cmdCtx, a.path, full...)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Shell runs a shell command on the device.
func (a *ADB) Shell(ctx context.Context, parts ...string) (string, error) {
	return a.Exec(ctx, append([]string{"shell"}, parts...)...)
}

// DeviceInfo describes one entry of `adb devices`.
type DeviceInfo struct {
	Serial string
	State  string
}

// Devices lists the devices known to the adb server. This is the one command
// that is never serial-scoped.
func (a *ADB) Devices(ctx context.Context) ([]DeviceInfo, error) {
	var out []byte
	err := a.retry.Do(ctx, "devices", func(ctx context.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		var runErr error
		out, runErr = a.run.Run(cmdCtx, a.path, "devices")
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return parseDevices(string(out)), nil
}

// parseDevices extracts serial/state pairs from `adb devices` output.
func parseDevices(out string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, DeviceInfo{Serial: fields[0], State: fields[1]})
	}
	return devices
}

// Push copies a local file onto the device.
func (a *ADB) Push(ctx context.Context, local, remote string) error {
	_, err := a.Exec(ctx, "push", local, remote)
	return err
}

// Pull copies a file off the device.
func (a *ADB) Pull(ctx context.Context, remote, local string) error {
	_, err := a.Exec(ctx, "pull", remote, local)
	return err
}

// Forward sets up a local-to-device port forward.
func (a *ADB) Forward(ctx context.Context, local, remote string) error {
	_, err := a.Exec(ctx, "forward", local, remote)
	return err
}

// WaitForDevice blocks until the device is connected and responsive.
func (a *ADB) WaitForDevice(ctx context.Context) error {
	if _, err := a.Exec(ctx, "wait-for-device"); err != nil {
		return fmt.Errorf("device did not come online: %w", err)
	}
	return nil
}

// scoped prepends the -s flag when a serial is configured.
func (a *ADB) scoped(args []string) []string {
	if a.serial == "" {
		return args
	}
	return append([]string{"-s", a.serial}, args...)
}
