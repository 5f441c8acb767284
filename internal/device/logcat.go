package device

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
)

// maxBufferedLines caps the in-memory logcat ring so a chatty device cannot
// grow the run without bound.
const maxBufferedLines = 20000

type logcatLine struct {
	at   time.Time
	text string
}

// Logcat streams `adb logcat` into a per-run file and follows that file,
// keeping a bounded in-memory window. Reporters ask for the slice covering a
// failing test via CollectSince.
type Logcat struct {
	adb    *ADB
	path   string
	logger *zap.Logger

	cmd    *exec.Cmd
	cancel context.CancelFunc
	tailer *tail.Tail

	mu    sync.Mutex
	lines []logcatLine

	started bool
	wg      sync.WaitGroup
}

// NewLogcat builds a logcat capturer writing to path.
func NewLogcat(adb *ADB, path string, logger *zap.Logger) *Logcat {
	return &Logcat{
		adb:    adb,
		path:   path,
		logger: logger.Named("logcat"),
	}
}

// Start clears the device log buffer and begins streaming into the file.
func (l *Logcat) Start(ctx context.Context) error {
	if l.started {
		return fmt.Errorf("logcat capture already started")
	}

	// Clear the buffer so the file starts at the run boundary.
	if _, err := l.adb.Exec(ctx, "logcat", "-c"); err != nil {
		l.logger.Warn("Failed to clear logcat buffer.", zap.Error(err))
	}

	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("failed to create logcat file: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	args := l.adb.scoped([]string{"logcat", "-v", "time"})
	cmd := exec.CommandContext(streamCtx, l.adb.path, args...)
	cmd.Stdout = f
	cmd.Stderr = f
	if err := cmd.Start(); err != nil {
		cancel()
		f.Close()
		return fmt.Errorf("failed to start logcat stream: %w", err)
	}
	l.cmd = cmd
	l.cancel = cancel

	// Close the file once the stream process exits.
	go func() {
		_ = cmd.Wait()
		_ = f.Close()
	}()

	tailer, err := tail.TailFile(l.path, tail.Config{
		Follow: true,
		ReOpen: true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to follow logcat file: %w", err)
	}
	l.tailer = tailer

	l.wg.Add(1)
	go l.follow()

	l.started = true
	l.logger.Info("Logcat capture started.", zap.String("file", l.path))
	return nil
}

// follow drains the tailer into the bounded ring.
func (l *Logcat) follow() {
	defer l.wg.Done()
	for line := range l.tailer.Lines {
		if line == nil {
			continue
		}
		l.mu.Lock()
		l.lines = append(l.lines, logcatLine{at: time.Now(), text: line.Text})
		if len(l.lines) > maxBufferedLines {
			l.lines = l.lines[len(l.lines)-maxBufferedLines:]
		}
		l.mu.Unlock()
	}
}

// CollectSince returns the buffered log lines that arrived after t, joined
// with newlines. Used to attach the logcat window of a failing case.
func (l *Logcat) CollectSince(t time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	for _, line := range l.lines {
		if line.at.After(t) {
			b.WriteString(line.text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Stop terminates the stream and the follower.
func (l *Logcat) Stop() {
	if !l.started {
		return
	}
	if l.tailer != nil {
		_ = l.tailer.Stop()
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.started = false
	l.logger.Info("Logcat capture stopped.")
}
