package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process and hands out one Session per worker from
// a mutex-guarded cache. Sessions are reused across test cases on the same
// worker and closed only at shutdown.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	// proxyAddr, when set, routes all browser traffic through the capture
	// proxy.
	proxyAddr string

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[int]*Session

	// Initialization is deferred until the first checkout.
	initOnce sync.Once
	initErr  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithProxy routes browser traffic through the given proxy address.
func WithProxy(addr string) Option {
	return func(m *Manager) { m.proxyAddr = addr }
}

// NewManager creates a browser manager. The browser process is not started
// until the first session is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		sessions: make(map[int]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

// initialize builds the exec allocator that owns the Chrome process.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.",
			zap.Bool("headless", m.cfg.Headless),
			zap.String("proxy", m.proxyAddr))

		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", m.cfg.Headless),
			chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
		)
		if m.cfg.DisableCache {
			opts = append(opts, chromedp.Flag("disable-cache", true))
		}
		if m.cfg.IgnoreTLSErrors {
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
		if m.proxyAddr != "" {
			opts = append(opts, chromedp.ProxyServer(m.proxyAddr))
		}
		for _, arg := range m.cfg.Args {
			opts = append(opts, chromedp.Flag(trimFlag(arg), true))
		}

		// The allocator context must outlive ctx: sessions created later
		// hang off it. context.Background is deliberate here.
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return m.initErr
}

// Checkout returns the session bound to the given worker, creating it on
// first use. The cache is mutex-guarded; concurrent workers never share a
// tab.
func (m *Manager) Checkout(ctx context.Context, workerID int) (*Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[workerID]; ok {
		return s, nil
	}

	s, err := newSession(m.allocCtx, m.cfg, m.logger, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for worker %d: %w", workerID, err)
	}
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, workerID)
		m.mu.Unlock()
	}
	m.sessions[workerID] = s
	m.logger.Info("New browser session created.",
		zap.Int("worker", workerID), zap.String("session_id", s.ID()))
	return s, nil
}

// Discard closes and forgets the worker's session. Use when a session is
// wedged; the next Checkout creates a fresh tab.
func (m *Manager) Discard(ctx context.Context, workerID int) {
	m.mu.Lock()
	s, ok := m.sessions[workerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := s.Close(ctx); err != nil {
		m.logger.Warn("Error discarding session.", zap.Int("worker", workerID), zap.Error(err))
	}
}

// Shutdown closes every session and tears down the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(closeCtx); err != nil {
				m.logger.Warn("Error during session close in shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("All sessions closed gracefully.")
	case <-closeCtx.Done():
		m.logger.Warn("Timeout waiting for sessions to close.", zap.Error(closeCtx.Err()))
	}

	if m.allocCancel != nil {
		m.allocCancel()
	}
	return nil
}

// trimFlag strips a leading "--" so user-supplied args match chromedp's
// Flag convention.
func trimFlag(arg string) string {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	return arg
}
