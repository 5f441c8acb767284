package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/api/schemas"
	"github.com/nhantruonghcmut/uitf/internal/browser"
	"github.com/nhantruonghcmut/uitf/internal/capture"
	"github.com/nhantruonghcmut/uitf/internal/config"
	"github.com/nhantruonghcmut/uitf/internal/device"
	"github.com/nhantruonghcmut/uitf/internal/history"
	"github.com/nhantruonghcmut/uitf/internal/notify"
	"github.com/nhantruonghcmut/uitf/internal/observability"
	"github.com/nhantruonghcmut/uitf/internal/reporting"
	"github.com/nhantruonghcmut/uitf/internal/runner"
)

var (
	runSuites   []string
	runWorkers  int
	runRetries  int
	runHeadless bool
	runInsecure bool
	runSerial   string
	runCapture  bool
	runOutput   string
	runFormats  []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute registered test suites.",
	Long: `Run executes the selected suites over a pool of workers. Each worker
owns one browser session, reused across its cases. Reports are written to
the output directory even when cases fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd)
		return executeRun(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringSliceVarP(&runSuites, "suite", "s", nil, "suite to run, repeatable (default all)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "worker concurrency")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "retry budget per case")
	runCmd.Flags().BoolVar(&runHeadless, "headless", true, "run the browser headless")
	runCmd.Flags().BoolVar(&runInsecure, "insecure", false, "ignore TLS certificate errors")
	runCmd.Flags().StringVar(&runSerial, "serial", "", "target device serial")
	runCmd.Flags().BoolVar(&runCapture, "capture", false, "record browser traffic into a HAR archive")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "report output directory")
	runCmd.Flags().StringSliceVarP(&runFormats, "format", "f", nil, "report format: json, junit, allure (repeatable)")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags folds explicitly-set flags into the config snapshot. Flags
// the user did not touch leave the resolved values alone.
func applyRunFlags(cmd *cobra.Command) {
	formats := runFormats
	if len(formats) == 0 {
		formats = cfg.Report().Formats
	}
	if len(formats) == 0 {
		formats = []string{"json"}
	}
	output := runOutput
	if output == "" {
		output = cfg.Report().Dir
	}
	cfg.SetRunConfig(config.RunConfig{
		Suites:      runSuites,
		Environment: environment,
		Platform:    platform,
		Output:      output,
		Formats:     formats,
		Concurrency: runWorkers,
	})

	if cmd.Flags().Changed("workers") {
		cfg.SetEngineWorkerConcurrency(runWorkers)
	}
	if cmd.Flags().Changed("retries") {
		cfg.SetEngineCaseRetries(runRetries)
	}
	if cmd.Flags().Changed("headless") {
		cfg.SetBrowserHeadless(runHeadless)
	}
	if cmd.Flags().Changed("insecure") {
		cfg.SetBrowserIgnoreTLSErrors(runInsecure)
	}
	if cmd.Flags().Changed("serial") {
		cfg.SetDeviceSerial(runSerial)
	}
	if cmd.Flags().Changed("capture") {
		cfg.SetCaptureEnabled(runCapture)
	}
}

func executeRun(parent context.Context) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cases := runner.Default.Select(cfg.Run().Suites)
	if len(cases) == 0 {
		return fmt.Errorf("no cases match the selected suites %v (registered: %v)",
			cfg.Run().Suites, runner.Default.Suites())
	}
	needWeb, needAndroid := platformsOf(cases)

	outputDir := cfg.Run().Output
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	collector, err := reporting.NewCollector(filepath.Join(outputDir, "attachments"))
	if err != nil {
		return err
	}

	var runnerOpts []runner.Option
	var recorder *capture.Recorder
	var browserOpts []browser.Option

	if needWeb && cfg.Capture().Enabled {
		recorder = capture.NewRecorder(cfg.Capture(), logger)
		addr, err := recorder.Start()
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := recorder.Stop(stopCtx); err != nil {
				logger.Warn("Failed to stop capture proxy.", zap.Error(err))
			}
		}()
		// MITM needs the browser to accept the proxy's certificates.
		cfg.SetBrowserIgnoreTLSErrors(true)
		browserOpts = append(browserOpts, browser.WithProxy(addr))
	}

	if needWeb {
		browsers := browser.NewManager(cfg.Browser(), logger, browserOpts...)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := browsers.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Browser shutdown reported an error.", zap.Error(err))
			}
		}()
		runnerOpts = append(runnerOpts, runner.WithBrowsers(browsers))
	}

	if needAndroid {
		driver := device.NewDriver(cfg.Device(), logger)
		if err := driver.ADB().WaitForDevice(ctx); err != nil {
			return err
		}
		runnerOpts = append(runnerOpts, runner.WithDriver(driver))

		logcatPath := cfg.Device().LogcatFile
		if logcatPath == "" {
			logcatPath = filepath.Join(outputDir, "logcat.txt")
		}
		logcat := device.NewLogcat(driver.ADB(), logcatPath, logger)
		if err := logcat.Start(ctx); err != nil {
			logger.Warn("Logcat capture unavailable.", zap.Error(err))
		} else {
			defer logcat.Stop()
			runnerOpts = append(runnerOpts, runner.WithLogcat(logcat))
		}
	}

	r := runner.New(cfg, collector, logger, runnerOpts...)
	run, runErr := r.Run(ctx, cases)

	// Reports are written no matter how the run ended; a failed run with no
	// report is useless to CI.
	if err := writeReports(run, outputDir, recorder, logger); err != nil {
		return err
	}
	persistRun(ctx, run, logger)
	notifyFailures(ctx, run, logger)

	if runErr != nil {
		return runErr
	}
	if run.Failed() {
		_, failed, _, _ := run.Counts()
		return fmt.Errorf("%d case(s) failed", failed)
	}
	return nil
}

func platformsOf(cases []runner.Case) (web, android bool) {
	for _, c := range cases {
		switch c.Platform {
		case schemas.PlatformWeb:
			web = true
		case schemas.PlatformAndroid:
			android = true
		}
	}
	return
}

func writeReports(run *schemas.RunResult, outputDir string, recorder *capture.Recorder, logger *zap.Logger) error {
	for _, format := range cfg.Run().Formats {
		path := filepath.Join(outputDir, reporting.DefaultFileName(format))
		rep, err := reporting.New(format, path)
		if err != nil {
			return err
		}
		writeErr := rep.Write(run)
		closeErr := rep.Close()
		if writeErr != nil {
			return writeErr
		}
		if closeErr != nil {
			return closeErr
		}
		logger.Info("Report written.", zap.String("format", format), zap.String("path", path))
	}

	if recorder != nil && recorder.EntryCount() > 0 {
		harPath := filepath.Join(outputDir, "traffic.har")
		if err := recorder.WriteFile(harPath); err != nil {
			logger.Warn("Failed to write HTTP archive.", zap.Error(err))
		} else {
			logger.Info("HTTP archive written.", zap.String("path", harPath))
		}
	}
	return nil
}

// persistRun saves the run to the history store when one is configured.
// History failures never fail the run.
func persistRun(ctx context.Context, run *schemas.RunResult, logger *zap.Logger) {
	url := cfg.Database().URL
	if url == "" {
		return
	}
	store, err := history.Connect(ctx, url, logger)
	if err != nil {
		logger.Warn("History store unavailable.", zap.Error(err))
		return
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Warn("Failed to ensure history schema.", zap.Error(err))
		return
	}
	if err := store.SaveRun(ctx, run); err != nil {
		logger.Warn("Failed to persist run history.", zap.Error(err))
	}
}

// notifyFailures files GitHub issues for hard failures when the notifier is
// enabled. Notification failures never fail the run.
func notifyFailures(ctx context.Context, run *schemas.RunResult, logger *zap.Logger) {
	gh := cfg.Notify().GitHub
	if !gh.Enabled || !run.Failed() {
		return
	}
	n := notify.NewNotifier(gh, logger)
	if err := n.NotifyFailures(ctx, run); err != nil {
		logger.Warn("Failure notification incomplete.", zap.Error(err))
	}
}
