package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing framework configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Device() DeviceConfig
	Capture() CaptureConfig
	Report() ReportConfig
	Database() DatabaseConfig
	Notify() NotifyConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Engine setters
	SetEngineWorkerConcurrency(int)
	SetEngineCaseRetries(int)

	// Browser setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)

	// Device setters
	SetDeviceSerial(string)

	// Capture setters
	SetCaptureEnabled(bool)
}

// Config holds the entire framework configuration. Fields are private to
// force access through the Interface getters.
type Config struct {
	logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	device   DeviceConfig   `mapstructure:"device" yaml:"device"`
	capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	report   ReportConfig   `mapstructure:"report" yaml:"report"`
	database DatabaseConfig `mapstructure:"database" yaml:"database"`
	notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	// run gets its marching orders from CLI flags, not the config file.
	run RunConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface method implementations (getters) ---

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Engine() EngineConfig     { return c.engine }
func (c *Config) Browser() BrowserConfig   { return c.browser }
func (c *Config) Device() DeviceConfig     { return c.device }
func (c *Config) Capture() CaptureConfig   { return c.capture }
func (c *Config) Report() ReportConfig     { return c.report }
func (c *Config) Database() DatabaseConfig { return c.database }
func (c *Config) Notify() NotifyConfig     { return c.notify }
func (c *Config) Run() RunConfig           { return c.run }

// --- Interface method implementations (setters) ---

func (c *Config) SetRunConfig(rc RunConfig) { c.run = rc }

func (c *Config) SetEngineWorkerConcurrency(w int) { c.engine.WorkerConcurrency = w }
func (c *Config) SetEngineCaseRetries(n int)       { c.engine.CaseRetries = n }

func (c *Config) SetBrowserHeadless(b bool)        { c.browser.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.browser.IgnoreTLSErrors = b }

func (c *Config) SetDeviceSerial(s string) { c.device.Serial = s }

func (c *Config) SetCaptureEnabled(b bool) { c.capture.Enabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig configures the suite execution engine.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	CaseTimeout       time.Duration `mapstructure:"case_timeout" yaml:"case_timeout"`
	// CaseRetries is the per-case retry budget for flaky tests. A case that
	// fails and then passes within the budget is reported as broken.
	CaseRetries int `mapstructure:"case_retries" yaml:"case_retries"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// PollInterval paces element auto-wait loops in page objects.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// DeviceConfig holds settings for the Android (ADB) driver.
type DeviceConfig struct {
	ADBPath        string        `mapstructure:"adb_path" yaml:"adb_path"`
	Serial         string        `mapstructure:"serial" yaml:"serial"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// ConnectRetries bounds the connection-retry decorator around flaky ADB
	// transport errors; RetryDelay is the base of the linear backoff.
	ConnectRetries int           `mapstructure:"connect_retries" yaml:"connect_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	LogcatFile     string        `mapstructure:"logcat_file" yaml:"logcat_file"`
}

// CaptureConfig configures the HTTP capture proxy.
type CaptureConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr          string `mapstructure:"addr" yaml:"addr"`
	CaptureBodies bool   `mapstructure:"capture_bodies" yaml:"capture_bodies"`
	MaxBodySize   int64  `mapstructure:"max_body_size" yaml:"max_body_size"`
}

// ReportConfig configures the reporting pipeline.
type ReportConfig struct {
	Dir                 string   `mapstructure:"dir" yaml:"dir"`
	Formats             []string `mapstructure:"formats" yaml:"formats"`
	ScreenshotOnFailure bool     `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
	PageSourceOnFailure bool     `mapstructure:"page_source_on_failure" yaml:"page_source_on_failure"`
}

// DatabaseConfig holds the run-history store connection details. History is
// disabled when the URL is empty.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NotifyConfig is a container for post-run notifier settings.
type NotifyConfig struct {
	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`
}

// GitHubConfig defines the configuration for the GitHub failure notifier.
type GitHubConfig struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	Token     string   `mapstructure:"token" yaml:"-"`
	RepoOwner string   `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName  string   `mapstructure:"repo_name" yaml:"repo_name"`
	Labels    []string `mapstructure:"labels" yaml:"labels"`
}

// RunConfig holds settings populated from CLI flags for a specific run.
type RunConfig struct {
	Suites      []string
	Environment string
	Platform    string
	Output      string
	Formats     []string
	Concurrency int
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := unmarshalInto(v, &cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes the global defaults layer. These are the lowest
// precedence values in the resolver stack.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "uitf")
	v.SetDefault("logger.log_file", "uitf.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.case_timeout", "3m")
	v.SetDefault("engine.case_retries", 0)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.poll_interval", "250ms")

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.command_timeout", "30s")
	v.SetDefault("device.connect_retries", 3)
	v.SetDefault("device.retry_delay", "1s")

	// -- Capture --
	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.addr", "127.0.0.1:0")
	v.SetDefault("capture.capture_bodies", true)
	v.SetDefault("capture.max_body_size", 1<<20)

	// -- Report --
	v.SetDefault("report.dir", "uitf-results")
	v.SetDefault("report.formats", []string{"json"})
	v.SetDefault("report.screenshot_on_failure", true)
	v.SetDefault("report.page_source_on_failure", true)

	// -- Notify --
	v.SetDefault("notify.github.enabled", false)
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("notify.github.token", "UITF_GITHUB_TOKEN")
	v.BindEnv("database.url", "UITF_DATABASE_URL")

	if err := unmarshalInto(v, &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// unmarshalInto decodes a viper tree into the private-field Config. Viper
// cannot set unexported fields directly, so decode into a mirror and copy.
func unmarshalInto(v *viper.Viper, cfg *Config) error {
	var m struct {
		Logger   LoggerConfig   `mapstructure:"logger"`
		Engine   EngineConfig   `mapstructure:"engine"`
		Browser  BrowserConfig  `mapstructure:"browser"`
		Device   DeviceConfig   `mapstructure:"device"`
		Capture  CaptureConfig  `mapstructure:"capture"`
		Report   ReportConfig   `mapstructure:"report"`
		Database DatabaseConfig `mapstructure:"database"`
		Notify   NotifyConfig   `mapstructure:"notify"`
	}
	if err := v.Unmarshal(&m); err != nil {
		return err
	}
	cfg.logger = m.Logger
	cfg.engine = m.Engine
	cfg.browser = m.Browser
	cfg.device = m.Device
	cfg.capture = m.Capture
	cfg.report = m.Report
	cfg.database = m.Database
	cfg.notify = m.Notify
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.engine.CaseRetries < 0 {
		return fmt.Errorf("engine.case_retries must not be negative")
	}
	if c.device.ConnectRetries < 0 {
		return fmt.Errorf("device.connect_retries must not be negative")
	}
	if c.notify.GitHub.Enabled {
		if c.notify.GitHub.RepoOwner == "" || c.notify.GitHub.RepoName == "" {
			return fmt.Errorf("notify.github.repo_owner and notify.github.repo_name are required")
		}
		if c.notify.GitHub.Token == "" {
			return fmt.Errorf("GitHub token is required but not found. Ensure UITF_GITHUB_TOKEN is set")
		}
	}
	return nil
}
