package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for configuration environment variables, e.g.
// UITF_BROWSER_HEADLESS overrides browser.headless.
const envPrefix = "UITF"

// Layer is one source of configuration values. Layers are consulted highest
// precedence first on every lookup; nothing is merged eagerly.
type Layer interface {
	Name() string
	Lookup(key string) (any, bool)
}

// Resolver resolves configuration keys through an ordered layer stack:
// defaults, config file, environment overlay, platform overlay, process
// environment, CLI overrides. Resolution is lazy: every Get walks the stack
// at call time, so an override registered after the file was loaded, or an
// overlay switched between test cases, is honored by all later lookups
// without rebuilding anything. That property is what keeps concurrently
// running cases isolated from each other's stale snapshots.
type Resolver struct {
	mu sync.RWMutex

	defaults *viper.Viper
	file     *viper.Viper

	environment string
	platform    string

	overrides map[string]any
}

// NewResolver builds a resolver with the global defaults layer populated.
func NewResolver() *Resolver {
	d := viper.New()
	SetDefaults(d)
	return &Resolver{
		defaults:  d,
		overrides: make(map[string]any),
	}
}

// LoadFile reads the config file layer. When path is empty the file is
// discovered in the current directory and then in ~/.uitf/. A missing file
// is not an error; the layer simply stays empty.
func (r *Resolver) LoadFile(path string) error {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("uitf")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".uitf"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			// No config file; defaults and env vars still apply.
			r.mu.Lock()
			r.file = v
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	r.mu.Lock()
	r.file = v
	r.mu.Unlock()
	return nil
}

// SetEnvironment activates the environments.<name> overlay.
func (r *Resolver) SetEnvironment(name string) {
	r.mu.Lock()
	r.environment = name
	r.mu.Unlock()
}

// SetPlatform activates the platforms.<name> overlay.
func (r *Resolver) SetPlatform(name string) {
	r.mu.Lock()
	r.platform = name
	r.mu.Unlock()
}

// Environment returns the active environment overlay name.
func (r *Resolver) Environment() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.environment
}

// Platform returns the active platform overlay name.
func (r *Resolver) Platform() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.platform
}

// SetOverride pins a key to a value at the highest precedence. Used for CLI
// flag overrides and per-test tweaks.
func (r *Resolver) SetOverride(key string, value any) {
	r.mu.Lock()
	r.overrides[normalizeKey(key)] = value
	r.mu.Unlock()
}

// ClearOverride removes a previously set override.
func (r *Resolver) ClearOverride(key string) {
	r.mu.Lock()
	delete(r.overrides, normalizeKey(key))
	r.mu.Unlock()
}

// Lookup resolves a key through the stack and reports which layer supplied
// the value. The precedence order, highest first: CLI overrides, process
// environment, platform overlay, environment overlay, config file, defaults.
func (r *Resolver) Lookup(key string) (any, string, bool) {
	key = normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if v, ok := r.overrides[key]; ok {
		return v, "override", true
	}
	if v, ok := lookupEnv(key); ok {
		return v, "env", true
	}
	if r.platform != "" && r.file != nil {
		if v := r.file.Get("platforms." + r.platform + "." + key); v != nil {
			return v, "platform", true
		}
	}
	if r.environment != "" && r.file != nil {
		if v := r.file.Get("environments." + r.environment + "." + key); v != nil {
			return v, "environment", true
		}
	}
	if r.file != nil && r.file.InConfig(key) {
		return r.file.Get(key), "file", true
	}
	if v := r.defaults.Get(key); v != nil {
		return v, "default", true
	}
	return nil, "", false
}

// Get resolves a key, returning nil when no layer defines it.
func (r *Resolver) Get(key string) any {
	v, _, _ := r.Lookup(key)
	return v
}

// GetString resolves a key as a string.
func (r *Resolver) GetString(key string) string { return cast.ToString(r.Get(key)) }

// GetInt resolves a key as an int.
func (r *Resolver) GetInt(key string) int { return cast.ToInt(r.Get(key)) }

// GetBool resolves a key as a bool.
func (r *Resolver) GetBool(key string) bool { return cast.ToBool(r.Get(key)) }

// GetDuration resolves a key as a duration.
func (r *Resolver) GetDuration(key string) time.Duration { return cast.ToDuration(r.Get(key)) }

// GetStringSlice resolves a key as a string slice.
func (r *Resolver) GetStringSlice(key string) []string { return cast.ToStringSlice(r.Get(key)) }

// Snapshot materializes the current resolution into a typed Config. The
// snapshot is a point-in-time copy; later overrides do not mutate it, which
// is exactly what a running session wants.
func (r *Resolver) Snapshot() (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	r.mu.RLock()
	if r.file != nil {
		for _, key := range r.file.AllKeys() {
			if strings.HasPrefix(key, "environments.") || strings.HasPrefix(key, "platforms.") {
				continue
			}
			v.Set(key, r.file.Get(key))
		}
		// Overlays are applied file-wide keys first, so they win.
		applyOverlay(v, r.file, "environments."+r.environment+".")
		applyOverlay(v, r.file, "platforms."+r.platform+".")
	}
	for _, key := range v.AllKeys() {
		if ev, ok := lookupEnv(key); ok {
			v.Set(key, ev)
		}
	}
	for key, val := range r.overrides {
		v.Set(key, val)
	}
	r.mu.RUnlock()

	return NewConfigFromViper(v)
}

// applyOverlay copies every key under the given prefix into v with the
// prefix stripped.
func applyOverlay(v *viper.Viper, src *viper.Viper, prefix string) {
	if strings.HasPrefix(prefix, "environments..") || strings.HasPrefix(prefix, "platforms..") {
		return // no overlay active
	}
	for _, key := range src.AllKeys() {
		if strings.HasPrefix(key, prefix) {
			v.Set(strings.TrimPrefix(key, prefix), src.Get(key))
		}
	}
}

// lookupEnv checks the process environment for UITF_<KEY> with dots replaced
// by underscores.
func lookupEnv(key string) (string, bool) {
	name := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	return os.LookupEnv(name)
}

// normalizeKey lowercases a dotted key and trims stray whitespace and
// separators so lookups are tolerant of sloppy callers.
func normalizeKey(key string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(key)), ".")
}
