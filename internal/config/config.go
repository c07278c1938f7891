// Package config loads the host configuration.
//
// Configuration is one TOML file. Values from the environment override the
// file, and built-in defaults fill whatever neither sets:
//
//	log_level = "info"
//	data_dir = "/var/lib/pluginstore"
//	metrics_addr = ":9464"
//	plugin_dirs = ["./plugins"]
//
//	[plugins.pomodoro_timer]
//	enabled = true
//
//	[plugins.pomodoro_timer.settings]
//	work_duration = 25
//
// Plugin settings are overrides merged over each plugin's defaults. The
// Watcher reloads the file on change and reports per-plugin differences.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/settings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLUGINSTORE_"

// Environment variables read by Load.
const (
	EnvLogLevel    = EnvPrefix + "LOG_LEVEL"
	EnvDataDir     = EnvPrefix + "DATA_DIR"
	EnvMetricsAddr = EnvPrefix + "METRICS_ADDR"
	EnvPluginDirs  = EnvPrefix + "PLUGIN_DIRS" // os.PathListSeparator separated
)

// Errors returned by configuration operations.
var (
	// ErrValidationFailed indicates the configuration has an invalid value.
	ErrValidationFailed = errors.New("validation failed")
)

// Config is the host configuration.
type Config struct {
	LogLevel    string                  `toml:"log_level"`
	DataDir     string                  `toml:"data_dir"`
	MetricsAddr string                  `toml:"metrics_addr"`
	PluginDirs  []string                `toml:"plugin_dirs"`
	Plugins     map[string]PluginConfig `toml:"plugins"`
}

// PluginConfig configures one plugin.
type PluginConfig struct {
	// Enabled defaults to true when unset.
	Enabled  *bool        `toml:"enabled"`
	Settings settings.Map `toml:"settings"`
}

// IsEnabled reports whether the plugin should be activated.
func (p PluginConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		DataDir:    defaultDataDir(),
		PluginDirs: []string{"plugins"},
		Plugins:    map[string]PluginConfig{},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pluginstore")
	}
	return ".pluginstore"
}

// Plugin returns the configuration for id. Unknown plugins are enabled with
// no overrides.
func (c *Config) Plugin(id string) PluginConfig {
	return c.Plugins[id]
}

// Load reads the file at path over the defaults and applies environment
// overrides. A missing file is not an error. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := Parse(path, data, cfg); err != nil {
				return nil, err
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	applyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg. Keys absent from data keep their value.
func Parse(source string, data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvDataDir); ok {
		cfg.DataDir = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookup(EnvPluginDirs); ok {
		cfg.PluginDirs = filepath.SplitList(v)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("%w: log_level %q", ErrValidationFailed, c.LogLevel))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("%w: metrics_addr %q: %v", ErrValidationFailed, c.MetricsAddr, err))
		}
	}
	for i, dir := range c.PluginDirs {
		if strings.TrimSpace(dir) == "" {
			errs = append(errs, fmt.Errorf("%w: plugin_dirs[%d] is empty", ErrValidationFailed, i))
		}
	}
	return errors.Join(errs...)
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PluginChange is the difference in one plugin's configuration between
// two loads.
type PluginChange struct {
	ID string
	// Settings holds keys added or changed. Removed keys are not reported
	// since settings only merge.
	Settings settings.Map
	// EnabledChanged reports a flip of Enabled, whose new value is Enabled.
	EnabledChanged bool
	Enabled        bool
}

// Diff returns per-plugin changes from old to next, sorted by plugin id.
func Diff(old, next *Config) []PluginChange {
	ids := make(map[string]struct{})
	for id := range old.Plugins {
		ids[id] = struct{}{}
	}
	for id := range next.Plugins {
		ids[id] = struct{}{}
	}

	var changes []PluginChange
	for id := range ids {
		before, after := old.Plugin(id), next.Plugin(id)
		c := PluginChange{ID: id, Enabled: after.IsEnabled()}
		c.EnabledChanged = before.IsEnabled() != after.IsEnabled()
		for k, v := range after.Settings {
			if prev, ok := before.Settings[k]; ok && settings.Equal(prev, v) {
				continue
			}
			if c.Settings == nil {
				c.Settings = settings.Map{}
			}
			c.Settings[k] = v
		}
		if c.EnabledChanged || c.Settings != nil {
			changes = append(changes, c)
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}
