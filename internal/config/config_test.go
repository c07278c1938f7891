package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pluginstore/internal/settings"
)

const sampleConfig = `
log_level = "debug"
metrics_addr = "127.0.0.1:9464"
plugin_dirs = ["/opt/plugins", "./local"]

[plugins.pomodoro_timer]
enabled = true

[plugins.pomodoro_timer.settings]
work_duration = 50
auto_start_breaks = true

[plugins.weather_enhanced]
enabled = false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pluginstore.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"plugins"}, cfg.PluginDirs)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Empty(t, cfg.MetricsAddr)
	assert.NoError(t, cfg.Validate())

	p := cfg.Plugin("anything")
	assert.True(t, p.IsEnabled())
	assert.Nil(t, p.Settings)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().LogLevel, cfg.LogLevel)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.NotNil(t, cfg.Plugins)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
	assert.Equal(t, []string{"/opt/plugins", "./local"}, cfg.PluginDirs)
	assert.NotEmpty(t, cfg.DataDir, "unset keys keep their default")

	pomo := cfg.Plugin("pomodoro_timer")
	assert.True(t, pomo.IsEnabled())
	assert.True(t, settings.Equal(50, pomo.Settings["work_duration"]))
	assert.Equal(t, true, pomo.Settings["auto_start_breaks"])

	assert.False(t, cfg.Plugin("weather_enhanced").IsEnabled())
}

func TestLoadParseError(t *testing.T) {
	path := writeConfig(t, "log_level = \"info\"\n= \"x\"\n")
	_, err := Load(path)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, path, perr.Path)
	assert.Equal(t, 2, perr.Line)
	assert.Contains(t, perr.Error(), "line 2")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvDataDir, "/tmp/ps-data")
	t.Setenv(EnvMetricsAddr, ":9999")
	t.Setenv(EnvPluginDirs, "a"+string(os.PathListSeparator)+"b")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/tmp/ps-data", cfg.DataDir)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
	assert.Equal(t, []string{"a", "b"}, cfg.PluginDirs)
}

func TestApplyEnvUnset(t *testing.T) {
	cfg := Default()
	applyEnv(cfg, func(string) (string, bool) { return "", false })
	assert.Equal(t, Default().LogLevel, cfg.LogLevel)
	assert.Equal(t, []string{"plugins"}, cfg.PluginDirs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "9464" }, "metrics_addr"},
		{"empty plugin dir", func(c *Config) { c.PluginDirs = []string{"ok", " "} }, "plugin_dirs[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.MetricsAddr = "nope"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "metrics_addr")
}

func TestDiff(t *testing.T) {
	off := false
	old := Default()
	old.Plugins["pomodoro_timer"] = PluginConfig{Settings: settings.Map{"work_duration": int64(25), "auto_start_work": false}}
	old.Plugins["theme"] = PluginConfig{Settings: settings.Map{"accent_color": "blue"}}

	next := Default()
	next.Plugins["pomodoro_timer"] = PluginConfig{Settings: settings.Map{"work_duration": int64(50), "auto_start_work": false}}
	next.Plugins["theme"] = PluginConfig{Settings: settings.Map{"accent_color": "blue"}}
	next.Plugins["calendar_sync"] = PluginConfig{Enabled: &off}

	changes := Diff(old, next)
	require.Len(t, changes, 2)

	assert.Equal(t, "calendar_sync", changes[0].ID)
	assert.True(t, changes[0].EnabledChanged)
	assert.False(t, changes[0].Enabled)
	assert.Nil(t, changes[0].Settings)

	assert.Equal(t, "pomodoro_timer", changes[1].ID)
	assert.False(t, changes[1].EnabledChanged)
	assert.Equal(t, settings.Map{"work_duration": int64(50)}, changes[1].Settings)
}

func TestDiffNumericTypes(t *testing.T) {
	old := Default()
	old.Plugins["weather_enhanced"] = PluginConfig{Settings: settings.Map{"update_interval": 300}}
	next := Default()
	next.Plugins["weather_enhanced"] = PluginConfig{Settings: settings.Map{"update_interval": int64(300)}}

	assert.Empty(t, Diff(old, next))
}
