package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pluginstore/internal/settings"
)

type reload struct {
	cfg     *Config
	changes []PluginChange
}

func TestWatcherReloads(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	current, err := Load(path)
	require.NoError(t, err)

	reloads := make(chan reload, 4)
	w, err := NewWatcher(path, current, func(cfg *Config, changes []PluginChange) {
		reloads <- reload{cfg, changes}
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	updated := `
log_level = "debug"

[plugins.pomodoro_timer.settings]
work_duration = 45
auto_start_breaks = true

[plugins.weather_enhanced]
enabled = true
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case r := <-reloads:
		assert.Equal(t, "debug", r.cfg.LogLevel)
		require.Len(t, r.changes, 2)
		assert.Equal(t, "pomodoro_timer", r.changes[0].ID)
		assert.True(t, settings.Equal(45, r.changes[0].Settings["work_duration"]))
		assert.Len(t, r.changes[0].Settings, 1)
		assert.Equal(t, "weather_enhanced", r.changes[1].ID)
		assert.True(t, r.changes[1].EnabledChanged)
		assert.True(t, r.changes[1].Enabled)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
}

func TestWatcherReportsErrors(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	current, err := Load(path)
	require.NoError(t, err)

	errs := make(chan error, 4)
	w, err := NewWatcher(path, current, func(*Config, []PluginChange) {
		t.Error("unexpected reload")
	}, WithDebounce(20*time.Millisecond), OnError(func(err error) { errs <- err }))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("log_level = \n"), 0o644))

	select {
	case err := <-errs:
		var perr *ParseError
		assert.ErrorAs(t, err, &perr)
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	current, err := Load(path)
	require.NoError(t, err)

	reloads := make(chan struct{}, 1)
	w, err := NewWatcher(path, current, func(*Config, []PluginChange) {
		reloads <- struct{}{}
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path+".bak", []byte("x"), 0o644))

	select {
	case <-reloads:
		t.Fatal("reloaded for an unrelated file")
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
