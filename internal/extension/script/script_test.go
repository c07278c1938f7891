package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pluginstore/internal/notify"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/schedule"
)

const counterScript = `
count = 0

function init()
  log("counter loaded")
end

function refresh(settings)
  count = count + 1
  if count == 2 then
    notify("Counter", "second refresh")
  end
  return {count = count, label = settings.label}
end

function release()
  publish("bye", {count = count})
end
`

// writePlugin lays out a plugin directory and reads its manifest back.
func writePlugin(t *testing.T, manifest, main string) *plugin.Manifest {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "counter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestJSON), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(main), 0o644))

	m, err := plugin.ReadManifest(afero.NewOsFs(), dir)
	require.NoError(t, err)
	return m
}

type harness struct {
	host    *plugin.Host
	timer   *schedule.ManualTimer
	sink    *notify.Recorder
	updates []plugin.Update
}

func newHarness(t *testing.T, main string) *harness {
	t.Helper()
	m := writePlugin(t, `{
		// comments are allowed
		"id": "counter",
		"version": "0.2.0",
		"settings": {"interval": 10, "label": "hits"},
	}`, main)

	h := &harness{sink: &notify.Recorder{}}
	env := plugin.Env{
		Timer: func(string) schedule.Timer {
			h.timer = schedule.NewManualTimer()
			return h.timer
		},
		Sink:    h.sink,
		Updates: func(u plugin.Update) { h.updates = append(h.updates, u) },
	}
	h.host = plugin.NewHost(New(m)())
	require.NoError(t, h.host.Initialize(env.For("counter")))
	return h
}

func TestDefaultSettingsMergeManifest(t *testing.T) {
	h := newHarness(t, counterScript)
	s := h.host.Settings()
	assert.Equal(t, true, s[KeyEnabled])
	assert.EqualValues(t, 10, s[KeyInterval])
	assert.Equal(t, "hits", s["label"])
	assert.Equal(t, "0.2.0", h.host.Info().Version)
}

func TestScriptLifecycle(t *testing.T) {
	h := newHarness(t, counterScript)

	require.NoError(t, h.host.Activate())
	require.Len(t, h.updates, 1)
	assert.Equal(t, "refresh", h.updates[0].Kind)
	assert.Equal(t, "counter", h.updates[0].Plugin)
	assert.Equal(t, map[string]any{"count": int64(1), "label": "hits"}, h.updates[0].Data)
	assert.Equal(t, 10*time.Second, h.timer.Interval())

	h.timer.Advance(10 * time.Second)
	require.Len(t, h.updates, 2)
	assert.Equal(t, []string{"Counter"}, h.sink.Titles())

	require.NoError(t, h.host.Deactivate())
	assert.False(t, h.timer.Running())

	require.NoError(t, h.host.Cleanup())
	last := h.updates[len(h.updates)-1]
	assert.Equal(t, "bye", last.Kind)
	assert.Equal(t, int64(2), last.Data["count"])
}

func TestScriptIntervalChange(t *testing.T) {
	h := newHarness(t, counterScript)
	require.NoError(t, h.host.Activate())

	require.NoError(t, h.host.UpdateSettings(map[string]any{KeyInterval: 30}))
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second}, h.timer.Starts())

	require.NoError(t, h.host.UpdateSettings(map[string]any{KeyEnabled: false}))
	assert.False(t, h.timer.Running())
}

func TestScriptSettingsChangeWhileDisabled(t *testing.T) {
	h := newHarness(t, counterScript)
	require.NoError(t, h.host.Activate())
	require.NoError(t, h.host.Deactivate())

	require.NoError(t, h.host.UpdateSettings(map[string]any{KeyInterval: 5}))
	assert.False(t, h.timer.Running())

	require.NoError(t, h.host.Activate())
	assert.Equal(t, 5*time.Second, h.timer.Interval())
}

func TestScriptRefreshError(t *testing.T) {
	h := newHarness(t, `function refresh() error("no data") end`)

	err := h.host.Activate()
	require.ErrorIs(t, err, plugin.ErrSchedule)
	assert.Equal(t, plugin.StateError, h.host.State())
	assert.False(t, h.timer.Running())
}

func TestScriptLoadError(t *testing.T) {
	m := writePlugin(t, `{"id": "counter"}`, `this is not lua`)
	host := plugin.NewHost(New(m)())

	err := host.Initialize(plugin.Env{}.For("counter"))
	require.ErrorIs(t, err, plugin.ErrInitialization)
	assert.Equal(t, plugin.StateError, host.State())
}

func TestScriptTimeout(t *testing.T) {
	m := writePlugin(t, `{"id": "counter"}`, `function refresh() while true do end end`)
	host := plugin.NewHost(New(m, WithTimeout(20*time.Millisecond))())
	require.NoError(t, host.Initialize(plugin.Env{}.For("counter")))

	err := host.Activate()
	assert.ErrorIs(t, err, plugin.ErrSchedule)
	assert.Contains(t, err.Error(), "timeout")
}

func TestScriptWithoutRefresh(t *testing.T) {
	h := newHarness(t, `x = 1`)
	require.NoError(t, h.host.Activate())
	assert.Empty(t, h.updates)
	assert.True(t, h.timer.Running())

	h.timer.Advance(time.Minute)
	assert.Empty(t, h.updates)
}

func TestScriptExtra(t *testing.T) {
	h := newHarness(t, counterScript)
	require.NoError(t, h.host.Activate())

	d := h.host.Info()
	assert.Equal(t, "init.lua", d.Extra["script"])
	assert.Equal(t, 1, d.Extra["refreshes"])
	assert.Equal(t, []string{"host"}, d.Extra["capabilities"])
}

func TestScriptCapabilities(t *testing.T) {
	m := writePlugin(t, `{"id": "counter", "capabilities": ["host.publish"]}`, `
function refresh()
  publish("tick", {n = 1})
  notify("not", "allowed")
end
`)
	var updates []plugin.Update
	rec := &notify.Recorder{}
	env := plugin.Env{Sink: rec, Updates: func(u plugin.Update) { updates = append(updates, u) }}
	host := plugin.NewHost(New(m)())
	require.NoError(t, host.Initialize(env.For("counter")))

	err := host.Activate()
	require.ErrorIs(t, err, plugin.ErrSchedule)
	assert.Contains(t, err.Error(), `capability "host.notify" required for notify`)
	require.Len(t, updates, 1)
	assert.Equal(t, "tick", updates[0].Kind)
	assert.Empty(t, rec.All())
}

func TestScriptUnknownCapability(t *testing.T) {
	m := writePlugin(t, `{"id": "counter", "capabilities": ["network"]}`, `x = 1`)
	host := plugin.NewHost(New(m)())

	err := host.Initialize(plugin.Env{}.For("counter"))
	require.ErrorIs(t, err, plugin.ErrInitialization)
	assert.Contains(t, err.Error(), "network")
}
