package theme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/schedule"
)

func at(hour, minute, second int) time.Time {
	return time.Date(2024, 1, 10, hour, minute, second, 0, time.UTC)
}

func TestInWindow(t *testing.T) {
	tests := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{"overnight evening", at(20, 0, 0), "18:00", "06:00", true},
		{"overnight early morning", at(5, 59, 0), "18:00", "06:00", true},
		{"overnight end minute", at(6, 0, 0), "18:00", "06:00", true},
		{"overnight just after end", at(6, 0, 30), "18:00", "06:00", false},
		{"overnight midday", at(12, 0, 0), "18:00", "06:00", false},
		{"overnight start", at(18, 0, 0), "18:00", "06:00", true},
		{"same day inside", at(10, 0, 0), "09:00", "17:00", true},
		{"same day before", at(8, 59, 59), "09:00", "17:00", false},
		{"same day after", at(17, 1, 0), "09:00", "17:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InWindow(tt.now, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := InWindow(at(1, 0, 0), "6pm", "06:00")
	assert.ErrorContains(t, err, KeySwitchStart)
	_, err = InWindow(at(1, 0, 0), "18:00", "")
	assert.ErrorContains(t, err, KeySwitchEnd)
}

type harness struct {
	host    *plugin.Host
	timer   *schedule.ManualTimer
	updates []plugin.Update
	now     time.Time
}

func newHarness(t *testing.T, overrides map[string]any) *harness {
	t.Helper()
	h := &harness{now: at(12, 0, 0)}
	env := plugin.Env{
		Timer: func(string) schedule.Timer {
			h.timer = schedule.NewManualTimer()
			return h.timer
		},
		Updates: func(u plugin.Update) { h.updates = append(h.updates, u) },
		Clock:   func() time.Time { return h.now },
	}
	h.host = plugin.NewHost(New()(), plugin.WithHostSettings(overrides))
	require.NoError(t, h.host.Initialize(env.For(ID)))
	return h
}

func (h *harness) ext() *Extension { return h.host.Extension().(*Extension) }

func (h *harness) last() map[string]any {
	if len(h.updates) == 0 {
		return nil
	}
	return h.updates[len(h.updates)-1].Data
}

func TestActivateAppliesAndDeactivateRestores(t *testing.T) {
	h := newHarness(t, map[string]any{KeyVariant: "slate", KeyAccentColor: "green"})
	require.NoError(t, h.host.Activate())

	assert.False(t, h.timer.Running())
	assert.Equal(t, "slate", h.ext().Applied())
	assert.Equal(t, "green", h.last()["accent"])
	assert.Equal(t, true, h.last()["active"])

	require.NoError(t, h.host.Deactivate())
	assert.Equal(t, "", h.ext().Applied())
	assert.Equal(t, map[string]any{"active": false}, h.last())
}

func TestUnknownVariantFallsBack(t *testing.T) {
	h := newHarness(t, map[string]any{KeyVariant: "neon", KeyAccentColor: "pink"})
	require.NoError(t, h.host.Activate())

	assert.Equal(t, DefaultVariant, h.last()["variant"])
	assert.Equal(t, DefaultAccent, h.last()["accent"])
}

func TestAutoSwitch(t *testing.T) {
	h := newHarness(t, map[string]any{KeyAutoSwitch: true})
	require.NoError(t, h.host.Activate())

	assert.Equal(t, CheckInterval, h.timer.Interval())
	assert.Equal(t, "", h.ext().Applied(), "midday is outside 18:00-06:00")
	assert.Empty(t, h.updates)

	h.now = at(18, 0, 0)
	h.timer.Advance(CheckInterval)
	assert.Equal(t, "midnight", h.ext().Applied())

	h.now = at(6, 1, 0)
	h.timer.Advance(CheckInterval)
	assert.Equal(t, "", h.ext().Applied())
	assert.Len(t, h.updates, 2)
}

func TestToggleAutoSwitch(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.host.Activate())
	assert.False(t, h.timer.Running())

	require.NoError(t, h.host.UpdateSettings(map[string]any{KeyAutoSwitch: true}))
	assert.True(t, h.timer.Running())
	assert.Equal(t, "", h.ext().Applied(), "refresh re-evaluates the window")

	require.NoError(t, h.host.UpdateSettings(map[string]any{KeyAutoSwitch: false}))
	assert.False(t, h.timer.Running())
	assert.Equal(t, "midnight", h.ext().Applied())
}

func TestVariantChangeReapplies(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.host.Activate())

	require.NoError(t, h.host.UpdateSettings(map[string]any{KeyVariant: "obsidian"}))
	assert.Equal(t, "obsidian", h.ext().Applied())
	assert.Len(t, h.timer.Starts(), 0)
}

func TestBadWindowFailsRefresh(t *testing.T) {
	h := newHarness(t, map[string]any{KeyAutoSwitch: true, KeySwitchStart: "late"})
	err := h.host.Activate()
	assert.ErrorIs(t, err, plugin.ErrSchedule)
	assert.False(t, h.timer.Running())
}

func TestCleanupRestores(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.host.Activate())
	require.NoError(t, h.host.Cleanup())

	assert.Equal(t, "", h.ext().Applied())
	assert.Equal(t, false, h.last()["active"])
}

func TestExtra(t *testing.T) {
	h := newHarness(t, nil)
	extra := h.host.Info().Extra
	assert.Equal(t, Variants, extra["themes"])
	assert.Equal(t, Accents, extra["accent_colors"])
}
