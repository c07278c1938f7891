// Package theme is the dark theme extension. It publishes which variant and
// accent the host should apply, optionally only inside a daily time window.
package theme

import (
	"fmt"
	"time"

	"github.com/dshills/pluginstore/internal/extension"
	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/settings"
)

// ID is the plugin id.
const ID = "dark_theme"

// Setting keys.
const (
	KeyVariant         = "theme_variant"
	KeyAccentColor     = "accent_color"
	KeyAutoSwitch      = "auto_switch"
	KeySwitchStart     = "switch_time_start"
	KeySwitchEnd       = "switch_time_end"
	KeyApplyToFloating = "apply_to_floating"
	KeyApplyToDialogs  = "apply_to_dialogs"
)

// CheckInterval is how often the auto-switch window is evaluated.
const CheckInterval = time.Minute

// DefaultVariant is used for unknown variant names.
const DefaultVariant = "midnight"

// DefaultAccent is used for unknown accent names.
const DefaultAccent = "blue"

// UpdateTheme is the kind of update published on every apply or restore.
const UpdateTheme = "theme"

// Variants lists the available dark variants.
var Variants = []string{"midnight", "charcoal", "obsidian", "slate"}

// Accents lists the available accent colors.
var Accents = []string{"blue", "green", "purple", "orange", "red"}

const clockLayout = "15:04"

// InWindow reports whether t falls in the daily window [start, end], both
// given as HH:MM. A window whose end is before its start wraps midnight.
func InWindow(t time.Time, start, end string) (bool, error) {
	s, err := time.Parse(clockLayout, start)
	if err != nil {
		return false, fmt.Errorf("%s: %w", KeySwitchStart, err)
	}
	e, err := time.Parse(clockLayout, end)
	if err != nil {
		return false, fmt.Errorf("%s: %w", KeySwitchEnd, err)
	}

	now := t.Hour()*3600 + t.Minute()*60 + t.Second()
	from := s.Hour()*3600 + s.Minute()*60
	to := e.Hour()*3600 + e.Minute()*60
	if from <= to {
		return from <= now && now <= to, nil
	}
	return now >= from || now <= to, nil
}

func known(list []string, name, fallback string) (string, bool) {
	for _, v := range list {
		if v == name {
			return name, true
		}
	}
	return fallback, false
}

// Extension is the dark theme plugin.
type Extension struct {
	svc      plugin.Services
	store    *settings.Store
	log      *logging.Logger
	periodic *extension.Periodic

	applied string // variant in effect, empty when the default theme is shown
}

// New returns a factory for the extension.
func New() plugin.Factory {
	return func() plugin.Extension { return &Extension{} }
}

// Info implements plugin.Extension.
func (e *Extension) Info() plugin.Info {
	return plugin.Info{
		ID:          ID,
		Name:        "Dark Theme Pack",
		Version:     "1.5.2",
		Description: "A collection of dark themes",
		Author:      "Design Studio",
	}
}

// DefaultSettings implements plugin.Extension.
func (e *Extension) DefaultSettings() settings.Map {
	return settings.Map{
		KeyVariant:         DefaultVariant,
		KeyAccentColor:     DefaultAccent,
		KeyAutoSwitch:      false,
		KeySwitchStart:     "18:00",
		KeySwitchEnd:       "06:00",
		KeyApplyToFloating: true,
		KeyApplyToDialogs:  true,
	}
}

// Init implements plugin.Extension.
func (e *Extension) Init(svc plugin.Services, store *settings.Store) error {
	e.svc = svc
	e.store = store
	e.log = svc.Logger()
	e.periodic = extension.NewPeriodic(svc.NewTimer(), e.tick)
	return nil
}

// Start implements plugin.Extension.
func (e *Extension) Start() error {
	auto, err := e.store.Bool(KeyAutoSwitch)
	if err != nil {
		return err
	}
	return e.periodic.Start(auto, CheckInterval)
}

// Stop implements plugin.Extension. The default theme comes back.
func (e *Extension) Stop() {
	e.periodic.Stop()
	e.restore()
}

// Refresh implements plugin.Extension. Without auto-switch the theme is
// always applied; with it, only inside the window.
func (e *Extension) Refresh() error {
	auto, err := e.store.Bool(KeyAutoSwitch)
	if err != nil {
		return err
	}
	if !auto {
		return e.apply()
	}
	return e.check()
}

func (e *Extension) tick() {
	if err := e.check(); err != nil {
		e.log.Warn("auto switch: %v", err)
	}
}

func (e *Extension) check() error {
	r := settings.NewReader(e.store)
	start := r.String(KeySwitchStart)
	end := r.String(KeySwitchEnd)
	if err := r.Err(); err != nil {
		return err
	}
	dark, err := InWindow(e.svc.Now(), start, end)
	if err != nil {
		return err
	}
	if dark {
		return e.apply()
	}
	e.restore()
	return nil
}

// SettingsChanged implements plugin.Extension.
func (e *Extension) SettingsChanged(changes settings.Changes) error {
	if !changes.Has(KeyAutoSwitch) {
		return nil
	}
	auto, err := e.store.Bool(KeyAutoSwitch)
	if err != nil {
		return err
	}
	return e.periodic.Reschedule(auto, CheckInterval)
}

// Release implements plugin.Extension.
func (e *Extension) Release() {
	if e.periodic != nil {
		e.periodic.Stop()
	}
	e.restore()
}

func (e *Extension) apply() error {
	r := settings.NewReader(e.store)
	name := r.String(KeyVariant)
	accentName := r.String(KeyAccentColor)
	floating := r.Bool(KeyApplyToFloating)
	dialogs := r.Bool(KeyApplyToDialogs)
	if err := r.Err(); err != nil {
		return err
	}

	variant, ok := known(Variants, name, DefaultVariant)
	if !ok {
		e.log.Warn("unknown theme variant %q, using %s", name, DefaultVariant)
	}
	accent, _ := known(Accents, accentName, DefaultAccent)

	e.applied = variant
	e.svc.Publish(plugin.Update{Kind: UpdateTheme, Data: map[string]any{
		"active":            true,
		"variant":           variant,
		"accent":            accent,
		KeyApplyToFloating: floating,
		KeyApplyToDialogs:  dialogs,
	}})
	e.log.Info("applied theme %s", variant)
	return nil
}

// restore publishes a switch back to the default theme. It does nothing
// when the default is already showing.
func (e *Extension) restore() {
	if e.applied == "" {
		return
	}
	e.applied = ""
	e.svc.Publish(plugin.Update{Kind: UpdateTheme, Data: map[string]any{"active": false}})
	e.log.Info("restored default theme")
}

// Applied returns the variant in effect, or "" for the default theme.
func (e *Extension) Applied() string { return e.applied }

// Extra implements plugin.Describer.
func (e *Extension) Extra() map[string]any {
	return map[string]any{
		"themes":        append([]string(nil), Variants...),
		"accent_colors": append([]string(nil), Accents...),
		"applied":       e.applied,
	}
}
