// Package pomodoro is the work-cycle timer extension. It puts a cycle.Engine
// behind the plugin lifecycle and exposes start/pause/reset/skip commands.
//
// Activation only shows the timer; the countdown begins with the start
// command. Deactivation pauses it.
package pomodoro

import (
	"errors"

	"github.com/dshills/pluginstore/internal/cycle"
	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/settings"
)

// ID is the plugin id.
const ID = "pomodoro_timer"

// Setting keys beyond those read by the engine.
const (
	KeySoundEnabled        = "sound_enabled"
	KeyNotificationEnabled = "notification_enabled"
	KeyShowInFloating      = "show_in_floating"
)

// Commands.
const (
	CommandStart = "start"
	CommandPause = "pause"
	CommandReset = "reset"
	CommandSkip  = "skip"
)

// Update kinds.
const (
	UpdateTimer = "timer"
	UpdateSound = "sound"
)

// ErrInactive is returned by countdown commands while the plugin is not enabled.
var ErrInactive = errors.New("pomodoro: timer is not active")

// Option configures the extension.
type Option func(*Extension)

// WithHistory sets a function called after every finished phase.
func WithHistory(fn func(cycle.Completion)) Option {
	return func(e *Extension) {
		e.history = fn
	}
}

// Extension is the work-cycle timer.
type Extension struct {
	svc     plugin.Services
	store   *settings.Store
	log     *logging.Logger
	engine  *cycle.Engine
	history func(cycle.Completion)
	active  bool
}

// New returns a factory for the extension.
func New(opts ...Option) plugin.Factory {
	return func() plugin.Extension {
		e := &Extension{history: func(cycle.Completion) {}}
		for _, opt := range opts {
			opt(e)
		}
		return e
	}
}

// Info implements plugin.Extension.
func (e *Extension) Info() plugin.Info {
	return plugin.Info{
		ID:          ID,
		Name:        "Pomodoro Timer",
		Version:     "2.1.0",
		Description: "Work/break cycle timer",
		Author:      "Productivity Team",
	}
}

// DefaultSettings implements plugin.Extension.
func (e *Extension) DefaultSettings() settings.Map {
	return settings.Map{
		cycle.KeyWorkDuration:          25,
		cycle.KeyShortBreak:            5,
		cycle.KeyLongBreak:             15,
		cycle.KeyCyclesBeforeLongBreak: 4,
		cycle.KeyAutoStartBreaks:       false,
		cycle.KeyAutoStartWork:         false,
		KeySoundEnabled:                true,
		KeyNotificationEnabled:         true,
		KeyShowInFloating:              true,
	}
}

// Init implements plugin.Extension.
func (e *Extension) Init(svc plugin.Services, store *settings.Store) error {
	e.svc = svc
	e.store = store
	e.log = svc.Logger()

	engine, err := cycle.New(store, svc.NewTimer(),
		cycle.WithNotifier(e.notify),
		cycle.WithObserver(e.observe),
		cycle.WithErrorHandler(e.tickFailed),
		cycle.WithCompletionHook(e.completed),
	)
	if err != nil {
		return err
	}
	e.engine = engine
	return nil
}

// Start implements plugin.Extension.
func (e *Extension) Start() error {
	e.active = true
	return nil
}

// Stop implements plugin.Extension.
func (e *Extension) Stop() {
	e.active = false
	e.engine.Pause()
}

// Refresh implements plugin.Extension.
func (e *Extension) Refresh() error {
	e.observe(e.engine.Snapshot())
	return nil
}

// SettingsChanged implements plugin.Extension. A stopped timer is reset so
// new durations show at once; a running phase keeps its countdown.
func (e *Extension) SettingsChanged(changes settings.Changes) error {
	return e.engine.SettingsChanged(changes)
}

// Release implements plugin.Extension.
func (e *Extension) Release() {
	e.active = false
	if e.engine != nil {
		e.engine.Pause()
	}
}

// Commands implements plugin.Commander.
func (e *Extension) Commands() []string {
	return []string{CommandStart, CommandPause, CommandReset, CommandSkip}
}

// Invoke implements plugin.Commander.
func (e *Extension) Invoke(command string) error {
	switch command {
	case CommandStart:
		if !e.active {
			return ErrInactive
		}
		return e.engine.Start()
	case CommandPause:
		e.engine.Pause()
		return nil
	case CommandReset:
		return e.engine.Reset()
	case CommandSkip:
		if !e.active {
			return ErrInactive
		}
		return e.engine.Skip()
	default:
		return plugin.ErrUnknownCommand
	}
}

// Extra implements plugin.Describer.
func (e *Extension) Extra() map[string]any {
	return map[string]any{"timer": snapshotData(e.engine.Snapshot())}
}

// Snapshot returns the engine state.
func (e *Extension) Snapshot() cycle.Snapshot { return e.engine.Snapshot() }

func (e *Extension) notify(title, message string) {
	r := settings.NewReader(e.store)
	notifications := r.Bool(KeyNotificationEnabled)
	sound := r.Bool(KeySoundEnabled)
	if err := r.Err(); err != nil {
		e.log.Warn("notification skipped: %v", err)
		return
	}
	if notifications {
		e.svc.Notify(title, message)
	}
	if sound {
		e.svc.Publish(plugin.Update{Kind: UpdateSound, Data: map[string]any{"title": title}})
	}
}

func (e *Extension) observe(s cycle.Snapshot) {
	data := snapshotData(s)
	if v, err := e.store.Bool(KeyShowInFloating); err == nil {
		data[KeyShowInFloating] = v
	}
	e.svc.Publish(plugin.Update{Kind: UpdateTimer, Data: data})
}

func (e *Extension) completed(c cycle.Completion) {
	e.log.Info("%s finished, cycle %d", c.Completed, c.CycleCount)
	e.history(c)
}

func (e *Extension) tickFailed(err error) {
	e.log.Error("tick: %v", err)
}

func snapshotData(s cycle.Snapshot) map[string]any {
	return map[string]any{
		"phase":      s.Phase.String(),
		"status":     s.Status(),
		"time_left":  s.TimeLeft,
		"total_time": s.TotalTime,
		"clock":      s.Clock(),
		"progress":   s.Progress(),
		"cycle":      s.DisplayCycle,
		"max_cycles": s.MaxCycles,
		"cycles":     s.CycleCount,
		"running":    s.Running,
	}
}
