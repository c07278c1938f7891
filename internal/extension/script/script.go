// Package script turns Lua plugins found on disk into extensions.
//
// A script plugin is a directory with a manifest and a main file (init.lua
// by default). The script may define these globals:
//
//	function init() end               -- once, after loading
//	function refresh(settings) end    -- on activation, each tick, each settings change
//	function release() end            -- on cleanup
//
// and may call:
//
//	notify(title, message)
//	publish(kind, data)
//	log(message)
//	now()                             -- unix seconds
//
// A table returned from refresh is published as a "refresh" update.
//
// The manifest's "capabilities" list limits which of notify, publish and
// now the script may call; log is always available. Without the list every
// host function is granted.
//
// The refresh period comes from the "interval" setting in seconds and is
// switched off by "enabled" = false.
package script

import (
	"errors"
	"fmt"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/pluginstore/internal/extension"
	"github.com/dshills/pluginstore/internal/extension/script/lua"
	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/settings"
)

// Setting keys.
const (
	KeyEnabled  = "enabled"
	KeyInterval = "interval"
)

// DefaultInterval is the refresh period when the manifest sets none.
const DefaultInterval = 60 * time.Second

// Extension runs one Lua plugin.
type Extension struct {
	manifest *plugin.Manifest
	timeout  time.Duration

	svc      plugin.Services
	store    *settings.Store
	log      *logging.Logger
	state    *lua.State
	grants   *Grants
	periodic *extension.Periodic

	refreshes int
	lastErr   error
}

// Option configures an Extension.
type Option func(*Extension)

// WithTimeout bounds each call into the script.
func WithTimeout(d time.Duration) Option {
	return func(e *Extension) {
		e.timeout = d
	}
}

// New returns a factory for the plugin described by m.
func New(m *plugin.Manifest, opts ...Option) plugin.Factory {
	return func() plugin.Extension {
		e := &Extension{manifest: m, timeout: lua.DefaultExecutionTimeout}
		for _, opt := range opts {
			opt(e)
		}
		return e
	}
}

// Info implements plugin.Extension.
func (e *Extension) Info() plugin.Info { return e.manifest.Info() }

// DefaultSettings implements plugin.Extension.
func (e *Extension) DefaultSettings() settings.Map {
	s := settings.Map{
		KeyEnabled:  true,
		KeyInterval: int(DefaultInterval / time.Second),
	}
	for k, v := range e.manifest.Settings {
		s[k] = v
	}
	return s
}

// Init implements plugin.Extension.
func (e *Extension) Init(svc plugin.Services, store *settings.Store) error {
	e.svc = svc
	e.store = store
	e.log = svc.Logger()

	grants, err := NewGrants(e.manifest.Capabilities)
	if err != nil {
		return err
	}
	e.grants = grants
	e.periodic = extension.NewPeriodic(svc.NewTimer(), e.tick)

	e.state = lua.NewState(
		lua.WithExecutionTimeout(e.timeout),
		lua.WithPrint(func(line string) { e.log.Info("%s", line) }),
	)
	e.register()

	if err := e.state.DoFile(e.manifest.MainPath()); err != nil {
		return fmt.Errorf("loading %s: %w", e.manifest.Main, err)
	}
	if e.state.HasFunction("init") {
		if _, err := e.state.Call("init"); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

// register exposes host functions to the script.
func (e *Extension) register() {
	e.state.RegisterFunc("notify", e.guard(CapabilityNotify, "notify", func(L *glua.LState) int {
		e.svc.Notify(L.CheckString(1), L.OptString(2, ""))
		return 0
	}))
	e.state.RegisterFunc("publish", e.guard(CapabilityPublish, "publish", func(L *glua.LState) int {
		kind := L.CheckString(1)
		data, _ := lua.ToGo(L.Get(2)).(map[string]any)
		e.svc.Publish(plugin.Update{Kind: kind, Data: data})
		return 0
	}))
	e.state.RegisterFunc("log", func(L *glua.LState) int {
		e.log.Info("%s", L.CheckString(1))
		return 0
	})
	e.state.RegisterFunc("now", e.guard(CapabilityClock, "now", func(L *glua.LState) int {
		L.Push(glua.LNumber(e.svc.Now().Unix()))
		return 1
	}))
}

// guard raises a Lua error instead of calling fn when c is not granted.
func (e *Extension) guard(c Capability, op string, fn glua.LGFunction) glua.LGFunction {
	return func(L *glua.LState) int {
		if err := e.grants.Check(c, op); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return fn(L)
	}
}

// schedule reads the enabled flag and period.
func (e *Extension) schedule() (bool, time.Duration, error) {
	r := settings.NewReader(e.store)
	enabled := r.Bool(KeyEnabled)
	secs := r.Float(KeyInterval)
	if err := r.Err(); err != nil {
		return false, 0, err
	}
	return enabled, time.Duration(secs * float64(time.Second)), nil
}

// Start implements plugin.Extension.
func (e *Extension) Start() error {
	enabled, every, err := e.schedule()
	if err != nil {
		return err
	}
	return e.periodic.Start(enabled, every)
}

// Stop implements plugin.Extension.
func (e *Extension) Stop() {
	e.periodic.Stop()
}

// Refresh implements plugin.Extension.
func (e *Extension) Refresh() error {
	if !e.state.HasFunction("refresh") {
		return nil
	}
	res, err := e.state.Call("refresh", lua.MapToTable(e.state.L, e.store.Get()))
	e.refreshes++
	e.lastErr = err
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if len(res) > 0 {
		if data, ok := lua.ToGo(res[0]).(map[string]any); ok {
			e.svc.Publish(plugin.Update{Kind: "refresh", Data: data})
		}
	}
	return nil
}

func (e *Extension) tick() {
	if err := e.Refresh(); err != nil {
		e.log.Warn("%v", err)
	}
}

// SettingsChanged implements plugin.Extension.
func (e *Extension) SettingsChanged(changes settings.Changes) error {
	if !changes.Has(KeyEnabled, KeyInterval) {
		return nil
	}
	enabled, every, err := e.schedule()
	if err != nil {
		return err
	}
	return e.periodic.Reschedule(enabled, every)
}

// Release implements plugin.Extension.
func (e *Extension) Release() {
	if e.periodic != nil {
		e.periodic.Stop()
	}
	if e.state == nil {
		return
	}
	if e.state.HasFunction("release") {
		if _, err := e.state.Call("release"); err != nil && !errors.Is(err, lua.ErrStateClosed) {
			e.log.Warn("release: %v", err)
		}
	}
	e.state.Close()
}

// Extra implements plugin.Describer.
func (e *Extension) Extra() map[string]any {
	extra := map[string]any{
		"script":    e.manifest.Main,
		"refreshes": e.refreshes,
	}
	if e.grants != nil {
		extra["capabilities"] = e.grants.List()
	}
	if e.lastErr != nil {
		extra["last_error"] = e.lastErr.Error()
	}
	return extra
}
