package plugin

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/pluginstore/internal/schedule"
	"github.com/dshills/pluginstore/internal/settings"
)

var errBoom = errors.New("boom")

// fakeExt is a periodic extension driven by "enabled" and "interval"
// (seconds) settings. Failure and panic points are configurable.
type fakeExt struct {
	id string

	mu    sync.Mutex
	calls []string

	svc   Services
	store *settings.Store
	timer schedule.Timer
	ticks atomic.Int64

	// forgetStop makes Stop and Release leave the timer running.
	forgetStop bool

	failInit     error
	failStart    error
	failRefresh  error
	failSettings error
	panicIn      string
}

func newFake(id string) *fakeExt { return &fakeExt{id: id} }

func (f *fakeExt) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.panicIn == call {
		panic(call + " exploded")
	}
}

func (f *fakeExt) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExt) Info() Info {
	return Info{ID: f.id, Name: "Fake " + f.id, Version: "1.0.0", Description: "test", Author: "tests"}
}

func (f *fakeExt) DefaultSettings() settings.Map {
	return settings.Map{"enabled": true, "interval": 15}
}

func (f *fakeExt) Init(svc Services, store *settings.Store) error {
	f.record("init")
	f.svc = svc
	f.store = store
	f.timer = svc.NewTimer()
	return f.failInit
}

func (f *fakeExt) interval() (time.Duration, error) {
	secs, err := f.store.Int("interval")
	return time.Duration(secs) * time.Second, err
}

func (f *fakeExt) Start() error {
	f.record("start")
	if f.failStart != nil {
		return f.failStart
	}
	enabled, err := f.store.Bool("enabled")
	if err != nil || !enabled {
		return err
	}
	d, err := f.interval()
	if err != nil {
		return err
	}
	return f.timer.Start(d, f.tick)
}

func (f *fakeExt) tick() {
	f.ticks.Add(1)
	f.svc.Publish(Update{Kind: "tick"})
}

func (f *fakeExt) Stop() {
	f.record("stop")
	if !f.forgetStop {
		f.timer.Stop()
	}
}

func (f *fakeExt) Refresh() error {
	f.record("refresh")
	return f.failRefresh
}

func (f *fakeExt) SettingsChanged(c settings.Changes) error {
	f.record("settings")
	if f.failSettings != nil {
		return f.failSettings
	}
	if !c.Has("enabled", "interval") || !f.timer.Running() {
		return nil
	}
	d, err := f.interval()
	if err != nil {
		return err
	}
	return f.timer.Restart(d)
}

func (f *fakeExt) Release() {
	f.record("release")
	if !f.forgetStop {
		f.timer.Stop()
	}
}

func (f *fakeExt) Commands() []string { return []string{"ping"} }

func (f *fakeExt) Invoke(cmd string) error {
	f.record("invoke:" + cmd)
	if cmd != "ping" {
		return ErrUnknownCommand
	}
	return nil
}

func (f *fakeExt) Extra() map[string]any {
	return map[string]any{"ticks": f.ticks.Load()}
}

// manualEnv hands out manual timers and remembers them.
type manualEnv struct {
	mu      sync.Mutex
	timers  []*schedule.ManualTimer
	updates []Update
}

func (e *manualEnv) env() Env {
	return Env{
		Timer: func(string) schedule.Timer {
			t := schedule.NewManualTimer()
			e.mu.Lock()
			e.timers = append(e.timers, t)
			e.mu.Unlock()
			return t
		},
		Updates: func(u Update) {
			e.mu.Lock()
			e.updates = append(e.updates, u)
			e.mu.Unlock()
		},
	}
}

func (e *manualEnv) timer(i int) *schedule.ManualTimer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timers[i]
}
