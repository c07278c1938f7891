// Package cycle implements the work/break cycle state machine behind the
// work-cycle timer extension.
//
// An Engine alternates between a work phase and a short or long break. It
// counts down one second per tick of its timer. When a work phase ends the
// completed-cycle counter grows by one and every Nth break is a long one.
// Durations are read from the settings store when a phase begins, so edits
// made while a phase is running apply from the next phase or reset.
package cycle

import (
	"fmt"
	"time"

	"github.com/dshills/pluginstore/internal/schedule"
	"github.com/dshills/pluginstore/internal/settings"
)

// TickInterval is the period at which a running engine counts down.
const TickInterval = time.Second

// Setting keys read by the engine.
const (
	KeyWorkDuration          = "work_duration"
	KeyShortBreak            = "short_break"
	KeyLongBreak             = "long_break"
	KeyCyclesBeforeLongBreak = "cycles_before_long_break"
	KeyAutoStartBreaks       = "auto_start_breaks"
	KeyAutoStartWork         = "auto_start_work"
)

// DurationKeys are the settings that change a phase length.
var DurationKeys = []string{KeyWorkDuration, KeyShortBreak, KeyLongBreak}

// Phase is the current segment of a cycle.
type Phase int

// Phases.
const (
	Work Phase = iota
	ShortBreak
	LongBreak
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Work:
		return "work"
	case ShortBreak:
		return "short_break"
	case LongBreak:
		return "long_break"
	default:
		return "unknown"
	}
}

// IsBreak reports whether p is a break phase.
func (p Phase) IsBreak() bool { return p == ShortBreak || p == LongBreak }

// Params are the engine's settings decoded at consumption time.
type Params struct {
	WorkMinutes           int
	ShortBreakMinutes     int
	LongBreakMinutes      int
	CyclesBeforeLongBreak int
	AutoStartBreaks       bool
	AutoStartWork         bool
}

// ReadParams decodes Params from the store. Malformed or out of range values
// are reported as *settings.ConsumptionError.
func ReadParams(s *settings.Store) (Params, error) {
	r := settings.NewReader(s)
	p := Params{
		WorkMinutes:           r.Int(KeyWorkDuration),
		ShortBreakMinutes:     r.Int(KeyShortBreak),
		LongBreakMinutes:      r.Int(KeyLongBreak),
		CyclesBeforeLongBreak: r.Int(KeyCyclesBeforeLongBreak),
		AutoStartBreaks:       r.Bool(KeyAutoStartBreaks),
		AutoStartWork:         r.Bool(KeyAutoStartWork),
	}
	if err := r.Err(); err != nil {
		return Params{}, err
	}

	positive := []struct {
		key string
		v   int
	}{
		{KeyWorkDuration, p.WorkMinutes},
		{KeyShortBreak, p.ShortBreakMinutes},
		{KeyLongBreak, p.LongBreakMinutes},
		{KeyCyclesBeforeLongBreak, p.CyclesBeforeLongBreak},
	}
	for _, f := range positive {
		if f.v < 1 {
			return Params{}, &settings.ConsumptionError{Key: f.key, Value: f.v, Want: "positive integer"}
		}
	}
	return p, nil
}

// seconds returns the length of phase ph in seconds.
func (p Params) seconds(ph Phase) int {
	switch ph {
	case ShortBreak:
		return p.ShortBreakMinutes * 60
	case LongBreak:
		return p.LongBreakMinutes * 60
	default:
		return p.WorkMinutes * 60
	}
}

// Snapshot is a read-only view of the engine state.
type Snapshot struct {
	Phase        Phase
	TimeLeft     int // seconds
	TotalTime    int // seconds
	CycleCount   int
	MaxCycles    int
	Running      bool
	DisplayCycle int
}

// Progress returns the elapsed share of the phase as a percentage.
func (s Snapshot) Progress() int {
	if s.TotalTime <= 0 {
		return 0
	}
	return (s.TotalTime - s.TimeLeft) * 100 / s.TotalTime
}

// Status returns a short human-readable label for the phase.
func (s Snapshot) Status() string {
	var label string
	switch s.Phase {
	case Work:
		label = "work"
	case ShortBreak:
		label = "short break"
	case LongBreak:
		label = "long break"
	}
	if s.Running {
		return label
	}
	return "ready: " + label
}

// Clock renders TimeLeft as MM:SS.
func (s Snapshot) Clock() string {
	return fmt.Sprintf("%02d:%02d", s.TimeLeft/60, s.TimeLeft%60)
}

// Completion describes a finished phase.
type Completion struct {
	Completed  Phase
	Next       Phase
	CycleCount int
	Length     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the function called on every phase change.
func WithNotifier(fn func(title, message string)) Option {
	return func(e *Engine) { e.notify = fn }
}

// WithObserver sets the function called with a snapshot after every state change.
func WithObserver(fn func(Snapshot)) Option {
	return func(e *Engine) { e.observe = fn }
}

// WithErrorHandler sets the function called when a tick fails, typically
// because a setting could not be consumed.
func WithErrorHandler(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// WithCompletionHook sets the function called after each finished phase.
func WithCompletionHook(fn func(Completion)) Option {
	return func(e *Engine) { e.completed = fn }
}

// Engine is the work/break state machine. It is driven from a single
// goroutine: the one that delivers its timer ticks.
type Engine struct {
	store *settings.Store
	timer schedule.Timer

	notify    func(title, message string)
	observe   func(Snapshot)
	completed func(Completion)
	onError   func(error)

	phase      Phase
	timeLeft   int
	totalTime  int
	cycleCount int
	maxCycles  int
	running    bool
}

// New creates an engine in the initial work phase.
func New(store *settings.Store, timer schedule.Timer, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     store,
		timer:     timer,
		notify:    func(string, string) {},
		observe:   func(Snapshot) {},
		completed: func(Completion) {},
		onError:   func(error) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.Reset(); err != nil {
		return nil, err
	}
	return e, nil
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Phase:        e.phase,
		TimeLeft:     e.timeLeft,
		TotalTime:    e.totalTime,
		CycleCount:   e.cycleCount,
		MaxCycles:    e.maxCycles,
		Running:      e.running,
		DisplayCycle: e.DisplayCycle(),
	}
}

// Running reports whether the countdown is active.
func (e *Engine) Running() bool { return e.running }

// DisplayCycle returns the position within the current run of N cycles:
// 0 before any completion, then 1..N, with N shown on every Nth completion.
func (e *Engine) DisplayCycle() int {
	if e.maxCycles < 1 {
		return 0
	}
	idx := e.cycleCount % e.maxCycles
	if idx == 0 && e.cycleCount > 0 {
		idx = e.maxCycles
	}
	return idx
}

// Start arms the timer. Starting a running engine does nothing.
func (e *Engine) Start() error {
	if e.running {
		return nil
	}
	if err := e.timer.Start(TickInterval, e.onTick); err != nil {
		return fmt.Errorf("starting cycle timer: %w", err)
	}
	e.running = true
	e.publish()
	return nil
}

// Pause stops the countdown and keeps the remaining time.
func (e *Engine) Pause() {
	if !e.running {
		return
	}
	e.running = false
	e.timer.Stop()
	e.publish()
}

// Reset stops the countdown and returns to the start of a work phase. The
// completed-cycle counter is kept.
func (e *Engine) Reset() error {
	p, err := ReadParams(e.store)
	if err != nil {
		return err
	}

	e.running = false
	e.timer.Stop()
	e.phase = Work
	e.totalTime = p.seconds(Work)
	e.timeLeft = e.totalTime
	e.maxCycles = p.CyclesBeforeLongBreak
	e.publish()
	return nil
}

// Skip finishes the current phase immediately.
func (e *Engine) Skip() error {
	return e.complete()
}

// Tick advances a running engine by one second.
func (e *Engine) Tick() error {
	if !e.running {
		return nil
	}
	if e.timeLeft > 0 {
		e.timeLeft--
	}
	if e.timeLeft == 0 {
		return e.complete()
	}
	e.publish()
	return nil
}

// onTick is the timer callback. Errors have already stopped the countdown
// and are handed to the error hook.
func (e *Engine) onTick() {
	if err := e.Tick(); err != nil {
		e.onError(err)
	}
}

// SettingsChanged reacts to a settings update. A stopped engine is reset so
// new durations show immediately; a running one keeps its countdown and
// picks up new values at the next phase change.
func (e *Engine) SettingsChanged(changes settings.Changes) error {
	if e.running {
		return nil
	}
	if changes.Has(DurationKeys...) || changes.Has(KeyCyclesBeforeLongBreak) {
		return e.Reset()
	}
	return nil
}

func (e *Engine) complete() error {
	e.running = false
	e.timer.Stop()

	p, err := ReadParams(e.store)
	if err != nil {
		e.publish()
		return err
	}

	done := e.phase
	length := time.Duration(e.totalTime) * time.Second
	var title, message string
	var autoStart bool

	if done == Work {
		e.cycleCount++
		if e.cycleCount%p.CyclesBeforeLongBreak == 0 {
			e.phase = LongBreak
			message = "Time for a long break!"
		} else {
			e.phase = ShortBreak
			message = "Time for a short break!"
		}
		title = "Work session finished"
		autoStart = p.AutoStartBreaks
	} else {
		e.phase = Work
		title = "Break finished"
		message = "Starting a new work cycle!"
		autoStart = p.AutoStartWork
	}

	e.maxCycles = p.CyclesBeforeLongBreak
	e.totalTime = p.seconds(e.phase)
	e.timeLeft = e.totalTime

	e.completed(Completion{Completed: done, Next: e.phase, CycleCount: e.cycleCount, Length: length})
	e.notify(title, message)

	if autoStart {
		return e.Start()
	}
	e.publish()
	return nil
}

func (e *Engine) publish() {
	e.observe(e.Snapshot())
}
