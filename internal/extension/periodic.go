// Package extension holds helpers shared by the built-in extensions.
package extension

import (
	"time"

	"github.com/dshills/pluginstore/internal/schedule"
)

// Periodic owns one timer that calls fn on a fixed period while the
// extension is active and its schedule is enabled.
//
// Active tracks the lifecycle (Start/Stop); enabled and the period come
// from settings. A settings change on an inactive extension only takes
// effect at the next Start.
type Periodic struct {
	timer  schedule.Timer
	fn     func()
	active bool
}

// NewPeriodic wraps timer. The timer must be stopped.
func NewPeriodic(timer schedule.Timer, fn func()) *Periodic {
	return &Periodic{timer: timer, fn: fn}
}

// Start marks the extension active and arms the timer when enabled.
func (p *Periodic) Start(enabled bool, every time.Duration) error {
	p.active = true
	if !enabled {
		return nil
	}
	if p.timer.Running() {
		p.timer.Stop()
	}
	return p.timer.Start(every, p.fn)
}

// Stop marks the extension inactive and stops the timer.
func (p *Periodic) Stop() {
	p.active = false
	p.timer.Stop()
}

// Reschedule applies a new schedule to an active extension: the old timer
// is stopped and, when enabled, a new one starts with a full period.
func (p *Periodic) Reschedule(enabled bool, every time.Duration) error {
	if !p.active {
		return nil
	}
	p.timer.Stop()
	if !enabled {
		return nil
	}
	return p.timer.Start(every, p.fn)
}

// Active reports whether Start was called without a later Stop.
func (p *Periodic) Active() bool { return p.active }

// Running reports whether the timer is armed.
func (p *Periodic) Running() bool { return p.timer.Running() }

// Interval returns the current timer period.
func (p *Periodic) Interval() time.Duration { return p.timer.Interval() }
