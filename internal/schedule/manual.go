package schedule

import "time"

// ManualTimer is a Timer whose ticks are driven explicitly with Fire or
// Advance. It is not safe for concurrent use.
type ManualTimer struct {
	interval time.Duration
	fn       func()
	running  bool
	inFlight bool
	elapsed  time.Duration

	starts []time.Duration
	stops  int
	fired  int
}

// NewManualTimer creates a stopped manual timer.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{}
}

// Start implements Timer.
func (m *ManualTimer) Start(interval time.Duration, fn func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if fn == nil {
		return ErrNoCallback
	}
	if m.running {
		return ErrAlreadyRunning
	}
	m.interval = interval
	m.fn = fn
	m.running = true
	m.elapsed = 0
	m.starts = append(m.starts, interval)
	return nil
}

// Stop implements Timer.
func (m *ManualTimer) Stop() {
	if !m.running {
		return
	}
	m.running = false
	m.elapsed = 0
	m.stops++
}

// Restart implements Timer.
func (m *ManualTimer) Restart(interval time.Duration) error {
	if m.fn == nil {
		return ErrNoCallback
	}
	m.Stop()
	return m.Start(interval, m.fn)
}

// Running implements Timer.
func (m *ManualTimer) Running() bool { return m.running }

// Interval implements Timer.
func (m *ManualTimer) Interval() time.Duration { return m.interval }

// Fire delivers one tick if the timer is running and no tick is in flight.
// It reports whether the callback ran.
func (m *ManualTimer) Fire() bool {
	if !m.running || m.inFlight {
		return false
	}
	m.inFlight = true
	defer func() { m.inFlight = false }()

	m.fired++
	m.fn()
	return true
}

// Advance moves the timer's clock forward by d, firing one tick per full
// interval elapsed. A callback that stops or restarts the timer resets the
// elapsed period.
func (m *ManualTimer) Advance(d time.Duration) int {
	fired := 0
	if !m.running {
		return 0
	}
	m.elapsed += d
	for m.running && m.elapsed >= m.interval {
		m.elapsed -= m.interval
		if m.Fire() {
			fired++
		}
	}
	return fired
}

// Starts returns the interval of every Start, in order.
func (m *ManualTimer) Starts() []time.Duration {
	return append([]time.Duration(nil), m.starts...)
}

// Stops returns how many times a running timer was stopped.
func (m *ManualTimer) Stops() int { return m.stops }

// Fired returns how many ticks were delivered.
func (m *ManualTimer) Fired() int { return m.fired }
