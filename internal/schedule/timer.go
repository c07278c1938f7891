// Package schedule provides the periodic-callback primitive every extension
// uses, and the single-threaded loop its ticks are delivered on.
//
// A Timer delivers ticks at a fixed period until it is stopped. Ticks never
// overlap: while a tick is queued or running, the next one is skipped rather
// than queued. Restart discards any partially elapsed period.
package schedule

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Schedule errors.
var (
	// ErrAlreadyRunning is returned by Start on a running timer.
	ErrAlreadyRunning = errors.New("timer already running")

	// ErrInvalidInterval is returned for non-positive intervals.
	ErrInvalidInterval = errors.New("timer interval must be positive")

	// ErrNoCallback is returned when Start is given a nil callback, or
	// Restart is called on a timer that was never started.
	ErrNoCallback = errors.New("timer has no callback")

	// ErrLoopClosed is returned when work is submitted to a closed loop.
	ErrLoopClosed = errors.New("loop closed")
)

// Timer is a restartable periodic callback.
type Timer interface {
	// Start begins delivering fn every interval.
	Start(interval time.Duration, fn func()) error

	// Stop cancels future ticks. A tick already executing may finish, but no
	// tick starts after Stop returns. Stopping a stopped timer is a no-op.
	Stop()

	// Restart stops the timer and starts it again with the last callback.
	Restart(interval time.Duration) error

	// Running reports whether the timer is started.
	Running() bool

	// Interval returns the current or last period.
	Interval() time.Duration
}

// TickerTimer is a Timer driven by time.Ticker whose ticks run on an Executor.
type TickerTimer struct {
	exec Executor

	mu       sync.Mutex
	interval time.Duration
	fn       func()
	running  bool
	stop     chan struct{}

	// gen changes on every Start and Stop; a queued tick whose generation
	// no longer matches is discarded when it reaches the executor.
	gen atomic.Uint64
}

// NewTickerTimer creates a stopped timer delivering ticks through exec.
func NewTickerTimer(exec Executor) *TickerTimer {
	return &TickerTimer{exec: exec}
}

// Start implements Timer.
func (t *TickerTimer) Start(interval time.Duration, fn func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if fn == nil {
		return ErrNoCallback
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	gen := t.gen.Add(1)
	stop := make(chan struct{})

	t.interval = interval
	t.fn = fn
	t.running = true
	t.stop = stop

	go t.run(gen, interval, stop)
	return nil
}

func (t *TickerTimer) run(gen uint64, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var inFlight atomic.Bool
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !inFlight.CompareAndSwap(false, true) {
				continue
			}
			posted := t.exec.Post(func() {
				defer inFlight.Store(false)
				t.deliver(gen)
			})
			if !posted {
				return
			}
		}
	}
}

func (t *TickerTimer) deliver(gen uint64) {
	if t.gen.Load() != gen {
		return
	}
	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()
	fn()
}

// Stop implements Timer.
func (t *TickerTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	t.gen.Add(1)
	close(t.stop)
	t.stop = nil
}

// Restart implements Timer.
func (t *TickerTimer) Restart(interval time.Duration) error {
	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()

	if fn == nil {
		return ErrNoCallback
	}
	t.Stop()
	return t.Start(interval, fn)
}

// Running implements Timer.
func (t *TickerTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Interval implements Timer.
func (t *TickerTimer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}
