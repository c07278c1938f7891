package plugin

import (
	"sync"
	"time"

	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/notify"
	"github.com/dshills/pluginstore/internal/schedule"
)

// Update is a widget state change published by an extension. The host side
// decides how to render it.
type Update struct {
	Plugin string         `json:"plugin"`
	Kind   string         `json:"kind"`
	Data   map[string]any `json:"data"`
	Time   time.Time      `json:"time"`
}

// Services is what the host offers an extension. It replaces probing the
// host for optional capabilities.
type Services interface {
	// Notify fires a user notification. Delivery failures are not reported.
	Notify(title, message string)

	// NewTimer returns a stopped timer bound to the host's execution context.
	NewTimer() schedule.Timer

	// Publish emits a widget update.
	Publish(u Update)

	// Logger returns a logger scoped to the plugin.
	Logger() *logging.Logger

	// Now returns the current time.
	Now() time.Time
}

// Env builds per-plugin Services from shared collaborators. Nil fields fall
// back to inert defaults.
type Env struct {
	// Timer creates a timer for the given plugin id.
	Timer func(plugin string) schedule.Timer
	// Sink receives every notification.
	Sink notify.Sink
	// Updates receives every published update.
	Updates func(Update)
	// Log is the parent logger.
	Log *logging.Logger
	// Clock returns the current time.
	Clock func() time.Time
}

// For returns Services bound to a plugin id.
func (e Env) For(plugin string) Services {
	s := &envServices{plugin: plugin, env: e}
	if s.env.Timer == nil {
		s.env.Timer = func(string) schedule.Timer { return schedule.NewManualTimer() }
	}
	if s.env.Sink == nil {
		s.env.Sink = notify.Discard
	}
	if s.env.Updates == nil {
		s.env.Updates = func(Update) {}
	}
	if s.env.Log == nil {
		s.env.Log = logging.Null()
	}
	if s.env.Clock == nil {
		s.env.Clock = time.Now
	}
	s.log = s.env.Log.WithField("plugin", plugin)
	return s
}

type envServices struct {
	plugin string
	env    Env
	log    *logging.Logger
}

func (s *envServices) Notify(title, message string) {
	s.env.Sink.Notify(notify.Notification{
		Source:  s.plugin,
		Title:   title,
		Message: message,
		Time:    s.env.Clock(),
	})
}

func (s *envServices) NewTimer() schedule.Timer { return s.env.Timer(s.plugin) }

func (s *envServices) Publish(u Update) {
	if u.Plugin == "" {
		u.Plugin = s.plugin
	}
	if u.Time.IsZero() {
		u.Time = s.env.Clock()
	}
	s.env.Updates(u)
}

func (s *envServices) Logger() *logging.Logger { return s.log }

func (s *envServices) Now() time.Time { return s.env.Clock() }

// trackedServices records every timer handed to an extension so the host
// can stop them no matter what the extension does.
type trackedServices struct {
	Services

	mu     sync.Mutex
	timers []schedule.Timer
}

func (t *trackedServices) NewTimer() schedule.Timer {
	timer := t.Services.NewTimer()
	t.mu.Lock()
	t.timers = append(t.timers, timer)
	t.mu.Unlock()
	return timer
}

func (t *trackedServices) stopAll() {
	t.mu.Lock()
	timers := append([]schedule.Timer(nil), t.timers...)
	t.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
}

func (t *trackedServices) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
