// Package notify delivers user-facing notifications raised by extensions.
//
// Delivery is fire-and-forget: sinks never report failure back to the
// extension that raised the notification.
package notify

import (
	"sync"
	"time"

	"github.com/dshills/pluginstore/internal/logging"
)

// Notification is one fired notification.
type Notification struct {
	Source  string
	Title   string
	Message string
	Time    time.Time
}

// Sink receives notifications.
type Sink interface {
	Notify(n Notification)
}

// Func adapts a function to a Sink.
type Func func(n Notification)

// Notify implements Sink.
func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = Func(func(Notification) {})

// LogSink writes notifications to a logger at info level.
type LogSink struct {
	log *logging.Logger
}

// NewLogSink creates a sink that logs notifications.
func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("notify")}
}

// Notify implements Sink.
func (s *LogSink) Notify(n Notification) {
	s.log.WithField("source", n.Source).Info("%s - %s", n.Title, n.Message)
}

// Channel publishes notifications on a buffered channel. When the buffer is
// full the notification is dropped.
type Channel struct {
	ch        chan Notification
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewChannel creates a channel sink with the given buffer size.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 16
	}
	return &Channel{ch: make(chan Notification, buffer)}
}

// Notify implements Sink.
func (c *Channel) Notify(n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- n:
	default:
	}
}

// C returns the receive side of the channel.
func (c *Channel) C() <-chan Notification { return c.ch }

// Close closes the channel. Later notifications are dropped.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// Multi forwards each notification to every sink in order.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	list []Notification
}

// Notify implements Sink.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.list...)
}

// Titles returns the recorded titles in order.
func (r *Recorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	titles := make([]string, len(r.list))
	for i, n := range r.list {
		titles[i] = n.Title
	}
	return titles
}
