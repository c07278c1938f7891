// Package reminder classifies calendar events relative to the current time
// and decides which of them fall inside a reminder window.
//
// The functions here hold no state. Calling Due twice with the same inputs
// returns the same events twice; callers that want one reminder per event
// must remember what they already sent.
package reminder

import (
	"sort"
	"time"
)

// SoonWindow is how far ahead an event counts as starting soon.
const SoonWindow = 30 * time.Minute

// Status describes an event relative to now.
type Status string

// Statuses.
const (
	StatusOngoing  Status = "ongoing"
	StatusSoon     Status = "soon"
	StatusUpcoming Status = "upcoming"
)

// Event is one calendar entry.
type Event struct {
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
}

// Classify returns the status of e at now. An event is ongoing while
// start <= now <= end, soon when it starts within SoonWindow, and upcoming
// otherwise. An event that already ended also reports soon, since its start
// is in the past.
func Classify(e Event, now time.Time) Status {
	switch {
	case !e.Start.After(now) && !now.After(e.End):
		return StatusOngoing
	case !e.Start.After(now.Add(SoonWindow)):
		return StatusSoon
	default:
		return StatusUpcoming
	}
}

// Options control Filter.
type Options struct {
	ShowAllDay bool
	// MaxEvents caps the result. Zero or less yields no events.
	MaxEvents int
}

// Filter drops all-day events unless opts.ShowAllDay, sorts the rest by
// start time keeping the input order for equal starts, and truncates to
// opts.MaxEvents. The input slice is not modified.
func Filter(events []Event, opts Options) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.AllDay && !opts.ShowAllDay {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	if opts.MaxEvents <= 0 {
		return out[:0]
	}
	if len(out) > opts.MaxEvents {
		out = out[:opts.MaxEvents]
	}
	return out
}

// Window is the reminder configuration.
type Window struct {
	Enabled bool
	Minutes float64
}

// Due returns the events whose start lies between now and now+w.Minutes,
// both ends inclusive. Minutes are fractional: an event 90 seconds out is
// 1.5 minutes away.
func Due(events []Event, now time.Time, w Window) []Event {
	if !w.Enabled {
		return nil
	}
	var due []Event
	for _, e := range events {
		diff := e.Start.Sub(now).Minutes()
		if diff >= 0 && diff <= w.Minutes {
			due = append(due, e)
		}
	}
	return due
}

// TimeFormat is the clock style used to render event times.
type TimeFormat string

// Time formats.
const (
	Format24h TimeFormat = "24h"
	Format12h TimeFormat = "12h"
)

// Layout returns the time.Format layout for f. Unknown values use 24h.
func (f TimeFormat) Layout() string {
	if f == Format12h {
		return "03:04 PM"
	}
	return "15:04"
}

// Message returns the reminder text for e.
func Message(e Event, f TimeFormat) string {
	return "'" + e.Title + "' starts at " + e.Start.Format(f.Layout())
}
