// Package calendar is the calendar sync extension. It pulls events from a
// Source on a period measured in minutes, keeps the next few for display and
// fires reminders for events about to start.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/pluginstore/internal/extension"
	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/reminder"
	"github.com/dshills/pluginstore/internal/settings"
)

// ID is the plugin id.
const ID = "calendar_sync"

// Setting keys.
const (
	KeySyncEnabled        = "sync_enabled"
	KeySyncInterval       = "sync_interval" // minutes
	KeyShowUpcomingEvents = "show_upcoming_events"
	KeyEventReminder      = "event_reminder"
	KeyReminderMinutes    = "reminder_minutes"
	KeyShowAllDayEvents   = "show_all_day_events"
	KeyTimeFormat         = "time_format"
)

// UpdateEvents is the kind of update published after each sync.
const UpdateEvents = "events"

// ReminderTitle is the notification title for event reminders.
const ReminderTitle = "Event reminder"

// syncTimeout bounds one call to the source.
const syncTimeout = 30 * time.Second

// Source supplies calendar events.
type Source interface {
	Events(ctx context.Context, now time.Time) ([]reminder.Event, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, now time.Time) ([]reminder.Event, error)

// Events implements Source.
func (f SourceFunc) Events(ctx context.Context, now time.Time) ([]reminder.Event, error) {
	return f(ctx, now)
}

// SampleSource returns three one-hour meetings starting one, three and five
// hours from now plus an all-day event for today.
var SampleSource = SourceFunc(func(_ context.Context, now time.Time) ([]reminder.Event, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return []reminder.Event{
		{Title: "Team meeting", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		{Title: "Project review", Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour)},
		{Title: "Customer visit", Start: now.Add(5 * time.Hour), End: now.Add(6 * time.Hour)},
		{Title: "Birthday party", Start: day, End: day.Add(24*time.Hour - time.Second), AllDay: true},
	}, nil
})

// Option configures the extension.
type Option func(*Extension)

// WithSource sets the event source. The default is SampleSource.
func WithSource(s Source) Option {
	return func(e *Extension) {
		e.source = s
	}
}

// Extension is the calendar sync plugin.
type Extension struct {
	source Source

	svc      plugin.Services
	store    *settings.Store
	log      *logging.Logger
	periodic *extension.Periodic

	events   []reminder.Event
	lastSync time.Time
}

// New returns a factory for the extension.
func New(opts ...Option) plugin.Factory {
	return func() plugin.Extension {
		e := &Extension{source: SampleSource}
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
		Name:        "Calendar Sync",
		Version:     "1.3.1",
		Description: "Syncs upcoming events from your calendars",
		Author:      "Sync Solutions",
	}
}

// DefaultSettings implements plugin.Extension.
func (e *Extension) DefaultSettings() settings.Map {
	return settings.Map{
		KeySyncEnabled:        true,
		KeySyncInterval:       15,
		KeyShowUpcomingEvents: 3,
		KeyEventReminder:      true,
		KeyReminderMinutes:    15,
		KeyShowAllDayEvents:   true,
		KeyTimeFormat:         string(reminder.Format24h),
	}
}

// Init implements plugin.Extension.
func (e *Extension) Init(svc plugin.Services, store *settings.Store) error {
	e.svc = svc
	e.store = store
	e.log = svc.Logger()
	e.periodic = extension.NewPeriodic(svc.NewTimer(), e.tick)
	return nil
}

// schedule reads the sync flag and period.
func (e *Extension) schedule() (bool, time.Duration, error) {
	r := settings.NewReader(e.store)
	enabled := r.Bool(KeySyncEnabled)
	minutes := r.Float(KeySyncInterval)
	if err := r.Err(); err != nil {
		return false, 0, err
	}
	return enabled, time.Duration(minutes * float64(time.Minute)), nil
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

// Refresh implements plugin.Extension. It syncs once when sync is enabled.
func (e *Extension) Refresh() error {
	enabled, err := e.store.Bool(KeySyncEnabled)
	if err != nil || !enabled {
		return err
	}
	return e.Sync()
}

func (e *Extension) tick() {
	if err := e.Sync(); err != nil {
		e.log.Warn("sync: %v", err)
	}
}

// SettingsChanged implements plugin.Extension. Only a change to the sync
// flag or period touches the timer.
func (e *Extension) SettingsChanged(changes settings.Changes) error {
	if !changes.Has(KeySyncEnabled, KeySyncInterval) {
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
	e.events = nil
}

// Sync fetches events, publishes the visible ones and fires reminders.
// A source failure is logged and published as the sync status; only a
// malformed setting is returned.
func (e *Extension) Sync() error {
	r := settings.NewReader(e.store)
	opts := reminder.Options{
		ShowAllDay: r.Bool(KeyShowAllDayEvents),
		MaxEvents:  r.Int(KeyShowUpcomingEvents),
	}
	window := reminder.Window{
		Enabled: r.Bool(KeyEventReminder),
		Minutes: r.Float(KeyReminderMinutes),
	}
	format := reminder.TimeFormat(r.String(KeyTimeFormat))
	if err := r.Err(); err != nil {
		return err
	}

	now := e.svc.Now()
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	events, err := e.source.Events(ctx, now)
	if err != nil {
		e.log.Warn("fetching events: %v", err)
		e.svc.Publish(plugin.Update{Kind: UpdateEvents, Data: map[string]any{
			"events": []map[string]any{},
			"status": fmt.Sprintf("sync failed: %v", err),
		}})
		return nil
	}

	e.events = reminder.Filter(events, opts)
	e.lastSync = now

	rows := make([]map[string]any, 0, len(e.events))
	for _, ev := range e.events {
		rows = append(rows, map[string]any{
			"title":      ev.Title,
			"start_time": ev.Start.Format(format.Layout()),
			"end_time":   ev.End.Format(format.Layout()),
			"all_day":    ev.AllDay,
			"status":     string(reminder.Classify(ev, now)),
		})
	}
	e.svc.Publish(plugin.Update{Kind: UpdateEvents, Data: map[string]any{
		"events": rows,
		"status": "last sync: " + now.Format("15:04"),
	}})
	e.log.Debug("synced %d events", len(e.events))

	for _, ev := range reminder.Due(e.events, now, window) {
		e.svc.Notify(ReminderTitle, reminder.Message(ev, format))
	}
	return nil
}

// Events returns the events kept by the last sync.
func (e *Extension) Events() []reminder.Event {
	return append([]reminder.Event(nil), e.events...)
}

// Extra implements plugin.Describer.
func (e *Extension) Extra() map[string]any {
	var last any
	if !e.lastSync.IsZero() {
		last = e.lastSync.Format(time.RFC3339)
	}
	return map[string]any{
		"last_sync":    last,
		"events_count": len(e.events),
	}
}
