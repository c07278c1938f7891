package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func at(d time.Duration, title string) Event {
	return Event{Title: title, Start: now.Add(d), End: now.Add(d + time.Hour)}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  Status
	}{
		{"ongoing", Event{Start: now.Add(-time.Minute), End: now.Add(time.Minute)}, StatusOngoing},
		{"starts now", Event{Start: now, End: now.Add(time.Hour)}, StatusOngoing},
		{"ends now", Event{Start: now.Add(-time.Hour), End: now}, StatusOngoing},
		{"in 30m", at(30*time.Minute, ""), StatusSoon},
		{"in 31m", at(31*time.Minute, ""), StatusUpcoming},
		{"already ended", Event{Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)}, StatusSoon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.event, now))
		})
	}
}

func TestFilter(t *testing.T) {
	allDay := Event{Title: "all day", Start: now.Truncate(24 * time.Hour), AllDay: true}
	in := []Event{at(5*time.Hour, "c"), at(time.Hour, "a"), allDay, at(3*time.Hour, "b")}

	got := Filter(in, Options{ShowAllDay: false, MaxEvents: 3})
	assert.Equal(t, []string{"a", "b", "c"}, titles(got))

	got = Filter(in, Options{ShowAllDay: true, MaxEvents: 2})
	assert.Equal(t, []string{"all day", "a"}, titles(got))

	assert.Empty(t, Filter(in, Options{ShowAllDay: true}))
	assert.Equal(t, "c", in[0].Title, "input is left untouched")
}

func TestFilterIsStable(t *testing.T) {
	in := []Event{at(time.Hour, "first"), at(time.Hour, "second"), at(0, "zero")}
	got := Filter(in, Options{MaxEvents: 10})
	assert.Equal(t, []string{"zero", "first", "second"}, titles(got))
}

func TestDueWindowBounds(t *testing.T) {
	w := Window{Enabled: true, Minutes: 15}
	tests := []struct {
		name   string
		offset time.Duration
		due    bool
	}{
		{"now", 0, true},
		{"inside", 90 * time.Second, true},
		{"edge", 15 * time.Minute, true},
		{"past edge", 15*time.Minute + time.Second, false},
		{"started", -time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Due([]Event{at(tt.offset, tt.name)}, now, w)
			if tt.due {
				require.Len(t, got, 1)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestDueDisabledAndRepeat(t *testing.T) {
	events := []Event{at(10*time.Minute, "standup")}

	assert.Nil(t, Due(events, now, Window{Enabled: false, Minutes: 15}))

	w := Window{Enabled: true, Minutes: 15}
	assert.Len(t, Due(events, now, w), 1)
	assert.Len(t, Due(events, now, w), 1, "no memory of earlier reminders")
}

func TestMessage(t *testing.T) {
	e := Event{Title: "review", Start: time.Date(2024, 3, 10, 14, 5, 0, 0, time.UTC)}
	assert.Equal(t, "'review' starts at 14:05", Message(e, Format24h))
	assert.Equal(t, "'review' starts at 02:05 PM", Message(e, Format12h))
	assert.Equal(t, "15:04", TimeFormat("weird").Layout())
}

func titles(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Title
	}
	return out
}
