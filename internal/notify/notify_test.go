package notify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/pluginstore/internal/logging"
)

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(1)
	c.Notify(Notification{Title: "first"})
	c.Notify(Notification{Title: "second"})

	got := <-c.C()
	assert.Equal(t, "first", got.Title)
	select {
	case n := <-c.C():
		t.Fatalf("unexpected notification %q", n.Title)
	default:
	}
}

func TestChannelClose(t *testing.T) {
	c := NewChannel(4)
	c.Close()
	c.Close()
	c.Notify(Notification{Title: "late"})

	_, ok := <-c.C()
	assert.False(t, ok)
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}
	m.Notify(Notification{Title: "x"})

	assert.Equal(t, []string{"x"}, a.Titles())
	assert.Len(t, b.All(), 1)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logging.New(logging.Config{Output: &buf}))
	s.Notify(Notification{Source: "pomodoro_timer", Title: "Break finished", Message: "back to work"})

	assert.Contains(t, buf.String(), "Break finished - back to work")
	assert.Contains(t, buf.String(), "source=pomodoro_timer")
}
