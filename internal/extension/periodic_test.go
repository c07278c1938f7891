package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pluginstore/internal/schedule"
)

func TestPeriodic(t *testing.T) {
	timer := schedule.NewManualTimer()
	calls := 0
	p := NewPeriodic(timer, func() { calls++ })

	// Inactive: reschedule does nothing.
	require.NoError(t, p.Reschedule(true, time.Second))
	assert.False(t, p.Running())

	require.NoError(t, p.Start(true, 15*time.Minute))
	assert.True(t, p.Active())
	assert.Equal(t, 15*time.Minute, p.Interval())

	timer.Advance(20 * time.Minute)
	assert.Equal(t, 1, calls)

	require.NoError(t, p.Reschedule(true, 30*time.Minute))
	assert.Equal(t, []time.Duration{15 * time.Minute, 30 * time.Minute}, timer.Starts())
	timer.Advance(29 * time.Minute)
	assert.Equal(t, 1, calls, "partial period discarded")

	require.NoError(t, p.Reschedule(false, 30*time.Minute))
	assert.False(t, p.Running())
	assert.True(t, p.Active())

	require.NoError(t, p.Reschedule(true, time.Minute))
	assert.True(t, p.Running())

	p.Stop()
	assert.False(t, p.Active())
	assert.False(t, p.Running())
}

func TestPeriodicDisabledStart(t *testing.T) {
	timer := schedule.NewManualTimer()
	p := NewPeriodic(timer, func() {})

	require.NoError(t, p.Start(false, time.Minute))
	assert.True(t, p.Active())
	assert.False(t, p.Running())
}

func TestPeriodicBadInterval(t *testing.T) {
	p := NewPeriodic(schedule.NewManualTimer(), func() {})
	assert.ErrorIs(t, p.Start(true, 0), schedule.ErrInvalidInterval)
}
