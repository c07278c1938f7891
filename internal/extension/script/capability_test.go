package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantsDefaultToAll(t *testing.T) {
	g, err := NewGrants(nil)
	require.NoError(t, err)
	for _, c := range []Capability{CapabilityNotify, CapabilityPublish, CapabilityClock} {
		assert.True(t, g.Has(c), c)
	}
	assert.Equal(t, []string{"host"}, g.List())
}

func TestGrantsExplicit(t *testing.T) {
	g, err := NewGrants([]string{"host.clock", "host.notify"})
	require.NoError(t, err)

	assert.True(t, g.Has(CapabilityClock))
	assert.True(t, g.Has(CapabilityNotify))
	assert.False(t, g.Has(CapabilityPublish))
	assert.False(t, g.Has(CapabilityHost))
	assert.Equal(t, []string{"host.clock", "host.notify"}, g.List())

	err = g.Check(CapabilityPublish, "publish")
	var cerr *CapabilityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CapabilityPublish, cerr.Capability)
	assert.NoError(t, g.Check(CapabilityClock, "now"))
}

func TestGrantsEmptyListGrantsNothing(t *testing.T) {
	g, err := NewGrants([]string{})
	require.NoError(t, err)
	assert.False(t, g.Has(CapabilityNotify))
	assert.Empty(t, g.List())
}

func TestGrantsRejectUnknown(t *testing.T) {
	_, err := NewGrants([]string{"host.notify", "shell"})
	assert.Error(t, err)
}

func TestIsChildOf(t *testing.T) {
	assert.True(t, IsChildOf(CapabilityNotify, CapabilityHost))
	assert.False(t, IsChildOf(CapabilityHost, CapabilityHost))
	assert.False(t, IsChildOf("hostile", CapabilityHost))
}
