package plugin

import (
	"github.com/dshills/pluginstore/internal/settings"
)

// Info is the static identity of an extension.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`
}

// Extension is the behavior a plugin supplies. A Host calls these methods
// only from the states its lifecycle allows, and always from the single
// execution context that also delivers timer ticks.
type Extension interface {
	// Info returns the extension identity.
	Info() Info

	// DefaultSettings returns the initial settings. The host copies it.
	DefaultSettings() settings.Map

	// Init binds services and allocates timers. Timers must be created
	// through svc.NewTimer so the host can stop them on cleanup.
	Init(svc Services, store *settings.Store) error

	// Start starts owned timers when the extension's settings enable them.
	Start() error

	// Stop stops owned timers. Stopping stopped timers is a no-op.
	Stop()

	// Refresh performs one immediate update outside the timer schedule.
	Refresh() error

	// SettingsChanged lets the extension re-derive its schedule from the
	// keys that actually changed. Called only after Init.
	SettingsChanged(changes settings.Changes) error

	// Release frees everything acquired by Init. It may follow a failed
	// Init.
	Release()
}

// Commander is implemented by extensions that accept named commands.
type Commander interface {
	Commands() []string
	Invoke(command string) error
}

// Describer is implemented by extensions that add fields to their
// descriptor.
type Describer interface {
	Extra() map[string]any
}

// Factory creates a fresh extension instance.
type Factory func() Extension
