package plugin

import "fmt"

// State represents the lifecycle state of a plugin instance.
type State int

// Plugin states.
const (
	// StateLoaded - Instance exists, nothing acquired yet.
	StateLoaded State = iota

	// StateInitialized - Services bound, timers and widgets allocated.
	StateInitialized

	// StateEnabled - Timers running, refreshes flowing.
	StateEnabled

	// StateDisabled - Timers stopped but still owned.
	StateDisabled

	// StateUnloaded - Everything released. Terminal for the instance.
	StateUnloaded

	// StateError - An operation failed. Only Cleanup is accepted.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateUnloaded:
		return "unloaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for c := StateLoaded; c <= StateError; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown plugin state %q", b)
}

// IsTerminal reports whether no further lifecycle call succeeds from s
// except an explicit cleanup.
func (s State) IsTerminal() bool {
	return s == StateUnloaded || s == StateError
}

// Op names a lifecycle operation.
type Op string

// Lifecycle operations.
const (
	OpInitialize     Op = "initialize"
	OpActivate       Op = "activate"
	OpDeactivate     Op = "deactivate"
	OpCleanup        Op = "cleanup"
	OpUpdateSettings Op = "update_settings"
	OpInvoke         Op = "invoke"
)

// allowed lists the states each operation may start from.
var allowed = map[Op][]State{
	OpInitialize:     {StateLoaded},
	OpActivate:       {StateInitialized, StateDisabled},
	OpDeactivate:     {StateEnabled},
	OpCleanup:        {StateLoaded, StateInitialized, StateEnabled, StateDisabled, StateError},
	OpUpdateSettings: {StateLoaded, StateInitialized, StateEnabled, StateDisabled},
	OpInvoke:         {StateInitialized, StateEnabled, StateDisabled},
}

// Allows reports whether op may start from state s.
func (s State) Allows(op Op) bool {
	for _, from := range allowed[op] {
		if from == s {
			return true
		}
	}
	return false
}
