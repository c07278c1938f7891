package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrInvalidStateTransition is returned when an operation is called from
	// a state that does not allow it. The state is left unchanged.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInitialization is returned when an extension fails to initialize.
	ErrInitialization = errors.New("initialization failed")

	// ErrSchedule is returned when timers cannot be started or a refresh
	// fails during activation.
	ErrSchedule = errors.New("schedule failed")

	// ErrPanic marks an error recovered from a panic inside an extension.
	ErrPanic = errors.New("extension panicked")

	// ErrPluginNotFound is returned when a plugin id is not registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered is returned when registering a duplicate id.
	ErrAlreadyRegistered = errors.New("plugin is already registered")

	// ErrUnknownCommand is returned by Invoke for a command the extension
	// does not provide.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNoManifest is returned when a plugin directory has no manifest.
	ErrNoManifest = errors.New("plugin has no manifest")

	// ErrNoEntryPoint is returned when a script plugin has no main file.
	ErrNoEntryPoint = errors.New("plugin has no entry point")
)

// TransitionError reports a lifecycle call made from a disallowed state.
type TransitionError struct {
	Plugin string
	Op     Op
	From   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plugin %s: cannot %s from state %s", e.Plugin, e.Op, e.From)
}

// Unwrap returns ErrInvalidStateTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// OperationError reports a lifecycle operation that failed inside the
// extension.
type OperationError struct {
	Plugin string
	Op     Op
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error { return e.Err }
