package plugin

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/settings"
)

// Host drives a single extension instance through its lifecycle.
//
// Lifecycle operations are not meant to run concurrently with each other or
// with the extension's timer ticks; the Manager serializes them on one
// executor. State, Err and InstanceID are safe to call from any goroutine.
// An extension must not call back into its own Host from a tick.
type Host struct {
	mu sync.RWMutex

	// Identity
	info       Info
	instanceID string

	ext   Extension
	store *settings.Store
	svc   *trackedServices
	log   *logging.Logger

	state State
	err   error
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the logger used for lifecycle diagnostics.
func WithHostLogger(log *logging.Logger) HostOption {
	return func(h *Host) {
		h.log = log
	}
}

// WithHostSettings merges overrides into the extension defaults.
func WithHostSettings(overrides settings.Map) HostOption {
	return func(h *Host) {
		if len(overrides) > 0 {
			h.store.Update(overrides)
		}
	}
}

// NewHost creates a host in the Loaded state.
func NewHost(ext Extension, opts ...HostOption) *Host {
	info := ext.Info()
	h := &Host{
		info:       info,
		instanceID: uuid.NewString(),
		ext:        ext,
		store:      settings.NewStore(ext.DefaultSettings()),
		log:        logging.Null(),
		state:      StateLoaded,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("plugin", info.ID)
	return h
}

// ID returns the plugin id.
func (h *Host) ID() string { return h.info.ID }

// Subscribe registers fn for settings changes to any of keys, or to every
// change when no keys are given. Rolled back updates are reported too, as
// the keys moving back. The returned function removes the subscription.
func (h *Host) Subscribe(fn settings.Observer, keys ...string) func() {
	return h.store.Subscribe(fn, keys...)
}

// InstanceID identifies this instance. A recovered plugin gets a new one.
func (h *Host) InstanceID() string { return h.instanceID }

// Extension returns the hosted extension.
func (h *Host) Extension() Extension { return h.ext }

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the error that moved the host into StateError, if any.
func (h *Host) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Settings returns a copy of the current settings.
func (h *Host) Settings() settings.Map {
	return h.store.Get()
}

// TimerCount returns how many timers the extension has acquired.
func (h *Host) TimerCount() int {
	if h.svc == nil {
		return 0
	}
	return h.svc.count()
}

// Initialize binds services and lets the extension allocate its resources.
func (h *Host) Initialize(svc Services) error {
	if err := h.check(OpInitialize); err != nil {
		return err
	}

	tracked := &trackedServices{Services: svc}
	h.svc = tracked
	if err := h.call(func() error { return h.ext.Init(tracked, h.store) }); err != nil {
		h.svc.stopAll()
		return h.fail(OpInitialize, fmt.Errorf("%w: %w", ErrInitialization, err))
	}

	h.setState(StateInitialized)
	return nil
}

// Activate starts the extension's timers and performs one refresh.
func (h *Host) Activate() error {
	if err := h.check(OpActivate); err != nil {
		return err
	}

	err := h.call(func() error {
		if err := h.ext.Start(); err != nil {
			return err
		}
		return h.ext.Refresh()
	})
	if err != nil {
		h.halt()
		return h.fail(OpActivate, fmt.Errorf("%w: %w", ErrSchedule, err))
	}

	h.setState(StateEnabled)
	return nil
}

// Deactivate stops the extension's timers without releasing them.
func (h *Host) Deactivate() error {
	if err := h.check(OpDeactivate); err != nil {
		return err
	}

	err := h.call(func() error {
		h.ext.Stop()
		return nil
	})
	h.svc.stopAll()
	if err != nil {
		return h.fail(OpDeactivate, err)
	}

	h.setState(StateDisabled)
	return nil
}

// Cleanup releases everything. It deactivates first when enabled. No tick
// reaches the extension after Cleanup returns, whatever its outcome.
func (h *Host) Cleanup() error {
	if err := h.check(OpCleanup); err != nil {
		return err
	}

	from := h.State()
	err := h.call(func() error {
		if from == StateEnabled {
			h.ext.Stop()
		}
		if h.svc != nil {
			h.svc.stopAll()
			h.ext.Release()
		}
		return nil
	})
	if h.svc != nil {
		h.svc.stopAll()
	}
	if err != nil {
		return h.fail(OpCleanup, err)
	}

	h.mu.Lock()
	h.state = StateUnloaded
	h.err = nil
	h.mu.Unlock()
	return nil
}

// UpdateSettings merges patch into the settings, lets the extension react
// to the changed keys and refreshes once when enabled. On failure the
// previous settings are restored and the state is left unchanged.
func (h *Host) UpdateSettings(patch settings.Map) error {
	if err := h.check(OpUpdateSettings); err != nil {
		return err
	}

	before := h.store.Get()
	changes := h.store.Update(patch)
	state := h.State()
	if state == StateLoaded {
		return nil
	}

	err := h.call(func() error {
		if err := h.ext.SettingsChanged(changes); err != nil {
			return err
		}
		if state == StateEnabled {
			return h.ext.Refresh()
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if undo := h.store.Restore(before); undo.Any() {
		if rerr := h.call(func() error { return h.ext.SettingsChanged(undo) }); rerr != nil {
			h.log.WithField("op", OpUpdateSettings).Warn("rollback: %v", rerr)
		}
	}
	opErr := &OperationError{Plugin: h.info.ID, Op: OpUpdateSettings, Err: err}
	h.log.WithField("op", OpUpdateSettings).Error("%v", err)
	return opErr
}

// Invoke runs a named extension command.
func (h *Host) Invoke(command string) error {
	if err := h.check(OpInvoke); err != nil {
		return err
	}
	c, ok := h.ext.(Commander)
	if !ok {
		return fmt.Errorf("plugin %s: %w: %s", h.info.ID, ErrUnknownCommand, command)
	}
	if err := h.call(func() error { return c.Invoke(command) }); err != nil {
		return &OperationError{Plugin: h.info.ID, Op: OpInvoke, Err: err}
	}
	return nil
}

// Descriptor is the host-facing view of a plugin.
type Descriptor struct {
	Info
	Status   State          `json:"status"`
	Settings settings.Map   `json:"settings"`
	Extra    map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 7+len(d.Extra))
	for k, v := range d.Extra {
		out[k] = v
	}
	out["id"] = d.ID
	out["name"] = d.Name
	out["version"] = d.Version
	out["description"] = d.Description
	out["author"] = d.Author
	out["status"] = d.Status
	out["settings"] = d.Settings
	return json.Marshal(out)
}

// Info returns a fresh descriptor. Like lifecycle calls it must run in the
// execution context that delivers ticks, since extras read extension state.
func (h *Host) Info() Descriptor {
	d := Descriptor{
		Info:     h.info,
		Status:   h.State(),
		Settings: h.store.Get(),
	}
	if ds, ok := h.ext.(Describer); ok && h.svc != nil {
		_ = h.call(func() error {
			d.Extra = ds.Extra()
			return nil
		})
	}
	return d
}

// check returns a *TransitionError when op is not allowed from the current
// state.
func (h *Host) check(op Op) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.state.Allows(op) {
		return &TransitionError{Plugin: h.info.ID, Op: op, From: h.state}
	}
	return nil
}

// call runs fn and converts a panic into an error.
func (h *Host) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// halt stops the extension's timers after a failure, ignoring panics.
func (h *Host) halt() {
	_ = h.call(func() error {
		h.ext.Stop()
		return nil
	})
	if h.svc != nil {
		h.svc.stopAll()
	}
}

// fail moves the host to StateError and returns the wrapped error.
func (h *Host) fail(op Op, err error) error {
	opErr := &OperationError{Plugin: h.info.ID, Op: op, Err: err}
	h.mu.Lock()
	h.state = StateError
	h.err = opErr
	h.mu.Unlock()
	h.log.WithField("op", op).Error("%v", err)
	return opErr
}

func (h *Host) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.err = nil
	h.mu.Unlock()
}
