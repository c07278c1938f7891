package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/schedule"
	"github.com/dshills/pluginstore/internal/settings"
)

// Manager owns every plugin host and routes lifecycle calls through one
// executor, so calls and timer ticks never run concurrently.
type Manager struct {
	mu sync.RWMutex

	exec schedule.Executor
	env  Env
	log  *logging.Logger

	// Registered plugins by id
	entries map[string]*entry

	// Registration order (for deterministic iteration)
	order []string

	// Event handlers (protected by mu)
	eventHandlers []EventHandler
}

type entry struct {
	host    *Host
	factory Factory

	// overrides follows the host's live settings so Recover rebuilds the
	// instance as it was last configured. Guarded by Manager.mu.
	overrides settings.Map
	unwatch   func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(log *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// EventHandler handles plugin manager events.
// Handlers run on the goroutine that called the Manager, after the
// operation finished. They must not block. Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	From   State
	To     State
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginRegistered is emitted when a plugin is registered.
	EventPluginRegistered ManagerEventType = iota
	// EventPluginInitialized is emitted when a plugin is initialized.
	EventPluginInitialized
	// EventPluginActivated is emitted when a plugin is activated.
	EventPluginActivated
	// EventPluginDeactivated is emitted when a plugin is deactivated.
	EventPluginDeactivated
	// EventPluginUnloaded is emitted when a plugin is cleaned up.
	EventPluginUnloaded
	// EventPluginSettingsUpdated is emitted after a settings update.
	EventPluginSettingsUpdated
	// EventPluginRecovered is emitted when a plugin gets a fresh instance.
	EventPluginRecovered
	// EventPluginError is emitted when a plugin operation fails.
	EventPluginError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginRegistered:
		return "registered"
	case EventPluginInitialized:
		return "initialized"
	case EventPluginActivated:
		return "activated"
	case EventPluginDeactivated:
		return "deactivated"
	case EventPluginUnloaded:
		return "unloaded"
	case EventPluginSettingsUpdated:
		return "settings_updated"
	case EventPluginRecovered:
		return "recovered"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// NewManager creates a manager that runs every call on exec and builds
// each plugin's Services from env.
func NewManager(exec schedule.Executor, env Env, opts ...ManagerOption) *Manager {
	m := &Manager{
		exec:    exec,
		env:     env,
		log:     logging.Null(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithComponent("plugins")
	return m
}

// Register creates a host from factory with the given setting overrides.
func (m *Manager) Register(factory Factory, overrides settings.Map) (*Host, error) {
	host := NewHost(factory(), WithHostSettings(overrides), WithHostLogger(m.log))
	id := host.ID()

	m.mu.Lock()
	if _, exists := m.entries[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("plugin %q: %w", id, ErrAlreadyRegistered)
	}
	e := &entry{host: host, factory: factory, overrides: overrides.Clone()}
	m.entries[id] = e
	m.order = append(m.order, id)
	m.mu.Unlock()
	m.watch(e)

	m.emitEvent(ManagerEvent{Type: EventPluginRegistered, Plugin: id, To: StateLoaded})
	return host, nil
}

// Get returns a plugin host by id.
func (m *Manager) Get(id string) (*Host, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[id]
	if !exists {
		return nil, false
	}
	return e.host, true
}

// List returns all hosts in registration order.
func (m *Manager) List() []*Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Host, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.entries[id].host)
	}
	return result
}

// IDs returns the registered ids in registration order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// ListByState returns hosts in a specific state.
func (m *Manager) ListByState(state State) []*Host {
	var result []*Host
	for _, h := range m.List() {
		if h.State() == state {
			result = append(result, h)
		}
	}
	return result
}

// Count returns the number of registered plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Errors returns every plugin in error state with its error.
func (m *Manager) Errors() map[string]error {
	errs := make(map[string]error)
	for _, h := range m.ListByState(StateError) {
		errs[h.ID()] = h.Err()
	}
	return errs
}

// Initialize initializes a plugin.
func (m *Manager) Initialize(ctx context.Context, id string) error {
	return m.run(ctx, id, EventPluginInitialized, func(h *Host) error {
		return h.Initialize(m.env.For(id))
	})
}

// Activate activates a plugin.
func (m *Manager) Activate(ctx context.Context, id string) error {
	return m.run(ctx, id, EventPluginActivated, (*Host).Activate)
}

// Deactivate deactivates a plugin.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	return m.run(ctx, id, EventPluginDeactivated, (*Host).Deactivate)
}

// Cleanup cleans a plugin up.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	return m.run(ctx, id, EventPluginUnloaded, (*Host).Cleanup)
}

// UpdateSettings applies a settings patch to a plugin.
func (m *Manager) UpdateSettings(ctx context.Context, id string, patch settings.Map) error {
	return m.run(ctx, id, EventPluginSettingsUpdated, func(h *Host) error {
		return h.UpdateSettings(patch)
	})
}

// Invoke runs a named command on a plugin.
func (m *Manager) Invoke(ctx context.Context, id, command string) error {
	host, err := m.host(id)
	if err != nil {
		return err
	}
	var opErr error
	if err := m.exec.Do(ctx, func() { opErr = host.Invoke(command) }); err != nil {
		return fmt.Errorf("plugin %q: %w", id, err)
	}
	return opErr
}

// Recover replaces a plugin with a fresh instance from its factory. The old
// instance is cleaned up first unless already unloaded, and the new one is
// initialized. Recover never retries on its own.
func (m *Manager) Recover(ctx context.Context, id string) (*Host, error) {
	m.mu.RLock()
	e, exists := m.entries[id]
	var overrides settings.Map
	var old *Host
	if exists {
		overrides = e.overrides.Clone()
		old = e.host
	}
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}

	var fresh *Host
	var opErr error
	err := m.exec.Do(ctx, func() {
		if old.State() != StateUnloaded {
			if err := old.Cleanup(); err != nil {
				opErr = err
				return
			}
		}
		fresh = NewHost(e.factory(), WithHostSettings(overrides), WithHostLogger(m.log))
		opErr = fresh.Initialize(m.env.For(id))
	})
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", id, err)
	}
	if fresh != nil {
		m.mu.Lock()
		e.host = fresh
		m.mu.Unlock()
		m.watch(e)
	}
	if opErr != nil {
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: id, Error: opErr})
		return fresh, opErr
	}

	m.emitEvent(ManagerEvent{Type: EventPluginRecovered, Plugin: id, From: StateUnloaded, To: StateInitialized})
	return fresh, nil
}

// watch records settings changes on the entry's current host into its
// overrides, replacing any previous subscription.
func (m *Manager) watch(e *entry) {
	m.mu.Lock()
	host := e.host
	if e.unwatch != nil {
		e.unwatch()
	}
	m.mu.Unlock()

	unwatch := host.Subscribe(func(changes settings.Changes) {
		m.mu.Lock()
		defer m.mu.Unlock()
		for k, c := range changes {
			if c.Removed {
				delete(e.overrides, k)
				continue
			}
			e.overrides[k] = c.New
		}
	})

	m.mu.Lock()
	e.unwatch = unwatch
	m.mu.Unlock()
}

// Overrides returns the settings a recovered instance of id would start
// with: the registered overrides plus every later change.
func (m *Manager) Overrides(id string) (settings.Map, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	return e.overrides.Clone(), nil
}

// Do runs fn in the execution context shared by lifecycle calls and ticks.
// It must not be called from that context.
func (m *Manager) Do(ctx context.Context, fn func()) error {
	return m.exec.Do(ctx, fn)
}

// Descriptors returns a descriptor for every plugin in registration order.
func (m *Manager) Descriptors(ctx context.Context) ([]Descriptor, error) {
	hosts := m.List()
	out := make([]Descriptor, 0, len(hosts))
	err := m.exec.Do(ctx, func() {
		for _, h := range hosts {
			out = append(out, h.Info())
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InitializeAll initializes every plugin still in the Loaded state.
func (m *Manager) InitializeAll(ctx context.Context) error {
	return m.each(ctx, m.IDs(), StateLoaded, m.Initialize)
}

// ActivateAll activates every initialized plugin.
func (m *Manager) ActivateAll(ctx context.Context) error {
	return m.each(ctx, m.IDs(), StateInitialized, m.Activate)
}

// CleanupAll cleans up every plugin in reverse registration order.
func (m *Manager) CleanupAll(ctx context.Context) error {
	ids := m.IDs()
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	var cleanupErrors []error
	for _, id := range ids {
		h, ok := m.Get(id)
		if !ok || h.State() == StateUnloaded {
			continue
		}
		if err := m.Cleanup(ctx, id); err != nil {
			cleanupErrors = append(cleanupErrors, err)
		}
	}
	if len(cleanupErrors) > 0 {
		return fmt.Errorf("failed to clean up %d plugins: %w", len(cleanupErrors), errors.Join(cleanupErrors...))
	}
	return nil
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

func (m *Manager) each(ctx context.Context, ids []string, want State, fn func(context.Context, string) error) error {
	var errs []error
	for _, id := range ids {
		h, ok := m.Get(id)
		if !ok || h.State() != want {
			continue
		}
		if err := fn(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d plugins failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (m *Manager) host(id string) (*Host, error) {
	h, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	return h, nil
}

// run executes op on the plugin's host inside the executor and emits the
// matching event.
func (m *Manager) run(ctx context.Context, id string, success ManagerEventType, op func(*Host) error) error {
	host, err := m.host(id)
	if err != nil {
		return err
	}

	var from, to State
	var opErr error
	err = m.exec.Do(ctx, func() {
		from = host.State()
		opErr = op(host)
		to = host.State()
	})
	if err != nil {
		return fmt.Errorf("plugin %q: %w", id, err)
	}

	if opErr != nil {
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: id, From: from, To: to, Error: opErr})
		return opErr
	}
	m.emitEvent(ManagerEvent{Type: success, Plugin: id, From: from, To: to})
	return nil
}

// emitEvent sends an event to all handlers.
// Handlers are called outside any locks and panics are recovered.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Warn("event handler panicked: %v", r)
				}
			}()
			handler(event)
		}()
	}
}
