// Package app wires the plugin host together: configuration, the shared
// execution loop, the plugin manager with its built-in and scripted
// extensions, cycle history, metrics and live config reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/pluginstore/internal/config"
	"github.com/dshills/pluginstore/internal/extension/pomodoro"
	"github.com/dshills/pluginstore/internal/history"
	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/metrics"
	"github.com/dshills/pluginstore/internal/notify"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/schedule"
)

// ShutdownTimeout bounds plugin cleanup on shutdown.
const ShutdownTimeout = 5 * time.Second

// Application is the central coordinator for the plugin host.
type Application struct {
	mu sync.RWMutex

	// Core infrastructure
	config *config.Config
	log    *logging.Logger
	loop   *schedule.Loop

	// Plugins
	manager       *plugin.Manager
	board         *Board
	notifications *notify.Channel

	// Supporting services
	metrics *metrics.Metrics
	history *history.Store
	watcher *config.Watcher

	// State
	running   atomic.Bool
	stop      context.CancelFunc
	closeOnce sync.Once
	closeErr  error
	cleanups  []func() error

	opts Options
}

// Options configures the application.
type Options struct {
	// ConfigPath is the path to the configuration file. Empty uses defaults
	// and the environment only.
	ConfigPath string

	// LogLevel overrides the configured level when set.
	LogLevel string

	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer

	// Autostart starts the pomodoro countdown once plugins are active.
	Autostart bool

	// Notifier receives notifications in addition to the log.
	Notifier notify.Sink

	// Watch reloads the configuration file when it changes.
	Watch bool

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// New creates an Application. Plugins are registered but not initialized
// until Start.
func New(opts Options) (*Application, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	app := &Application{opts: opts}

	b := newBootstrapper(app, opts)
	if err := b.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Start initializes every plugin and activates the enabled ones. Plugin
// failures are logged and leave the plugin in the error state; they do not
// fail Start.
func (app *Application) Start(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := app.manager.InitializeAll(ctx); err != nil {
		app.log.Warn("initialize: %v", err)
	}

	cfg := app.Config()
	for _, h := range app.manager.ListByState(plugin.StateInitialized) {
		if !cfg.Plugin(h.ID()).IsEnabled() {
			app.log.Info("plugin %s disabled by configuration", h.ID())
			continue
		}
		if err := app.manager.Activate(ctx, h.ID()); err != nil {
			app.log.Warn("activate %s: %v", h.ID(), err)
		}
	}

	if app.opts.Autostart {
		if err := app.Invoke(ctx, pomodoro.ID, pomodoro.CommandStart); err != nil {
			app.log.Warn("autostart: %v", err)
		}
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	app.stop = cancel
	if cfg.MetricsAddr != "" {
		go func() {
			if err := app.metrics.Serve(serveCtx, cfg.MetricsAddr, app.log); err != nil {
				app.log.Error("metrics: %v", err)
			}
		}()
	}

	if app.opts.Watch && app.opts.ConfigPath != "" {
		w, err := config.NewWatcher(app.opts.ConfigPath, cfg, app.applyConfig,
			config.WithWatcherLogger(app.log.WithComponent("config")),
		)
		if err != nil {
			app.log.Warn("config watch disabled: %v", err)
		} else {
			app.watcher = w
		}
	}

	app.log.Info("started %d plugins, %d active",
		app.manager.Count(), len(app.manager.ListByState(plugin.StateEnabled)))
	return nil
}

// Run starts the application and blocks until ctx is done, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return app.Close()
}

// Close cleans up every plugin and releases all resources. It is safe to
// call more than once and on an application that was never started.
func (app *Application) Close() error {
	app.closeOnce.Do(func() {
		var errs []error

		if app.stop != nil {
			app.stop()
		}
		if app.watcher != nil {
			if err := app.watcher.Close(); err != nil {
				errs = append(errs, &ComponentError{Component: "config", Action: "close watcher", Err: err})
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		if err := app.manager.CleanupAll(ctx); err != nil {
			errs = append(errs, &ComponentError{Component: "plugins", Action: "cleanup", Err: err})
		}
		cancel()

		for i := len(app.cleanups) - 1; i >= 0; i-- {
			if err := app.cleanups[i](); err != nil {
				errs = append(errs, err)
			}
		}
		app.running.Store(false)
		app.closeErr = errors.Join(errs...)
	})
	return app.closeErr
}

// IsRunning returns true if the application was started and not closed.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Invoke runs a plugin command.
func (app *Application) Invoke(ctx context.Context, id, command string) error {
	if !app.IsRunning() {
		return ErrNotRunning
	}
	if _, ok := app.manager.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	return app.manager.Invoke(ctx, id, command)
}

// Config returns the current configuration.
func (app *Application) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Logger returns the root logger.
func (app *Application) Logger() *logging.Logger { return app.log }

// Manager returns the plugin manager.
func (app *Application) Manager() *plugin.Manager { return app.manager }

// Board returns the latest widget updates.
func (app *Application) Board() *Board { return app.board }

// Notifications returns every notification fired by a plugin. The channel
// is closed by Close; notifications are dropped while it is full.
func (app *Application) Notifications() <-chan notify.Notification {
	return app.notifications.C()
}

// Metrics returns the metrics collectors.
func (app *Application) Metrics() *metrics.Metrics { return app.metrics }

// History returns the cycle history store.
func (app *Application) History() *history.Store { return app.history }
