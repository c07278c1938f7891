package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/dshills/pluginstore/internal/config"
	"github.com/dshills/pluginstore/internal/cycle"
	"github.com/dshills/pluginstore/internal/extension/calendar"
	"github.com/dshills/pluginstore/internal/extension/pomodoro"
	"github.com/dshills/pluginstore/internal/extension/script"
	"github.com/dshills/pluginstore/internal/extension/theme"
	"github.com/dshills/pluginstore/internal/extension/weather"
	"github.com/dshills/pluginstore/internal/history"
	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/metrics"
	"github.com/dshills/pluginstore/internal/notify"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/schedule"
)

// historyTimeout bounds a single history write from the plugin loop.
const historyTimeout = 2 * time.Second

// notificationBuffer is how many notifications wait for a reader before
// new ones are dropped.
const notificationBuffer = 32

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 8),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []func() error{
		b.initConfig,
		b.initLogger,
		b.initMetrics,
		b.initHistory,
		b.initLoop,
		b.initManager,
		b.registerPlugins,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.cleanup()
			return err
		}
	}
	b.app.log.Debug("bootstrapped %v", b.initOrder)
	return nil
}

func (b *bootstrapper) initConfig() error {
	cfg, err := config.Load(b.opts.ConfigPath)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if b.opts.LogLevel != "" {
		if _, ok := logging.ParseLevel(b.opts.LogLevel); !ok {
			return &InitError{Component: "config", Err: fmt.Errorf("%w: log level %q", config.ErrValidationFailed, b.opts.LogLevel)}
		}
		cfg.LogLevel = b.opts.LogLevel
	}
	b.app.config = cfg
	b.initOrder = append(b.initOrder, "config")
	return nil
}

func (b *bootstrapper) initLogger() error {
	level, _ := logging.ParseLevel(b.app.config.LogLevel)
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	if b.opts.LogOutput != nil {
		logCfg.Output = b.opts.LogOutput
	}
	b.app.log = logging.New(logCfg)
	b.initOrder = append(b.initOrder, "logger")
	return nil
}

func (b *bootstrapper) initMetrics() error {
	b.app.metrics = metrics.New()
	b.initOrder = append(b.initOrder, "metrics")
	return nil
}

func (b *bootstrapper) initHistory() error {
	dir := b.app.config.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &InitError{Component: "history", Err: err}
	}
	store, err := history.Open(filepath.Join(dir, history.FileName))
	if err != nil {
		return &InitError{Component: "history", Err: err}
	}
	b.app.history = store
	b.app.cleanups = append(b.app.cleanups, func() error {
		if err := store.Close(); err != nil {
			return &ComponentError{Component: "history", Action: "close", Err: err}
		}
		return nil
	})
	b.initOrder = append(b.initOrder, "history")
	return nil
}

func (b *bootstrapper) initLoop() error {
	log := b.app.log.WithComponent("loop")
	loop := schedule.NewLoop(schedule.WithPanicHandler(func(r any) {
		log.Error("recovered panic: %v", r)
	}))
	b.app.loop = loop
	b.app.cleanups = append(b.app.cleanups, func() error {
		loop.Close()
		return nil
	})
	b.initOrder = append(b.initOrder, "loop")
	return nil
}

func (b *bootstrapper) initManager() error {
	app := b.app
	app.board = NewBoard(app.log.WithComponent("board"))

	app.notifications = notify.NewChannel(notificationBuffer)
	b.app.cleanups = append(b.app.cleanups, func() error {
		app.notifications.Close()
		return nil
	})
	sinks := notify.Multi{notify.NewLogSink(app.log), app.notifications}
	if b.opts.Notifier != nil {
		sinks = append(sinks, b.opts.Notifier)
	}

	env := plugin.Env{
		Timer: app.metrics.Timers(func(string) schedule.Timer {
			return schedule.NewTickerTimer(app.loop)
		}),
		Sink:    app.metrics.Sink(sinks),
		Updates: app.board.Publish,
		Log:     app.log,
		Clock:   b.opts.Clock,
	}
	app.manager = plugin.NewManager(app.loop, env, plugin.WithManagerLogger(app.log))

	app.manager.Subscribe(app.metrics.Observe)
	app.manager.Subscribe(func(ev plugin.ManagerEvent) {
		if ev.Type == plugin.EventPluginError {
			app.log.Warn("plugin %s: %v", ev.Plugin, ev.Error)
		}
	})
	app.metrics.TrackStates(func() []plugin.State {
		hosts := app.manager.List()
		states := make([]plugin.State, len(hosts))
		for i, h := range hosts {
			states[i] = h.State()
		}
		return states
	})

	b.initOrder = append(b.initOrder, "manager")
	return nil
}

type registration struct {
	id      string
	factory plugin.Factory
}

// registerPlugins registers the built-in extensions, then every scripted
// plugin found in the configured directories. A script whose id is taken
// is skipped.
func (b *bootstrapper) registerPlugins() error {
	app := b.app
	regs := []registration{
		{pomodoro.ID, pomodoro.New(pomodoro.WithHistory(app.recordCompletion))},
		{calendar.ID, calendar.New()},
		{weather.ID, weather.New()},
		{theme.ID, theme.New()},
	}

	loader := plugin.NewLoader(
		plugin.WithPaths(app.config.PluginDirs...),
		plugin.WithFs(afero.NewOsFs()),
	)
	found, err := loader.Discover()
	if err != nil {
		app.log.Warn("plugin discovery: %v", err)
	}
	for _, d := range found {
		if d.Err != nil {
			app.log.Warn("skipping plugin %s in %s: %v", d.ID, d.Dir, d.Err)
			continue
		}
		regs = append(regs, registration{d.ID, script.New(d.Manifest)})
	}

	for _, r := range regs {
		if _, err := app.manager.Register(r.factory, app.config.Plugin(r.id).Settings); err != nil {
			app.log.Warn("register %s: %v", r.id, err)
		}
	}
	b.initOrder = append(b.initOrder, "plugins")
	return nil
}

// cleanup releases whatever was initialized before a failed step.
func (b *bootstrapper) cleanup() {
	for i := len(b.app.cleanups) - 1; i >= 0; i-- {
		_ = b.app.cleanups[i]()
	}
	b.app.cleanups = nil
}

// recordCompletion stores a finished pomodoro phase. It runs on the plugin
// loop, so the write is bounded.
func (app *Application) recordCompletion(c cycle.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	_, err := app.history.Record(ctx, history.Entry{
		Plugin:      pomodoro.ID,
		Phase:       c.Completed.String(),
		Next:        c.Next.String(),
		CycleCount:  c.CycleCount,
		Duration:    c.Length,
		CompletedAt: app.opts.Clock(),
	})
	if err != nil {
		app.log.Warn("history: %v", err)
	}
}
