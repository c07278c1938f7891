package app

import (
	"context"
	"time"

	"github.com/dshills/pluginstore/internal/config"
	"github.com/dshills/pluginstore/internal/logging"
)

// reloadTimeout bounds applying one configuration reload.
const reloadTimeout = 10 * time.Second

// applyConfig brings running plugins in line with a reloaded configuration.
// Settings changes go through UpdateSettings so each plugin re-derives its
// schedule; enabled flips activate or deactivate.
func (app *Application) applyConfig(cfg *config.Config, changes []config.PluginChange) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	if app.opts.LogLevel == "" {
		if level, ok := logging.ParseLevel(cfg.LogLevel); ok && level != app.log.Level() {
			app.log.SetLevel(level)
			app.log.Info("log level set to %s", level)
		}
	}

	app.mu.Lock()
	app.config = cfg
	app.mu.Unlock()

	for _, c := range changes {
		if _, ok := app.manager.Get(c.ID); !ok {
			app.log.Warn("config names unknown plugin %s", c.ID)
			continue
		}
		if c.Settings != nil {
			if err := app.manager.UpdateSettings(ctx, c.ID, c.Settings); err != nil {
				app.log.Warn("update %s settings: %v", c.ID, err)
			}
		}
		if !c.EnabledChanged {
			continue
		}
		var err error
		if c.Enabled {
			err = app.manager.Activate(ctx, c.ID)
		} else {
			err = app.manager.Deactivate(ctx, c.ID)
		}
		if err != nil {
			app.log.Warn("apply %s enabled=%t: %v", c.ID, c.Enabled, err)
		}
	}
}
