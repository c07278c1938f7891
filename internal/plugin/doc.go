// Package plugin provides the plugin lifecycle for pluginstore.
//
// Every extension runs inside a Host that walks it through a fixed set of
// states:
//
//	Loaded → Initialized → Enabled ⇄ Disabled → Unloaded
//
// Any state may fall into Error when the extension fails or panics; from
// Error only Cleanup is accepted. A call made from a state that does not
// allow it returns a *TransitionError wrapping ErrInvalidStateTransition
// and changes nothing.
//
// # Execution model
//
// The Manager runs every lifecycle call on a schedule.Executor, and the
// timers an extension obtains from Services post their ticks to that same
// executor. Calls and ticks therefore never overlap, and a tick posted
// before Deactivate or Cleanup returned is discarded.
//
//	loop := schedule.NewLoop()
//	mgr := plugin.NewManager(loop, plugin.Env{
//	    Timer: func(string) schedule.Timer { return schedule.NewTickerTimer(loop) },
//	    Sink:  notify.NewLogSink(log),
//	})
//	mgr.Register(pomodoro.New, nil)
//	mgr.InitializeAll(ctx)
//	mgr.ActivateAll(ctx)
//	defer mgr.CleanupAll(ctx)
//
// # Recovery
//
// Nothing is retried automatically. An instance in Error is cleaned up and
// replaced with Manager.Recover, which builds a fresh extension from the
// registered factory and initializes it.
//
// # Script plugins
//
// Loader discovers plugin directories holding a manifest.json (comments
// allowed) or manifest.yaml, plus bare name.lua files. The script extension
// package turns each one into an Extension.
package plugin
