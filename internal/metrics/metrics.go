// Package metrics exports plugin lifecycle, tick and notification counters
// in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/notify"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/schedule"
)

const namespace = "pluginstore"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	ticks         *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New creates the collectors and registers them along with the Go runtime
// collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_events_total",
			Help:      "Plugin manager events by plugin and type.",
		}, []string{"plugin", "event"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_failures_total",
			Help:      "Lifecycle operations that failed and moved a plugin to the error state.",
		}, []string{"plugin"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_rejected_transitions_total",
			Help:      "Lifecycle calls rejected because of the plugin state.",
		}, []string{"plugin"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_ticks_total",
			Help:      "Timer ticks delivered to plugins.",
		}, []string{"plugin"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications fired by plugins.",
		}, []string{"plugin"}),
	}
	m.registry.MustRegister(
		m.events, m.failures, m.rejected, m.ticks, m.notifications,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records a manager event. Pass it to plugin.Manager.Subscribe.
func (m *Metrics) Observe(ev plugin.ManagerEvent) {
	m.events.WithLabelValues(ev.Plugin, ev.Type.String()).Inc()
	if ev.Type != plugin.EventPluginError {
		return
	}
	if errors.Is(ev.Error, plugin.ErrInvalidStateTransition) {
		m.rejected.WithLabelValues(ev.Plugin).Inc()
		return
	}
	if ev.To == plugin.StateError {
		m.failures.WithLabelValues(ev.Plugin).Inc()
	}
}

// Timers wraps a plugin timer factory so every delivered tick is counted.
func (m *Metrics) Timers(next func(plugin string) schedule.Timer) func(plugin string) schedule.Timer {
	return func(id string) schedule.Timer {
		return &countingTimer{Timer: next(id), ticks: m.ticks.WithLabelValues(id)}
	}
}

type countingTimer struct {
	schedule.Timer
	ticks prometheus.Counter
}

func (t *countingTimer) Start(interval time.Duration, fn func()) error {
	if fn == nil {
		return t.Timer.Start(interval, nil)
	}
	return t.Timer.Start(interval, func() {
		t.ticks.Inc()
		fn()
	})
}

// Sink wraps next so every notification is counted.
func (m *Metrics) Sink(next notify.Sink) notify.Sink {
	return notify.Func(func(n notify.Notification) {
		m.notifications.WithLabelValues(n.Source).Inc()
		next.Notify(n)
	})
}

// TrackStates exports the number of plugins per lifecycle state, computed
// at scrape time from states.
func (m *Metrics) TrackStates(states func() []plugin.State) {
	m.registry.MustRegister(&stateCollector{
		states: states,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "plugins"),
			"Plugins by lifecycle state.",
			[]string{"state"}, nil,
		),
	})
}

type stateCollector struct {
	states func() []plugin.State
	desc   *prometheus.Desc
}

var allStates = []plugin.State{
	plugin.StateLoaded,
	plugin.StateInitialized,
	plugin.StateEnabled,
	plugin.StateDisabled,
	plugin.StateUnloaded,
	plugin.StateError,
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[plugin.State]int, len(allStates))
	for _, s := range c.states() {
		counts[s]++
	}
	for _, s := range allStates {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[s]), s.String())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
