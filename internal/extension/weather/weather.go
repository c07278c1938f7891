// Package weather is the weather widget extension. It polls a Provider every
// update_interval seconds and publishes a rendered reading.
package weather

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dshills/pluginstore/internal/extension"
	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/plugin"
	"github.com/dshills/pluginstore/internal/settings"
)

// ID is the plugin id.
const ID = "weather_enhanced"

// Setting keys.
const (
	KeyEnabled         = "enabled"
	KeyUpdateInterval  = "update_interval" // seconds
	KeyLocation        = "location"
	KeyTemperatureUnit = "temperature_unit"
	KeyShowHumidity    = "show_humidity"
	KeyShowWind        = "show_wind"
)

// Temperature units.
const (
	Celsius    = "celsius"
	Fahrenheit = "fahrenheit"
)

// UpdateWeather is the kind of update published after each poll.
const UpdateWeather = "weather"

// StatusUnavailable is published as the summary when the provider fails.
const StatusUnavailable = "weather unavailable"

const fetchTimeout = 30 * time.Second

// Reading is one observation in metric units.
type Reading struct {
	TemperatureC float64 `json:"temperature"`
	Condition    string  `json:"condition"`
	Humidity     int     `json:"humidity"`
	WindKmh      int     `json:"wind_speed"`
}

// Provider fetches current conditions for a location.
type Provider interface {
	Current(ctx context.Context, location string) (Reading, error)
}

// SampleProvider makes up plausible readings.
type SampleProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampleProvider returns a provider whose readings are fixed by seed.
func NewSampleProvider(seed uint64) *SampleProvider {
	return &SampleProvider{rng: rand.New(rand.NewPCG(seed, seed))}
}

var conditions = []string{"sunny", "cloudy", "overcast", "light rain", "rain", "thunderstorm", "snow"}

// Current implements Provider.
func (p *SampleProvider) Current(_ context.Context, _ string) (Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Reading{
		TemperatureC: float64(15 + p.rng.IntN(16)),
		Condition:    conditions[p.rng.IntN(len(conditions))],
		Humidity:     40 + p.rng.IntN(41),
		WindKmh:      5 + p.rng.IntN(16),
	}, nil
}

// Display is a reading rendered with the user's preferences.
type Display struct {
	Summary  string
	Humidity string // empty when hidden
	Wind     string // empty when hidden
	Updated  string
}

// Render formats r. Unknown units fall back to celsius.
func Render(r Reading, location, unit string, humidity, wind bool, at time.Time) Display {
	temp, sym := r.TemperatureC, "°C"
	if unit == Fahrenheit {
		temp, sym = temp*9/5+32, "°F"
	}
	d := Display{
		Summary: fmt.Sprintf("%s %s %.1f%s", location, r.Condition, temp, sym),
		Updated: "updated " + at.Format("15:04"),
	}
	if humidity {
		d.Humidity = fmt.Sprintf("humidity %d%%", r.Humidity)
	}
	if wind {
		d.Wind = fmt.Sprintf("wind %d km/h", r.WindKmh)
	}
	return d
}

// Option configures the extension.
type Option func(*Extension)

// WithProvider sets the weather source.
func WithProvider(p Provider) Option {
	return func(e *Extension) {
		e.provider = p
	}
}

// Extension is the weather plugin.
type Extension struct {
	provider Provider

	svc      plugin.Services
	store    *settings.Store
	log      *logging.Logger
	periodic *extension.Periodic

	current *Reading
	fetched time.Time
}

// New returns a factory for the extension. Without WithProvider each
// instance gets a SampleProvider seeded from its creation time.
func New(opts ...Option) plugin.Factory {
	return func() plugin.Extension {
		e := &Extension{}
		for _, opt := range opts {
			opt(e)
		}
		if e.provider == nil {
			e.provider = NewSampleProvider(uint64(time.Now().UnixNano()))
		}
		return e
	}
}

// Info implements plugin.Extension.
func (e *Extension) Info() plugin.Info {
	return plugin.Info{
		ID:          ID,
		Name:        "Enhanced Weather",
		Version:     "1.0.0",
		Description: "Detailed current weather",
		Author:      "Pluginstore Team",
	}
}

// DefaultSettings implements plugin.Extension.
func (e *Extension) DefaultSettings() settings.Map {
	return settings.Map{
		KeyEnabled:         true,
		KeyUpdateInterval:  300,
		KeyLocation:        "Beijing",
		KeyTemperatureUnit: Celsius,
		KeyShowHumidity:    true,
		KeyShowWind:        true,
	}
}

// Init implements plugin.Extension.
func (e *Extension) Init(svc plugin.Services, store *settings.Store) error {
	e.svc = svc
	e.store = store
	e.log = svc.Logger()
	e.periodic = extension.NewPeriodic(svc.NewTimer(), e.tick)
	return nil
}

func (e *Extension) schedule() (bool, time.Duration, error) {
	r := settings.NewReader(e.store)
	enabled := r.Bool(KeyEnabled)
	secs := r.Float(KeyUpdateInterval)
	if err := r.Err(); err != nil {
		return false, 0, err
	}
	return enabled, time.Duration(secs * float64(time.Second)), nil
}

// Start implements plugin.Extension.
func (e *Extension) Start() error {
	enabled, every, err := e.schedule()
	if err != nil {
		return err
	}
	return e.periodic.Start(enabled, every)
}

// Stop implements plugin.Extension.
func (e *Extension) Stop() {
	e.periodic.Stop()
}

// Refresh implements plugin.Extension.
func (e *Extension) Refresh() error {
	enabled, err := e.store.Bool(KeyEnabled)
	if err != nil || !enabled {
		return err
	}
	return e.update()
}

func (e *Extension) tick() {
	if err := e.update(); err != nil {
		e.log.Warn("weather update: %v", err)
	}
}

// SettingsChanged implements plugin.Extension.
func (e *Extension) SettingsChanged(changes settings.Changes) error {
	if !changes.Has(KeyEnabled, KeyUpdateInterval) {
		return nil
	}
	enabled, every, err := e.schedule()
	if err != nil {
		return err
	}
	return e.periodic.Reschedule(enabled, every)
}

// Release implements plugin.Extension.
func (e *Extension) Release() {
	if e.periodic != nil {
		e.periodic.Stop()
	}
	e.current = nil
}

func (e *Extension) update() error {
	r := settings.NewReader(e.store)
	location := r.String(KeyLocation)
	unit := r.String(KeyTemperatureUnit)
	humidity := r.Bool(KeyShowHumidity)
	wind := r.Bool(KeyShowWind)
	if err := r.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	reading, err := e.provider.Current(ctx, location)
	if err != nil {
		e.log.Warn("fetching weather for %s: %v", location, err)
		e.svc.Publish(plugin.Update{Kind: UpdateWeather, Data: map[string]any{
			"summary": StatusUnavailable,
			"error":   err.Error(),
		}})
		return nil
	}

	now := e.svc.Now()
	e.current = &reading
	e.fetched = now

	d := Render(reading, location, unit, humidity, wind, now)
	data := map[string]any{
		"summary": d.Summary,
		"updated": d.Updated,
	}
	if d.Humidity != "" {
		data["humidity"] = d.Humidity
	}
	if d.Wind != "" {
		data["wind"] = d.Wind
	}
	e.svc.Publish(plugin.Update{Kind: UpdateWeather, Data: data})
	e.log.Debug("weather updated: %+v", reading)
	return nil
}

// Current returns the last reading, if any.
func (e *Extension) Current() (Reading, bool) {
	if e.current == nil {
		return Reading{}, false
	}
	return *e.current, true
}

// Extra implements plugin.Describer.
func (e *Extension) Extra() map[string]any {
	extra := map[string]any{}
	if e.current != nil {
		extra["current"] = *e.current
		extra["last_update"] = e.fetched.Format(time.RFC3339)
	}
	return extra
}
