package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of the location and bearing
// managers. All methods are safe on a nil *Collector, so managers built
// without metrics need no special casing.
type Collector struct {
	gatherer prometheus.Gatherer

	Fixes          prometheus.Counter
	FixDeliveries  prometheus.Counter
	Deprecations   prometheus.Counter
	ProviderEvents *prometheus.CounterVec
	SourceStarts   *prometheus.CounterVec
	SourceStops    *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	Subscribers    *prometheus.GaugeVec
	BearingEmitted prometheus.Counter
	BearingDropped prometheus.Counter
	OdometerMeters prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Fixes, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geonav_fixes_total",
		Help: "Raw position fixes received from the position source.",
	})); err != nil {
		return nil, err
	}
	if c.FixDeliveries, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geonav_fix_deliveries_total",
		Help: "Fix notifications delivered to location subscribers.",
	})); err != nil {
		return nil, err
	}
	if c.Deprecations, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geonav_location_deprecations_total",
		Help: "Staleness timeouts that emitted a location deprecated event.",
	})); err != nil {
		return nil, err
	}
	if c.ProviderEvents, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geonav_provider_events_total",
		Help: "Provider status events re-emitted to subscribers, labeled by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.SourceStarts, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geonav_source_starts_total",
		Help: "Successful starts of an underlying source, labeled by manager.",
	}, []string{"manager"})); err != nil {
		return nil, err
	}
	if c.SourceStops, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geonav_source_stops_total",
		Help: "Stops of an underlying source, labeled by manager.",
	}, []string{"manager"})); err != nil {
		return nil, err
	}
	if c.SourceFailures, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geonav_source_unavailable_total",
		Help: "Attempts to start a source that left the manager unavailable, labeled by manager.",
	}, []string{"manager"})); err != nil {
		return nil, err
	}
	if c.Subscribers, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geonav_subscribers",
		Help: "Current subscriber count, labeled by manager.",
	}, []string{"manager"})); err != nil {
		return nil, err
	}
	if c.BearingEmitted, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geonav_bearing_emitted_total",
		Help: "Bearings that passed the deadband filter and were broadcast.",
	})); err != nil {
		return nil, err
	}
	if c.BearingDropped, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geonav_bearing_suppressed_total",
		Help: "Bearings suppressed by the deadband filter.",
	})); err != nil {
		return nil, err
	}
	if c.OdometerMeters, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geonav_odometer_meters",
		Help: "Distance accumulated by the odometer since the last reset.",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) FixReceived() {
	if c == nil {
		return
	}
	c.Fixes.Inc()
}

func (c *Collector) FixDelivered(n int) {
	if c == nil {
		return
	}
	c.FixDeliveries.Add(float64(n))
}

func (c *Collector) LocationDeprecated() {
	if c == nil {
		return
	}
	c.Deprecations.Inc()
}

func (c *Collector) ProviderEvent(kind string) {
	if c == nil {
		return
	}
	c.ProviderEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) SourceStarted(manager string) {
	if c == nil {
		return
	}
	c.SourceStarts.WithLabelValues(manager).Inc()
}

func (c *Collector) SourceStopped(manager string) {
	if c == nil {
		return
	}
	c.SourceStops.WithLabelValues(manager).Inc()
}

func (c *Collector) SourceUnavailable(manager string) {
	if c == nil {
		return
	}
	c.SourceFailures.WithLabelValues(manager).Inc()
}

func (c *Collector) SetSubscribers(manager string, n int) {
	if c == nil {
		return
	}
	c.Subscribers.WithLabelValues(manager).Set(float64(n))
}

// BearingFiltered records one deadband decision.
func (c *Collector) BearingFiltered(emitted bool) {
	if c == nil {
		return
	}
	if emitted {
		c.BearingEmitted.Inc()
	} else {
		c.BearingDropped.Inc()
	}
}

func (c *Collector) SetOdometer(meters float64) {
	if c == nil {
		return
	}
	c.OdometerMeters.Set(meters)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("counter already registered with incompatible type")
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("counter vec already registered with incompatible type")
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("gauge already registered with incompatible type")
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("gauge vec already registered with incompatible type")
		}
		return nil, err
	}
	return vec, nil
}
