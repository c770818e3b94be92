// Package bearing fuses accelerometer and magnetometer samples into a
// compass bearing and fans it out to subscribers through a deadband filter.
package bearing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shaunagostinho/geonav/internal/geo"
	"github.com/shaunagostinho/geonav/internal/logger"
	"github.com/shaunagostinho/geonav/internal/observability"
	"github.com/shaunagostinho/geonav/internal/subscribers"
)

// SensorKind identifies a raw sensor stream.
type SensorKind int

const (
	Accelerometer SensorKind = iota
	Magnetometer
)

func (k SensorKind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Magnetometer:
		return "magnetometer"
	}
	return fmt.Sprintf("sensor(%d)", int(k))
}

// Sample is one raw reading. Values holds at least three axes for a valid
// sample.
type Sample struct {
	Kind   SensorKind
	Values []float64
	Time   time.Time
}

// Sink receives samples from a SensorSource.
type Sink interface {
	OnSensorSample(s Sample)
}

// SensorSource exposes per-kind sensor streams. Register must not deliver
// before it returns and Unregister must not wait for in-flight sink calls.
type SensorSource interface {
	Has(kind SensorKind) bool
	Register(kind SensorKind, sink Sink) error
	Unregister(kind SensorKind) error
}

// Listener receives bearings in degrees [0, 360).
type Listener interface {
	OnBearing(degrees float64)
}

// DefaultDeadband is the minimum change in degrees that is broadcast.
const DefaultDeadband = 5.0

// Config holds the bearing filter settings.
type Config struct {
	Deadband float64 // degrees
}

// ErrUnavailable reports a source lacking one of the required sensors.
var ErrUnavailable = errors.New("bearing: accelerometer and magnetometer required")

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(l logger.Logger) Option             { return func(m *Manager) { m.log = l } }
func WithMetrics(c *observability.Collector) Option { return func(m *Manager) { m.metrics = c } }

// Manager owns the sensor registration. Sensors are registered while at
// least one listener is subscribed and released as soon as the last one
// leaves.
type Manager struct {
	cfg     Config
	src     SensorSource
	log     logger.Logger
	metrics *observability.Collector

	listeners *subscribers.Registry[Listener]

	deliverMu sync.Mutex

	mu             sync.Mutex
	present        bool
	failed         bool
	hasSubscribers bool
	registered     bool
	gravity        Vector
	geomagnetic    Vector
	hasGravity     bool
	hasGeomagnetic bool
	travel         bool
	raw            float64
	hasRaw         bool
	last           float64
	hasLast        bool
}

// NewManager creates a manager over src. If src lacks either sensor the
// manager is permanently unavailable.
func NewManager(src SensorSource, cfg Config, opts ...Option) *Manager {
	if cfg.Deadband <= 0 {
		cfg.Deadband = DefaultDeadband
	}
	m := &Manager{
		cfg: cfg,
		src: src,
		log: logger.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.String("component", "bearing"))
	m.present = src != nil && src.Has(Accelerometer) && src.Has(Magnetometer)
	if !m.present {
		m.log.Warn(context.Background(), "compass unavailable", logger.Err(ErrUnavailable))
	}
	m.listeners = subscribers.New[Listener](subscribers.Hooks{
		OnFirst: m.onFirstSubscriber,
		OnLast:  m.onLastSubscriber,
	})
	return m
}

// Subscribe registers l.
func (m *Manager) Subscribe(l Listener) bool {
	added := m.listeners.Subscribe(l)
	m.metrics.SetSubscribers("bearing", m.listeners.Len())
	return added
}

// Unsubscribe removes l and reports whether it was subscribed.
func (m *Manager) Unsubscribe(l Listener) bool {
	removed := m.listeners.Unsubscribe(l)
	m.metrics.SetSubscribers("bearing", m.listeners.Len())
	return removed
}

func (m *Manager) onFirstSubscriber() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hasSubscribers = true
	if !m.present {
		return
	}
	if err := m.src.Register(Accelerometer, m); err != nil {
		m.registrationFailedLocked(err)
		return
	}
	if err := m.src.Register(Magnetometer, m); err != nil {
		_ = m.src.Unregister(Accelerometer)
		m.registrationFailedLocked(err)
		return
	}
	m.failed = false
	m.registered = true
	m.metrics.SourceStarted("bearing")
	m.log.Info(context.Background(), "sensors registered")
}

func (m *Manager) registrationFailedLocked(err error) {
	m.failed = true
	m.metrics.SourceUnavailable("bearing")
	m.log.Warn(context.Background(), "sensor registration failed", logger.Err(err))
}

func (m *Manager) onLastSubscriber() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hasSubscribers = false
	m.hasLast = false
	if !m.registered {
		return
	}
	for _, kind := range []SensorKind{Accelerometer, Magnetometer} {
		if err := m.src.Unregister(kind); err != nil {
			m.log.Warn(context.Background(), "sensor unregister failed",
				logger.String("sensor", kind.String()), logger.Err(err))
		}
	}
	m.registered = false
	m.hasGravity, m.hasGeomagnetic = false, false
	m.metrics.SourceStopped("bearing")
	m.log.Info(context.Background(), "sensors unregistered")
}

// OnSensorSample ingests a raw sample. Samples with fewer than three axes
// are ignored, as are magnetic samples while the travel bearing is in use.
func (m *Manager) OnSensorSample(s Sample) {
	if len(s.Values) < 3 {
		return
	}
	v := Vector{s.Values[0], s.Values[1], s.Values[2]}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if !m.registered {
		m.mu.Unlock()
		return
	}
	switch s.Kind {
	case Accelerometer:
		m.gravity, m.hasGravity = v, true
	case Magnetometer:
		m.geomagnetic, m.hasGeomagnetic = v, true
	default:
		m.mu.Unlock()
		return
	}
	if m.travel || !m.hasGravity || !m.hasGeomagnetic {
		m.mu.Unlock()
		return
	}
	r, ok := RotationMatrix(m.gravity, m.geomagnetic)
	if !ok {
		m.mu.Unlock()
		return
	}
	azimuth, _, _ := Orientation(r)
	deg, emit := m.filterLocked(azimuth * 180 / math.Pi)
	m.mu.Unlock()

	m.publish(deg, emit)
}

// UseTravelBearing switches between the magnetic compass and the direction
// of travel reported by fixes. While enabled, bearing feeds the deadband
// filter in place of the fused azimuth.
func (m *Manager) UseTravelBearing(enabled bool, bearing float64) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.travel != enabled {
		m.log.Debug(context.Background(), "bearing source switched", logger.Any("travel", enabled))
	}
	m.travel = enabled
	if !enabled || !m.hasSubscribers {
		m.mu.Unlock()
		return
	}
	deg, emit := m.filterLocked(bearing)
	m.mu.Unlock()

	m.publish(deg, emit)
}

// filterLocked records b as the freshest bearing and reports whether it
// moved more than the deadband from the last emitted one.
func (m *Manager) filterLocked(b float64) (float64, bool) {
	b = geo.NormalizeDegrees(b)
	m.raw, m.hasRaw = b, true
	if m.hasLast && math.Abs(geo.AngleDiff(m.last, b)) <= m.cfg.Deadband {
		return b, false
	}
	m.last, m.hasLast = b, true
	return b, true
}

func (m *Manager) publish(deg float64, emit bool) {
	m.metrics.BearingFiltered(emit)
	if !emit {
		return
	}
	m.listeners.ForEach(func(l Listener) {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error(context.Background(), "listener panicked", logger.Any("panic", r))
			}
		}()
		l.OnBearing(deg)
	})
}

// LastBearing returns the last emitted bearing.
func (m *Manager) LastBearing() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}

// RawBearing returns the freshest bearing, including suppressed ones.
func (m *Manager) RawBearing() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, m.hasRaw
}

// IsAvailable reports whether the compass can produce bearings.
func (m *Manager) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present && !m.failed
}

// TravelMode reports whether the travel bearing is in use.
func (m *Manager) TravelMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.travel
}

// Subscribers returns the number of bearing listeners.
func (m *Manager) Subscribers() int { return m.listeners.Len() }
