// Package location owns the position source and fans its fixes out to
// subscribers. The source runs only while someone listens, with a grace
// delay before it is stopped.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shaunagostinho/geonav/internal/clock"
	"github.com/shaunagostinho/geonav/internal/logger"
	"github.com/shaunagostinho/geonav/internal/observability"
	"github.com/shaunagostinho/geonav/internal/subscribers"
)

// AccuracyClass is the accuracy a source is asked to deliver.
type AccuracyClass int

const (
	AccuracyFine AccuracyClass = iota
	AccuracyCoarse
)

// Request configures a source start.
type Request struct {
	Interval time.Duration // minimum time between fixes
	Distance float64       // minimum movement in meters between fixes
	Accuracy AccuracyClass
}

// Sink receives events from a running Source.
type Sink interface {
	OnRawFix(f Fix)
	OnProviderStatus(provider string, kind StatusKind, extras Extras)
}

// Source is a position provider. Start must not call the sink before it
// returns, and Stop must not wait for in-flight sink calls to finish: the
// manager holds its state lock across both.
type Source interface {
	Name() string
	Start(req Request, sink Sink) error
	Stop() error
}

// Listener receives fixes and provider status events.
type Listener interface {
	OnFix(f Fix)
	OnProviderStatus(provider string, kind StatusKind, extras Extras)
}

// StatusListener receives the GPS status channel.
type StatusListener interface {
	OnStatusMessage(text string)
	OnLocationDeprecated()
}

// Preferences supplies the user's settings.
type Preferences interface {
	FrequencyTier() Tier
	OdometerEnabled() bool
}

// CompassSwitch is told whether to use the fix's direction of travel
// instead of the magnetic compass.
type CompassSwitch interface {
	UseTravelBearing(enabled bool, bearing float64)
}

// State is the source lifecycle state.
type State int

const (
	Idle State = iota
	Active
	PendingStop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case PendingStop:
		return "pending_stop"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the manager's timing and threshold settings.
type Config struct {
	GraceDelay      time.Duration // source keeps running this long after the last unsubscribe
	Staleness       time.Duration // a fix older than this is deprecated
	PreciseAccuracy float64       // meters; HasPreciseFix requires accuracy below this
	CompassSpeed    float64       // m/s; above this the travel bearing replaces the compass
	Accuracy        AccuracyClass
	Language        string // BCP 47 tag for status messages
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		GraceDelay:      5 * time.Second,
		Staleness:       30 * time.Second,
		PreciseAccuracy: 40,
		CompassSpeed:    20.0 / 3.6,
		Accuracy:        AccuracyFine,
		Language:        "en",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.GraceDelay <= 0 {
		c.GraceDelay = def.GraceDelay
	}
	if c.Staleness <= 0 {
		c.Staleness = def.Staleness
	}
	if c.PreciseAccuracy <= 0 {
		c.PreciseAccuracy = def.PreciseAccuracy
	}
	if c.CompassSpeed <= 0 {
		c.CompassSpeed = def.CompassSpeed
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	return c
}

// Option customizes a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option                { return func(m *Manager) { m.clock = c } }
func WithLogger(l logger.Logger) Option             { return func(m *Manager) { m.log = l } }
func WithMetrics(c *observability.Collector) Option { return func(m *Manager) { m.metrics = c } }
func WithPreferences(p Preferences) Option          { return func(m *Manager) { m.prefs = p } }
func WithCompass(c CompassSwitch) Option            { return func(m *Manager) { m.compass = c } }
func WithOdometer(o *Odometer) Option               { return func(m *Manager) { m.odometer = o } }

// Manager multiplexes one Source to many listeners.
//
// Lock order is registry lock, then mu. Hooks run under the registry lock
// and take mu; nothing holding mu calls into the registries. deliverMu
// serializes fix and provider-status fan-out so each listener observes
// events in arrival order.
type Manager struct {
	cfg      Config
	src      Source
	clock    clock.Clock
	log      logger.Logger
	metrics  *observability.Collector
	prefs    Preferences
	compass  CompassSwitch
	odometer *Odometer
	texts    Texts

	listeners *subscribers.Registry[Listener]
	status    *subscribers.Registry[StatusListener]

	deliverMu sync.Mutex

	mu             sync.Mutex
	state          State
	hasSubscribers bool
	available      bool
	tier           Tier
	lastFix        Fix
	lastFixAt      time.Time
	hasFix         bool
	stopTimer      clock.Timer
	stopGen        uint64
	staleTimer     clock.Timer
	staleGen       uint64
}

// NewManager creates an idle manager for src.
func NewManager(src Source, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		src:       src,
		clock:     clock.Real(),
		log:       logger.Noop(),
		tier:      DefaultTier,
		available: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.String("component", "location"), logger.String("source", src.Name()))
	m.texts = NewTexts(m.cfg.Language)
	if m.prefs != nil {
		m.tier = m.prefs.FrequencyTier()
		if !m.tier.Valid() {
			m.tier = DefaultTier
		}
	}
	if m.odometer == nil {
		m.odometer = NewOdometer(m.prefs != nil && m.prefs.OdometerEnabled())
	}
	m.listeners = subscribers.New[Listener](subscribers.Hooks{
		OnFirst: m.onFirstSubscriber,
		OnLast:  m.onLastSubscriber,
	})
	m.status = subscribers.New[StatusListener](subscribers.Hooks{})
	return m
}

// Subscribe registers l. The first subscriber starts the source, or
// cancels a pending stop.
func (m *Manager) Subscribe(l Listener) bool {
	added := m.listeners.Subscribe(l)
	m.metrics.SetSubscribers("location", m.listeners.Len())
	if added && !m.IsAvailable() {
		m.notifyStatus(m.texts.Waiting())
	}
	return added
}

// Unsubscribe removes l. When no subscribers remain the source is stopped
// after the grace delay.
func (m *Manager) Unsubscribe(l Listener) bool {
	removed := m.listeners.Unsubscribe(l)
	m.metrics.SetSubscribers("location", m.listeners.Len())
	return removed
}

// SubscribeStatus registers s on the status channel. Status listeners do
// not keep the source running.
func (m *Manager) SubscribeStatus(s StatusListener) bool {
	return m.status.Subscribe(s)
}

func (m *Manager) UnsubscribeStatus(s StatusListener) bool {
	return m.status.Unsubscribe(s)
}

func (m *Manager) onFirstSubscriber() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hasSubscribers = true
	m.cancelStopLocked()
	switch m.state {
	case PendingStop:
		m.state = Active
		m.log.Debug(context.Background(), "pending stop cancelled")
	case Idle:
		m.startLocked()
	}
}

func (m *Manager) onLastSubscriber() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hasSubscribers = false
	if m.state != Active {
		return
	}
	m.state = PendingStop
	m.stopGen++
	gen := m.stopGen
	m.stopTimer = m.clock.AfterFunc(m.cfg.GraceDelay, func() { m.onGraceExpired(gen) })
	m.log.Debug(context.Background(), "source stop scheduled", logger.Int("grace_ms", int(m.cfg.GraceDelay/time.Millisecond)))
}

func (m *Manager) onGraceExpired(gen uint64) {
	defer m.recoverTimer("grace")

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.stopGen || m.state != PendingStop {
		return
	}
	m.stopTimer = nil
	m.stopLocked()
}

// startLocked starts the source with the current tier. On failure the
// manager stays Idle and unavailable.
func (m *Manager) startLocked() bool {
	interval, distance := m.tier.Params()
	req := Request{Interval: interval, Distance: distance, Accuracy: m.cfg.Accuracy}
	if err := m.src.Start(req, m); err != nil {
		m.state = Idle
		m.available = false
		m.metrics.SourceUnavailable("location")
		m.log.Warn(context.Background(), "source unavailable", logger.Err(err))
		return false
	}
	m.state = Active
	m.available = true
	m.metrics.SourceStarted("location")
	m.log.Info(context.Background(), "source started",
		logger.String("tier", m.tier.String()),
		logger.Int("interval_ms", int(interval/time.Millisecond)),
		logger.Float("distance_m", distance))
	return true
}

func (m *Manager) stopLocked() {
	if err := m.src.Stop(); err != nil {
		m.log.Warn(context.Background(), "source stop failed", logger.Err(err))
	}
	m.state = Idle
	m.cancelStaleLocked()
	m.metrics.SourceStopped("location")
	m.log.Info(context.Background(), "source stopped")
}

func (m *Manager) cancelStopLocked() {
	m.stopGen++
	if m.stopTimer != nil {
		m.stopTimer.Stop()
		m.stopTimer = nil
	}
}

func (m *Manager) cancelStaleLocked() {
	m.staleGen++
	if m.staleTimer != nil {
		m.staleTimer.Stop()
		m.staleTimer = nil
	}
}

func (m *Manager) armStaleLocked() {
	m.cancelStaleLocked()
	gen := m.staleGen
	m.staleTimer = m.clock.AfterFunc(m.cfg.Staleness, func() { m.onStale(gen) })
}

func (m *Manager) onStale(gen uint64) {
	defer m.recoverTimer("staleness")

	m.mu.Lock()
	if gen != m.staleGen || m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.staleTimer = nil
	m.mu.Unlock()

	m.metrics.LocationDeprecated()
	m.log.Info(context.Background(), "location deprecated")
	m.status.ForEach(func(s StatusListener) {
		m.guard("status listener", s.OnLocationDeprecated)
	})
}

// OnRawFix ingests a fix from the source. Fixes that arrive after the
// source was stopped are dropped.
func (m *Manager) OnRawFix(f Fix) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		m.log.Debug(context.Background(), "fix dropped while idle")
		return
	}
	now := m.clock.Now()
	if f.Time.IsZero() {
		f.Time = now
	}
	m.lastFix, m.lastFixAt, m.hasFix = f, now, true
	m.armStaleLocked()
	m.mu.Unlock()

	m.metrics.FixReceived()
	m.metrics.SetOdometer(m.odometer.OnFix(f))

	if m.compass != nil {
		fast := f.HasSpeed && f.HasBearing && f.Speed > m.cfg.CompassSpeed
		m.compass.UseTravelBearing(fast, f.Bearing)
	}

	n := 0
	m.listeners.ForEach(func(l Listener) {
		m.guard("listener", func() { l.OnFix(f) })
		n++
	})
	m.metrics.FixDelivered(n)
}

// OnProviderStatus re-emits a source status event to every listener and
// forwards its text, if any, to the status channel.
func (m *Manager) OnProviderStatus(provider string, kind StatusKind, extras Extras) {
	m.deliverMu.Lock()
	switch kind {
	case ProviderDisabled:
		m.setAvailable(false)
	case ProviderEnabled:
		m.setAvailable(true)
	}
	m.metrics.ProviderEvent(kind.String())
	m.listeners.ForEach(func(l Listener) {
		m.guard("listener", func() { l.OnProviderStatus(provider, kind, extras) })
	})
	m.deliverMu.Unlock()

	if text := m.texts.ForStatus(provider, kind, extras); text != "" {
		m.notifyStatus(text)
	}
}

func (m *Manager) setAvailable(v bool) {
	m.mu.Lock()
	m.available = v
	m.mu.Unlock()
}

func (m *Manager) notifyStatus(text string) {
	m.status.ForEach(func(s StatusListener) {
		m.guard("status listener", func() { s.OnStatusMessage(text) })
	})
}

// HasPreciseFix reports whether the last fix is recent and accurate enough
// for navigation.
func (m *Manager) HasPreciseFix() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasFix || !m.lastFix.HasAccuracy {
		return false
	}
	if m.clock.Now().Sub(m.lastFixAt) >= m.cfg.Staleness {
		return false
	}
	return m.lastFix.Accuracy < m.cfg.PreciseAccuracy
}

// LastFix returns the most recent fix, if any.
func (m *Manager) LastFix() (Fix, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFix, m.hasFix
}

// UpdateFrequency switches to tier t. A running source is stopped and
// restarted at once with the new parameters.
func (m *Manager) UpdateFrequency(t Tier) {
	if !t.Valid() {
		t = DefaultTier
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t == m.tier {
		return
	}
	prev := m.tier
	m.tier = t
	m.log.Info(context.Background(), "update frequency changed",
		logger.String("from", prev.String()), logger.String("to", t.String()))
	if m.state == Idle {
		return
	}

	pending := m.state == PendingStop
	if err := m.src.Stop(); err != nil {
		m.log.Warn(context.Background(), "source stop failed", logger.Err(err))
	}
	m.metrics.SourceStopped("location")
	if !m.startLocked() {
		m.cancelStopLocked()
		m.cancelStaleLocked()
		return
	}
	if pending {
		m.state = PendingStop
	}
}

// UpdateFrequencyFromPreferences re-reads the tier from the preferences.
func (m *Manager) UpdateFrequencyFromPreferences() {
	if m.prefs == nil {
		return
	}
	m.UpdateFrequency(m.prefs.FrequencyTier())
}

// Enable retries starting the source when subscribers are waiting on an
// unavailable one. It reports whether the source is available.
func (m *Manager) Enable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasSubscribers && m.state == Idle {
		m.startLocked()
	}
	return m.available
}

// CheckSubscribers stops the source immediately, skipping the grace delay,
// when nobody is subscribed.
func (m *Manager) CheckSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasSubscribers || m.state == Idle {
		return
	}
	m.cancelStopLocked()
	m.stopLocked()
}

func (m *Manager) Tier() Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAvailable reports false after the source failed to start or its
// provider was disabled.
func (m *Manager) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Subscribers returns the number of location listeners.
func (m *Manager) Subscribers() int { return m.listeners.Len() }

// Odometer returns the odometer fed by this manager.
func (m *Manager) Odometer() *Odometer { return m.odometer }

func (m *Manager) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(context.Background(), what+" panicked", logger.Any("panic", r))
		}
	}()
	fn()
}

func (m *Manager) recoverTimer(name string) {
	if r := recover(); r != nil {
		m.log.Error(context.Background(), "timer callback panicked",
			logger.String("timer", name), logger.Any("panic", r))
	}
}
