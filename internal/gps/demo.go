package gps

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/geonav/internal/geo"
	"github.com/shaunagostinho/geonav/internal/location"
)

// DemoConfig places the simulated drive.
type DemoConfig struct {
	CenterLat float64
	CenterLon float64
	Radius    float64 // meters
}

// DemoSource simulates driving in a circle around a point.
type DemoSource struct {
	cfg DemoConfig

	mu   sync.Mutex
	t    float64
	done chan struct{}
}

// NewDemo creates a simulated source. Zero values drive around Toronto.
func NewDemo(cfg DemoConfig) *DemoSource {
	if cfg.CenterLat == 0 && cfg.CenterLon == 0 {
		cfg.CenterLat, cfg.CenterLon = 43.6532, -79.3832
	}
	if cfg.Radius <= 0 {
		cfg.Radius = 500
	}
	return &DemoSource{cfg: cfg}
}

func (d *DemoSource) Name() string { return "demo" }

func (d *DemoSource) Start(req location.Request, sink location.Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return nil
	}
	d.done = make(chan struct{})
	go d.run(req, d.done, sink)
	return nil
}

func (d *DemoSource) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		close(d.done)
		d.done = nil
	}
	return nil
}

func (d *DemoSource) run(req location.Request, done <-chan struct{}, sink location.Sink) {
	out := &gatedSink{done: done, sink: sink}
	out.OnProviderStatus(d.Name(), location.GPSStarted, nil)

	interval := req.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Ticks jitter, so allow a little slack on the interval.
	th := newThrottle(location.Request{Interval: interval * 9 / 10, Distance: req.Distance})
	first := true
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			f := d.next(now, interval)
			if first {
				out.OnProviderStatus(d.Name(), location.FirstFix, nil)
				first = false
			}
			out.OnProviderStatus(d.Name(), location.SatelliteStatus, location.Extras{
				location.ExtraSatellites:       9 + rand.Intn(4),
				location.ExtraSatellitesInView: 14,
			})
			if th.allow(f) {
				out.OnRawFix(f)
			}
		}
	}
}

// next advances the simulation by dt and returns the fix at now.
func (d *DemoSource) next(now time.Time, dt time.Duration) location.Fix {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Speed varies between 6 and 20 m/s.
	speed := 13 + 7*math.Sin(d.t*0.05)
	d.t += speed * dt.Seconds() / d.cfg.Radius

	lat, lon := d.pointAt(d.t)
	prevLat, prevLon := d.pointAt(d.t - 0.001)
	return location.Fix{
		Latitude:    lat,
		Longitude:   lon,
		Altitude:    76,
		HasAltitude: true,
		Speed:       speed,
		HasSpeed:    true,
		Bearing:     geo.InitialBearing(prevLat, prevLon, lat, lon),
		HasBearing:  true,
		Accuracy:    4 + rand.Float64()*6,
		HasAccuracy: true,
		Provider:    d.Name(),
		Time:        now,
	}
}

func (d *DemoSource) pointAt(theta float64) (float64, float64) {
	mPerDegLat := geo.EarthRadius * math.Pi / 180
	mPerDegLon := mPerDegLat * math.Cos(d.cfg.CenterLat*math.Pi/180)
	lat := d.cfg.CenterLat + d.cfg.Radius*math.Sin(theta)/mPerDegLat
	lon := d.cfg.CenterLon + d.cfg.Radius*math.Cos(theta)/mPerDegLon
	return lat, lon
}
