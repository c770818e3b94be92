package location

import (
	"sync"

	"github.com/shaunagostinho/geonav/internal/geo"
)

// Odometer accumulates travelled distance from successive fixes, ignoring
// moves smaller than the new fix's accuracy radius.
type Odometer struct {
	mu       sync.Mutex
	enabled  bool
	distance float64
	ref      Fix
	hasRef   bool
}

// NewOdometer returns an odometer with zero distance.
func NewOdometer(enabled bool) *Odometer {
	return &Odometer{enabled: enabled}
}

// OnFix feeds the next fix and returns the accumulated distance in meters.
func (o *Odometer) OnFix(f Fix) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.enabled || !o.hasRef {
		o.ref, o.hasRef = f, true
		return o.distance
	}
	delta := geo.Distance(o.ref.Latitude, o.ref.Longitude, f.Latitude, f.Longitude)
	if delta > f.Accuracy {
		o.distance += delta
		o.ref = f
	}
	return o.distance
}

// Reset zeroes the distance. The enabled flag and reference fix are kept.
func (o *Odometer) Reset() {
	o.mu.Lock()
	o.distance = 0
	o.mu.Unlock()
}

// SetEnabled freezes or resumes accumulation.
func (o *Odometer) SetEnabled(enabled bool) {
	o.mu.Lock()
	o.enabled = enabled
	o.mu.Unlock()
}

func (o *Odometer) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Distance returns the accumulated distance in meters.
func (o *Odometer) Distance() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.distance
}
