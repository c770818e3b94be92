// Package sensors provides accelerometer and magnetometer streams for the
// bearing manager.
package sensors

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/geonav/internal/bearing"
)

// DemoSource simulates a flat device slowly turning, with sensor noise.
type DemoSource struct {
	rate time.Duration

	mu    sync.Mutex
	sinks map[bearing.SensorKind]bearing.Sink
	done  chan struct{}
	start time.Time
}

// NewDemo creates a simulated source sampling every rate (default 50 ms).
func NewDemo(rate time.Duration) *DemoSource {
	if rate <= 0 {
		rate = 50 * time.Millisecond
	}
	return &DemoSource{rate: rate, sinks: map[bearing.SensorKind]bearing.Sink{}, start: time.Now()}
}

func (d *DemoSource) Has(kind bearing.SensorKind) bool {
	return kind == bearing.Accelerometer || kind == bearing.Magnetometer
}

func (d *DemoSource) Register(kind bearing.SensorKind, sink bearing.Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[kind] = sink
	if d.done == nil {
		d.done = make(chan struct{})
		go d.run(d.done)
	}
	return nil
}

func (d *DemoSource) Unregister(kind bearing.SensorKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sinks, kind)
	if len(d.sinks) == 0 && d.done != nil {
		close(d.done)
		d.done = nil
	}
	return nil
}

func (d *DemoSource) run(done <-chan struct{}) {
	ticker := time.NewTicker(d.rate)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			heading := DemoHeading(now.Sub(d.start))
			d.emit(done, bearing.Sample{Kind: bearing.Accelerometer, Values: jitter(0, 0, 9.81), Time: now})
			d.emit(done, bearing.Sample{Kind: bearing.Magnetometer, Values: field(heading), Time: now})
		}
	}
}

func (d *DemoSource) emit(done <-chan struct{}, s bearing.Sample) {
	d.mu.Lock()
	sink := d.sinks[s.Kind]
	d.mu.Unlock()
	select {
	case <-done:
		return
	default:
	}
	if sink != nil {
		sink.OnSensorSample(s)
	}
}

// DemoHeading is the simulated heading in degrees after elapsed time: a
// slow sweep with a gentle wobble.
func DemoHeading(elapsed time.Duration) float64 {
	s := elapsed.Seconds()
	return math.Mod(s*6+20*math.Sin(s/3), 360)
}

// field returns a noisy geomagnetic vector, in microtesla, seen by a flat
// device whose y axis points heading degrees from magnetic north.
func field(heading float64) []float64 {
	rad := heading * math.Pi / 180
	return jitter(-22*math.Sin(rad), 22*math.Cos(rad), -40)
}

func jitter(x, y, z float64) []float64 {
	n := func() float64 { return (rand.Float64() - 0.5) * 0.4 }
	return []float64{x + n(), y + n(), z + n()}
}
