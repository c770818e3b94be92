package bearing

import (
	"errors"
	"math"
	"sync"
	"testing"
)

type fakeSensors struct {
	mu          sync.Mutex
	has         map[SensorKind]bool
	registered  map[SensorKind]Sink
	registerErr error
	registers   int
	unregisters int
}

func newFakeSensors(kinds ...SensorKind) *fakeSensors {
	f := &fakeSensors{has: map[SensorKind]bool{}, registered: map[SensorKind]Sink{}}
	for _, k := range kinds {
		f.has[k] = true
	}
	return f
}

func (f *fakeSensors) Has(kind SensorKind) bool { return f.has[kind] }

func (f *fakeSensors) Register(kind SensorKind, sink Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registers++
	f.registered[kind] = sink
	return nil
}

func (f *fakeSensors) Unregister(kind SensorKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters++
	delete(f.registered, kind)
	return nil
}

func (f *fakeSensors) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

type recordingListener struct {
	mu       sync.Mutex
	bearings []float64
}

func (l *recordingListener) OnBearing(deg float64) {
	l.mu.Lock()
	l.bearings = append(l.bearings, deg)
	l.mu.Unlock()
}

func (l *recordingListener) got() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.bearings...)
}

func feedHeading(m *Manager, heading float64) {
	f := fieldFor(heading)
	m.OnSensorSample(Sample{Kind: Accelerometer, Values: flat[:]})
	m.OnSensorSample(Sample{Kind: Magnetometer, Values: f[:]})
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestCompassEmitsFusedBearing(t *testing.T) {
	src := newFakeSensors(Accelerometer, Magnetometer)
	m := NewManager(src, Config{})
	l := &recordingListener{}
	m.Subscribe(l)

	if src.active() != 2 {
		t.Fatalf("registered sensors = %d, want 2", src.active())
	}

	feedHeading(m, 90)
	got := l.got()
	if len(got) != 1 || !near(got[0], 90) {
		t.Fatalf("bearings = %v, want [90]", got)
	}

	feedHeading(m, 270)
	got = l.got()
	if len(got) != 2 || !near(got[1], 270) {
		t.Fatalf("bearings = %v, want west normalized to 270", got)
	}
}

func TestDeadbandSuppressesJitter(t *testing.T) {
	m := NewManager(newFakeSensors(Accelerometer, Magnetometer), Config{Deadband: 5})
	l := &recordingListener{}
	m.Subscribe(l)

	feedHeading(m, 100)
	for _, h := range []float64{101, 104.9, 96, 95.5, 103} {
		feedHeading(m, h)
	}
	if got := l.got(); len(got) != 1 {
		t.Fatalf("bearings = %v, want only the first", got)
	}
	if raw, _ := m.RawBearing(); !near(raw, 103) {
		t.Fatalf("raw bearing = %v, want 103", raw)
	}

	feedHeading(m, 106)
	got := l.got()
	if len(got) != 2 || !near(got[1], 106) {
		t.Fatalf("bearings = %v, want second emission of 106", got)
	}
}

func TestDeadbandAcrossNorth(t *testing.T) {
	m := NewManager(newFakeSensors(Accelerometer, Magnetometer), Config{})
	l := &recordingListener{}
	m.Subscribe(l)

	feedHeading(m, 358)
	feedHeading(m, 2)
	if got := l.got(); len(got) != 1 {
		t.Fatalf("bearings = %v, want wrap within deadband suppressed", got)
	}
	feedHeading(m, 5)
	if got := l.got(); len(got) != 2 || !near(got[1], 5) {
		t.Fatalf("bearings = %v, want 5 emitted", got)
	}
}

func TestShortSamplesAreIgnored(t *testing.T) {
	m := NewManager(newFakeSensors(Accelerometer, Magnetometer), Config{})
	l := &recordingListener{}
	m.Subscribe(l)

	f := fieldFor(45)
	m.OnSensorSample(Sample{Kind: Accelerometer, Values: flat[:]})
	m.OnSensorSample(Sample{Kind: Magnetometer, Values: f[:2]})
	if got := l.got(); len(got) != 0 {
		t.Fatalf("bearings = %v, want none from a two-axis sample", got)
	}
	m.OnSensorSample(Sample{Kind: Magnetometer, Values: f[:]})
	if got := l.got(); len(got) != 1 || !near(got[0], 45) {
		t.Fatalf("bearings = %v, want [45]", got)
	}
}

func TestMissingSensorIsPermanentlyUnavailable(t *testing.T) {
	src := newFakeSensors(Accelerometer)
	m := NewManager(src, Config{})
	l := &recordingListener{}
	m.Subscribe(l)

	if m.IsAvailable() {
		t.Fatal("IsAvailable = true without a magnetometer")
	}
	if src.registers != 0 {
		t.Fatalf("registers = %d, want 0", src.registers)
	}
	feedHeading(m, 10)
	if got := l.got(); len(got) != 0 {
		t.Fatalf("bearings = %v, want none", got)
	}
}

func TestSensorsReleasedOnLastUnsubscribe(t *testing.T) {
	src := newFakeSensors(Accelerometer, Magnetometer)
	m := NewManager(src, Config{})
	a, b := &recordingListener{}, &recordingListener{}

	m.Subscribe(a)
	m.Subscribe(b)
	m.Subscribe(a)
	if src.registers != 2 {
		t.Fatalf("registers = %d, want 2", src.registers)
	}
	m.Unsubscribe(a)
	if src.active() != 2 {
		t.Fatal("sensors released with a subscriber left")
	}
	m.Unsubscribe(b)
	if src.active() != 0 {
		t.Fatalf("active sensors = %d, want 0", src.active())
	}

	feedHeading(m, 10)
	if len(a.got())+len(b.got()) != 0 {
		t.Fatal("bearing delivered after unsubscribe")
	}
}

func TestRegistrationFailureReportsUnavailable(t *testing.T) {
	src := newFakeSensors(Accelerometer, Magnetometer)
	src.registerErr = errors.New("busy")
	m := NewManager(src, Config{})
	l := &recordingListener{}
	m.Subscribe(l)

	if m.IsAvailable() {
		t.Fatal("IsAvailable = true after registration failure")
	}

	m.Unsubscribe(l)
	src.registerErr = nil
	m.Subscribe(l)
	if !m.IsAvailable() {
		t.Fatal("IsAvailable = false after successful retry")
	}
}

func TestTravelBearingReplacesCompass(t *testing.T) {
	m := NewManager(newFakeSensors(Accelerometer, Magnetometer), Config{})
	l := &recordingListener{}
	m.Subscribe(l)

	feedHeading(m, 0)
	m.UseTravelBearing(true, 180)
	feedHeading(m, 0)
	m.UseTravelBearing(true, 182)
	m.UseTravelBearing(true, 190)

	got := l.got()
	want := []float64{0, 180, 190}
	if len(got) != len(want) {
		t.Fatalf("bearings = %v, want %v", got, want)
	}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Fatalf("bearings = %v, want %v", got, want)
		}
	}

	m.UseTravelBearing(false, 0)
	feedHeading(m, 0)
	if got := l.got(); len(got) != 4 || !near(got[3], 0) {
		t.Fatalf("bearings = %v, want compass bearing after leaving travel mode", got)
	}
}

func TestTravelBearingWorksWithoutSensors(t *testing.T) {
	m := NewManager(newFakeSensors(), Config{})
	l := &recordingListener{}
	m.Subscribe(l)

	m.UseTravelBearing(true, -90)
	if got := l.got(); len(got) != 1 || !near(got[0], 270) {
		t.Fatalf("bearings = %v, want [270]", got)
	}
}
