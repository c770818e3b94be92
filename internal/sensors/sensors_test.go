package sensors

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shaunagostinho/geonav/internal/bearing"
	"github.com/shaunagostinho/geonav/internal/logger"
)

type fakeBroker struct {
	mu          sync.Mutex
	handlers    map[string]func([]byte)
	subscribes  int
	unsubscribe int
}

func (b *fakeBroker) Subscribe(topic string, handle func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]func([]byte){}
	}
	b.handlers[topic] = handle
	b.subscribes++
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribe++
}

func (b *fakeBroker) publish(topic, payload string) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

type recordingSink struct {
	mu      sync.Mutex
	samples []bearing.Sample
}

func (s *recordingSink) OnSensorSample(sample bearing.Sample) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestMQTTSourceSplitsIMUMessages(t *testing.T) {
	b := &fakeBroker{}
	src := NewMQTT(b, "", logger.Noop())
	sink := &recordingSink{}

	if err := src.Register(bearing.Accelerometer, sink); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := src.Register(bearing.Magnetometer, sink); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if b.subscribes != 1 {
		t.Fatalf("subscribes = %d, want 1", b.subscribes)
	}

	b.publish(DefaultTopic, `{"source":"left","ax":1,"ay":2,"az":16384,"gx":0,"gy":0,"gz":0,"mx":-300,"my":200,"mz":-500}`)

	if len(sink.samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(sink.samples))
	}
	acc, mag := sink.samples[0], sink.samples[1]
	if acc.Kind != bearing.Accelerometer || acc.Values[2] != 16384 {
		t.Fatalf("accelerometer sample = %+v", acc)
	}
	if mag.Kind != bearing.Magnetometer || mag.Values[0] != -300 || mag.Values[1] != 200 {
		t.Fatalf("magnetometer sample = %+v", mag)
	}

	src.Unregister(bearing.Accelerometer)
	if b.unsubscribe != 0 {
		t.Fatal("topic dropped while the magnetometer is registered")
	}
	src.Unregister(bearing.Magnetometer)
	src.Unregister(bearing.Magnetometer)
	if b.unsubscribe != 1 {
		t.Fatalf("unsubscribes = %d, want 1", b.unsubscribe)
	}
}

func TestDemoFeedsBearingManager(t *testing.T) {
	src := NewDemo(5 * time.Millisecond)
	sink := &recordingSink{}
	src.Register(bearing.Accelerometer, sink)
	src.Register(bearing.Magnetometer, sink)

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	src.Unregister(bearing.Accelerometer)
	src.Unregister(bearing.Magnetometer)

	if sink.count() < 4 {
		t.Fatalf("demo produced %d samples in 2s", sink.count())
	}
}

func TestDemoFieldMatchesHeading(t *testing.T) {
	for _, heading := range []float64{0, 45, 180, 300} {
		r, ok := bearing.RotationMatrix(bearing.Vector{0, 0, 9.81}, toVector(field(heading)))
		if !ok {
			t.Fatalf("heading %v: degenerate field", heading)
		}
		az, _, _ := bearing.Orientation(r)
		got := math.Mod(az*180/math.Pi+360, 360)
		diff := math.Abs(got - heading)
		if diff > 180 {
			diff = 360 - diff
		}
		if diff > 2 {
			t.Fatalf("heading %v: fused %v", heading, got)
		}
	}
}

func toVector(v []float64) bearing.Vector { return bearing.Vector{v[0], v[1], v[2]} }
