package sensors

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shaunagostinho/geonav/internal/bearing"
	"github.com/shaunagostinho/geonav/internal/broker"
	"github.com/shaunagostinho/geonav/internal/logger"
)

// DefaultTopic carries raw samples of the inertial computer's left IMU.
const DefaultTopic = "inertial/imu/left"

// imuRaw is a single raw IMU+mag sample as published by the producer.
type imuRaw struct {
	Source string `json:"source"` // "left" or "right"

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

// MQTTSource splits raw IMU messages into accelerometer and magnetometer
// samples. The topic is subscribed while any sensor is registered.
type MQTTSource struct {
	sub   broker.Subscriber
	topic string
	log   logger.Logger

	mu    sync.Mutex
	sinks map[bearing.SensorKind]bearing.Sink
}

// NewMQTT creates a source reading topic through sub.
func NewMQTT(sub broker.Subscriber, topic string, log logger.Logger) *MQTTSource {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTSource{
		sub:   sub,
		topic: topic,
		log:   log.With(logger.String("component", "imu"), logger.String("topic", topic)),
		sinks: map[bearing.SensorKind]bearing.Sink{},
	}
}

// Has reports true for both sensors: every IMU message carries both.
func (s *MQTTSource) Has(kind bearing.SensorKind) bool {
	return kind == bearing.Accelerometer || kind == bearing.Magnetometer
}

func (s *MQTTSource) Register(kind bearing.SensorKind, sink bearing.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sinks) == 0 {
		if err := s.sub.Subscribe(s.topic, s.handle); err != nil {
			return err
		}
	}
	s.sinks[kind] = sink
	return nil
}

func (s *MQTTSource) Unregister(kind bearing.SensorKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sinks[kind]; !ok {
		return nil
	}
	delete(s.sinks, kind)
	if len(s.sinks) == 0 {
		s.sub.Unsubscribe(s.topic)
	}
	return nil
}

func (s *MQTTSource) handle(payload []byte) {
	var raw imuRaw
	if err := json.Unmarshal(payload, &raw); err != nil {
		s.log.Debug(context.Background(), "bad payload", logger.Err(err))
		return
	}

	s.mu.Lock()
	accel := s.sinks[bearing.Accelerometer]
	mag := s.sinks[bearing.Magnetometer]
	s.mu.Unlock()

	now := time.Now()
	if accel != nil {
		accel.OnSensorSample(bearing.Sample{
			Kind:   bearing.Accelerometer,
			Values: []float64{float64(raw.Ax), float64(raw.Ay), float64(raw.Az)},
			Time:   now,
		})
	}
	if mag != nil {
		mag.OnSensorSample(bearing.Sample{
			Kind:   bearing.Magnetometer,
			Values: []float64{float64(raw.Mx), float64(raw.My), float64(raw.Mz)},
			Time:   now,
		})
	}
}
