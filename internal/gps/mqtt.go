package gps

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/geonav/internal/broker"
	"github.com/shaunagostinho/geonav/internal/location"
	"github.com/shaunagostinho/geonav/internal/logger"
)

// DefaultTopic is where the inertial computer publishes its GPS fixes.
const DefaultTopic = "inertial/gps"

// mqttFix is the JSON payload published on the GPS topic.
type mqttFix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "2025-12-06"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void)

	// Optional; producers that forward GST or GGA data may set one of these.
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
	HDOP      *float64 `json:"hdop,omitempty"`
}

// accuracy returns the fix accuracy radius in meters, if the payload has one.
func (m mqttFix) accuracy() (float64, bool) {
	switch {
	case m.AccuracyM != nil && *m.AccuracyM > 0:
		return *m.AccuracyM, true
	case m.HDOP != nil && *m.HDOP > 0:
		return *m.HDOP * uere, true
	}
	return 0, false
}

// MQTTSource consumes fixes published by a remote GPS producer.
type MQTTSource struct {
	sub   broker.Subscriber
	topic string
	log   logger.Logger

	mu       sync.Mutex
	running  bool
	sink     location.Sink
	throttle throttle
	hasFix   bool
}

// NewMQTT creates a source reading topic through sub.
func NewMQTT(sub broker.Subscriber, topic string, log logger.Logger) *MQTTSource {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTSource{
		sub:   sub,
		topic: topic,
		log:   log.With(logger.String("component", "gps"), logger.String("topic", topic)),
	}
}

func (s *MQTTSource) Name() string { return "mqtt-gps" }

func (s *MQTTSource) Start(req location.Request, sink location.Sink) error {
	s.mu.Lock()
	s.running = true
	s.sink = sink
	s.throttle = newThrottle(req)
	s.hasFix = false
	s.mu.Unlock()

	if err := s.sub.Subscribe(s.topic, s.handle); err != nil {
		s.mu.Lock()
		s.running, s.sink = false, nil
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MQTTSource) Stop() error {
	s.mu.Lock()
	s.running, s.sink = false, nil
	s.mu.Unlock()
	s.sub.Unsubscribe(s.topic)
	return nil
}

func (s *MQTTSource) handle(payload []byte) {
	var msg mqttFix
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.log.Debug(context.Background(), "bad payload", logger.Err(err))
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	sink := s.sink
	var events []location.StatusKind
	var fix *location.Fix
	if msg.Validity != "A" {
		if s.hasFix {
			s.hasFix = false
			events = append(events, location.TemporarilyUnavailable)
		}
	} else {
		if !s.hasFix {
			s.hasFix = true
			events = append(events, location.FirstFix)
		}
		f := location.Fix{
			Latitude:   msg.Latitude,
			Longitude:  msg.Longitude,
			Speed:      msg.SpeedKnots * knotsToMPS,
			HasSpeed:   true,
			Bearing:    msg.CourseDeg,
			HasBearing: msg.SpeedKnots > 0,
			Provider:   s.Name(),
			Time:       parseFixTime(msg.Date, msg.Time),
		}
		f.Accuracy, f.HasAccuracy = msg.accuracy()
		if s.throttle.allow(f) {
			fix = &f
		}
	}
	s.mu.Unlock()

	for _, kind := range events {
		sink.OnProviderStatus(s.Name(), kind, nil)
	}
	if fix != nil {
		sink.OnRawFix(*fix)
	}
}

var fixTimeLayouts = []string{
	"2006-01-02 15:04:05.0000",
	"2006-01-02 15:04:05",
	"02/01/06 15:04:05.0000",
	"02/01/06 15:04:05",
}

// parseFixTime reads the producer's date and time strings, falling back to
// the receive time.
func parseFixTime(date, clock string) time.Time {
	v := strings.TrimSpace(date + " " + clock)
	for _, layout := range fixTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
