// Package gps provides position sources for the location manager: a UART
// NMEA receiver, an MQTT feed and a simulated drive.
package gps

import (
	"errors"
	"time"

	"github.com/shaunagostinho/geonav/internal/geo"
	"github.com/shaunagostinho/geonav/internal/location"
)

// Connector is implemented by sources whose transport is connected once at
// start-up, independently of the location manager's start/stop cycle.
type Connector interface {
	Name() string
	Connect() error
	Close() error
}

// ErrDisabled is returned when starting the source of a disabled GPS.
var ErrDisabled = errors.New("gps: disabled")

// Disabled returns a source that never starts, leaving the location
// manager unavailable.
func Disabled() location.Source { return disabledSource{} }

type disabledSource struct{}

func (disabledSource) Name() string                                { return "disabled" }
func (disabledSource) Start(location.Request, location.Sink) error { return ErrDisabled }
func (disabledSource) Stop() error                                 { return nil }

// throttle passes a fix only when both the requested interval and the
// requested distance separate it from the last passed fix.
type throttle struct {
	interval time.Duration
	distance float64
	last     location.Fix
	hasLast  bool
}

func newThrottle(req location.Request) throttle {
	return throttle{interval: req.Interval, distance: req.Distance}
}

func (t *throttle) allow(f location.Fix) bool {
	if t.hasLast {
		if f.Time.Sub(t.last.Time) < t.interval {
			return false
		}
		if geo.Distance(t.last.Latitude, t.last.Longitude, f.Latitude, f.Longitude) < t.distance {
			return false
		}
	}
	t.last, t.hasLast = f, true
	return true
}

const knotsToMPS = 1852.0 / 3600.0
