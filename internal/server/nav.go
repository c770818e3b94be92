package server

import (
	"sync"
	"time"

	"github.com/shaunagostinho/geonav/internal/geo"
	"github.com/shaunagostinho/geonav/internal/location"
)

// tierController is the part of location.Manager the navigator drives.
type tierController interface {
	HasPreciseFix() bool
	UpdateFrequency(t location.Tier)
	UpdateFrequencyFromPreferences()
}

// Target is the navigation destination. A zero target means none is set.
type Target struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (t Target) IsSet() bool { return t.Lat != 0 || t.Lon != 0 }

// NavData is the navigation info sent to clients.
type NavData struct {
	HasTarget bool     `json:"hasTarget"`
	Distance  float64  `json:"distance"`           // m
	Bearing   float64  `json:"bearing"`            // degrees to target
	Relative  *float64 `json:"relative,omitempty"` // target bearing relative to heading
	Precise   bool     `json:"precise"`
	Close     bool     `json:"close"`
}

// navigator derives distance and direction to the target from fixes and
// bearings. Every websocket client reports the same fix, so results are
// cached per fix time.
type navigator struct {
	ctl       tierController
	closeDist float64

	mu         sync.Mutex
	target     Target
	heading    float64
	hasHeading bool
	fixTime    time.Time
	data       NavData
	hasData    bool
}

func newNavigator(ctl tierController, target Target, closeDist float64) *navigator {
	return &navigator{ctl: ctl, target: target, closeDist: closeDist}
}

// SetTarget replaces the destination and drops the cached result.
func (n *navigator) SetTarget(t Target) {
	n.mu.Lock()
	n.target = t
	n.hasData = false
	n.mu.Unlock()
}

func (n *navigator) Target() Target {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

// Update computes navigation data for f. Inside the close distance the
// position source is switched to the maximal tier; outside it the
// preferred tier is restored.
func (n *navigator) Update(f location.Fix) NavData {
	precise := n.ctl.HasPreciseFix()

	n.mu.Lock()
	if n.hasData && n.fixTime.Equal(f.Time) {
		d := n.data
		n.mu.Unlock()
		return d
	}
	d := NavData{Precise: precise}
	if n.target.IsSet() {
		d.HasTarget = true
		d.Distance = geo.Distance(f.Latitude, f.Longitude, n.target.Lat, n.target.Lon)
		d.Bearing = geo.InitialBearing(f.Latitude, f.Longitude, n.target.Lat, n.target.Lon)
		d.Close = d.Distance < n.closeDist
		if n.hasHeading {
			rel := geo.AngleDiff(n.heading, d.Bearing)
			d.Relative = &rel
		}
	}
	n.fixTime, n.data, n.hasData = f.Time, d, true
	n.mu.Unlock()

	if d.Close {
		n.ctl.UpdateFrequency(location.Maximal)
	} else {
		n.ctl.UpdateFrequencyFromPreferences()
	}
	return d
}

// SetHeading records the compass heading and returns the target bearing
// relative to it, if a target and a fix are known.
func (n *navigator) SetHeading(deg float64) (float64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.heading, n.hasHeading = deg, true
	if !n.hasData || !n.data.HasTarget {
		return 0, false
	}
	rel := geo.AngleDiff(deg, n.data.Bearing)
	n.data.Relative = &rel
	return rel, true
}
