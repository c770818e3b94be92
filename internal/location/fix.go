package location

import "time"

// Fix is a single position reading. Latitude and longitude are decimal
// degrees, Bearing is degrees true along the direction of travel, Speed is
// m/s and Accuracy is the horizontal radius in meters. Optional fields are
// paired with a Has flag.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude,omitempty"`
	Bearing   float64   `json:"bearing,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Provider  string    `json:"provider"`
	Time      time.Time `json:"time"`

	HasAltitude bool `json:"hasAltitude"`
	HasBearing  bool `json:"hasBearing"`
	HasSpeed    bool `json:"hasSpeed"`
	HasAccuracy bool `json:"hasAccuracy"`
}

// IsZero reports whether f carries no reading.
func (f Fix) IsZero() bool {
	return f.Time.IsZero() && f.Latitude == 0 && f.Longitude == 0
}
