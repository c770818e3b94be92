package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	// One arc-minute of latitude is one nautical mile on this sphere model.
	oneMinute := EarthRadius * (1.0 / 60) * math.Pi / 180

	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{name: "same point", lat1: 55, lon1: 37, lat2: 55, lon2: 37, want: 0},
		{name: "one minute north", lat1: 55, lon1: 37, lat2: 55 + 1.0/60, lon2: 37, want: oneMinute},
		{name: "dateline crossing", lat1: 0, lon1: 179.9, lat2: 0, lon2: -179.9, want: EarthRadius * 0.2 * math.Pi / 180},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("Distance = %.6f, want %.6f", got, tc.want)
			}
		})
	}
}

func TestInitialBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{name: "north", lat1: 0, lon1: 0, lat2: 1, lon2: 0, want: 0},
		{name: "east", lat1: 0, lon1: 0, lat2: 0, lon2: 1, want: 90},
		{name: "south", lat1: 1, lon1: 0, lat2: 0, lon2: 0, want: 180},
		{name: "west", lat1: 0, lon1: 0, lat2: 0, lon2: -1, want: 270},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := InitialBearing(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("InitialBearing = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAngleHelpers(t *testing.T) {
	if got := NormalizeDegrees(-90); got != 270 {
		t.Fatalf("NormalizeDegrees(-90) = %v, want 270", got)
	}
	if got := NormalizeDegrees(720); got != 0 {
		t.Fatalf("NormalizeDegrees(720) = %v, want 0", got)
	}
	if got := AngleDiff(358, 2); got != 4 {
		t.Fatalf("AngleDiff(358, 2) = %v, want 4", got)
	}
	if got := AngleDiff(2, 358); got != -4 {
		t.Fatalf("AngleDiff(2, 358) = %v, want -4", got)
	}
}
