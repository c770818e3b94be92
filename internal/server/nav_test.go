package server

import (
	"math"
	"testing"
	"time"

	"github.com/shaunagostinho/geonav/internal/location"
)

type recordingTiers struct {
	precise  bool
	tiers    []location.Tier
	fromPref int
}

func (r *recordingTiers) HasPreciseFix() bool             { return r.precise }
func (r *recordingTiers) UpdateFrequency(t location.Tier) { r.tiers = append(r.tiers, t) }
func (r *recordingTiers) UpdateFrequencyFromPreferences() { r.fromPref++ }

var navEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixAt(lat, lon float64, sec int) location.Fix {
	return location.Fix{Latitude: lat, Longitude: lon, Time: navEpoch.Add(time.Duration(sec) * time.Second)}
}

func TestNavigatorWithoutTarget(t *testing.T) {
	ctl := &recordingTiers{precise: true}
	n := newNavigator(ctl, Target{}, 100)

	d := n.Update(fixAt(43, -79, 0))
	if d.HasTarget || d.Distance != 0 {
		t.Fatalf("nav = %+v, want no target", d)
	}
	if !d.Precise {
		t.Fatal("precise flag not propagated")
	}
	if ctl.fromPref != 1 || len(ctl.tiers) != 0 {
		t.Fatalf("tier calls = %v/%d, want preferences only", ctl.tiers, ctl.fromPref)
	}
}

func TestNavigatorDistanceAndBearing(t *testing.T) {
	ctl := &recordingTiers{}
	n := newNavigator(ctl, Target{Lat: 43.001, Lon: -79}, 100)

	d := n.Update(fixAt(43, -79, 0))
	if !d.HasTarget {
		t.Fatal("target not reported")
	}
	if math.Abs(d.Distance-111.2) > 0.5 {
		t.Fatalf("distance = %.2f, want ~111.2", d.Distance)
	}
	if math.Abs(d.Bearing) > 1e-6 {
		t.Fatalf("bearing = %v, want 0", d.Bearing)
	}
	if d.Close || d.Relative != nil {
		t.Fatalf("nav = %+v, want far and no heading", d)
	}
}

func TestNavigatorCloseSwitchesToMaximal(t *testing.T) {
	ctl := &recordingTiers{}
	n := newNavigator(ctl, Target{Lat: 43.0005, Lon: -79}, 100)

	d := n.Update(fixAt(43, -79, 0))
	if !d.Close {
		t.Fatalf("distance %.1f should be close", d.Distance)
	}
	if len(ctl.tiers) != 1 || ctl.tiers[0] != location.Maximal {
		t.Fatalf("tiers = %v, want [maximal]", ctl.tiers)
	}

	d = n.Update(fixAt(42.99, -79, 1))
	if d.Close {
		t.Fatal("far fix reported close")
	}
	if ctl.fromPref != 1 {
		t.Fatalf("preference restores = %d, want 1", ctl.fromPref)
	}
}

func TestNavigatorCachesPerFix(t *testing.T) {
	ctl := &recordingTiers{}
	n := newNavigator(ctl, Target{Lat: 44, Lon: -79}, 100)

	f := fixAt(43, -79, 0)
	first := n.Update(f)
	second := n.Update(f)
	if first.Distance != second.Distance {
		t.Fatalf("cached result differs: %v vs %v", first, second)
	}
	if ctl.fromPref != 1 {
		t.Fatalf("tier updated %d times for one fix, want 1", ctl.fromPref)
	}

	n.SetTarget(Target{Lat: 42, Lon: -79})
	third := n.Update(f)
	if math.Abs(third.Bearing-180) > 1e-6 {
		t.Fatalf("bearing after retarget = %v, want 180", third.Bearing)
	}
}

func TestNavigatorRelativeBearing(t *testing.T) {
	ctl := &recordingTiers{}
	n := newNavigator(ctl, Target{Lat: 43, Lon: -78.99}, 100)

	if _, ok := n.SetHeading(10); ok {
		t.Fatal("relative bearing without a fix")
	}
	d := n.Update(fixAt(43, -79, 0))
	if d.Relative == nil {
		t.Fatal("relative bearing missing after heading")
	}
	// Target is due east, heading 10 degrees.
	if math.Abs(*d.Relative-80) > 0.1 {
		t.Fatalf("relative = %.2f, want ~80", *d.Relative)
	}

	rel, ok := n.SetHeading(170)
	if !ok || math.Abs(rel+80) > 0.1 {
		t.Fatalf("relative = %.2f/%v, want ~-80", rel, ok)
	}
}
