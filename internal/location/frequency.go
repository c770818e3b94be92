package location

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a coarse update-frequency setting. Higher tiers request updates
// more often and over shorter distances.
type Tier int

const (
	Minimal Tier = iota
	Rarely
	Normal
	Often
	Maximal
)

// DefaultTier is used when no preference is configured.
const DefaultTier = Normal

var tierNames = [...]string{
	Minimal: "minimal",
	Rarely:  "rarely",
	Normal:  "normal",
	Often:   "often",
	Maximal: "maximal",
}

var tierParams = [...]struct {
	interval time.Duration
	distance float64
}{
	Minimal: {16 * time.Second, 16},
	Rarely:  {8 * time.Second, 8},
	Normal:  {4 * time.Second, 4},
	Often:   {2 * time.Second, 2},
	Maximal: {1 * time.Second, 1},
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Minimal && t <= Maximal
}

// Params returns the minimum time interval and minimum distance in meters
// between updates. Unknown tiers map to DefaultTier.
func (t Tier) Params() (time.Duration, float64) {
	if !t.Valid() {
		t = DefaultTier
	}
	p := tierParams[t]
	return p.interval, p.distance
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier accepts a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return DefaultTier, fmt.Errorf("location: unknown update frequency %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("location: invalid tier %d", int(t))
	}
	return []byte(tierNames[t]), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
