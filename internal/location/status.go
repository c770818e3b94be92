package location

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// StatusKind classifies a provider status event. The numbering follows the
// platform codes sources report.
type StatusKind int

const (
	OutOfService StatusKind = iota
	TemporarilyUnavailable
	Available
	GPSStarted
	GPSStopped
	FirstFix
	SatelliteStatus
	ProviderEnabled
	ProviderDisabled
)

var statusNames = [...]string{
	OutOfService:           "out_of_service",
	TemporarilyUnavailable: "temporarily_unavailable",
	Available:              "available",
	GPSStarted:             "gps_started",
	GPSStopped:             "gps_stopped",
	FirstFix:               "first_fix",
	SatelliteStatus:        "satellite_status",
	ProviderEnabled:        "provider_enabled",
	ProviderDisabled:       "provider_disabled",
}

func (k StatusKind) String() string {
	if k < 0 || int(k) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[k]
}

func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Extras keys set by sources on SatelliteStatus events.
const (
	ExtraSatellites       = "satellites"
	ExtraSatellitesInView = "satellites_in_view"
)

// Extras carries source-specific event details. It is passed to listeners
// as-is.
type Extras map[string]any

// Int returns the integer stored under key.
func (e Extras) Int(key string) (int, bool) {
	switch v := e[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Message keys for status text.
const (
	msgSatellites      = "satellites: %d/%d"
	msgWaiting         = "waiting for location"
	msgGPSStarted      = "GPS started"
	msgGPSStopped      = "GPS stopped"
	msgProviderOff     = "location provider %s disabled"
	msgProviderOn      = "location provider %s enabled"
	msgLocationExpired = "location is out of date"
)

var russian = map[string]string{
	msgSatellites:      "спутники: %d/%d",
	msgWaiting:         "ожидание местоположения",
	msgGPSStarted:      "GPS включен",
	msgGPSStopped:      "GPS выключен",
	msgProviderOff:     "источник %s отключен",
	msgProviderOn:      "источник %s включен",
	msgLocationExpired: "местоположение устарело",
}

func init() {
	for key, msg := range russian {
		if err := message.SetString(language.Russian, key, msg); err != nil {
			panic(fmt.Sprintf("location: register %q: %v", key, err))
		}
	}
}

// Texts renders status messages in one language.
type Texts struct {
	p *message.Printer
}

// NewTexts returns a Texts for the BCP 47 tag. Unknown or empty tags fall
// back to English.
func NewTexts(tag string) Texts {
	t, err := language.Parse(tag)
	if err != nil {
		t = language.English
	}
	return Texts{p: message.NewPrinter(t)}
}

func (t Texts) printer() *message.Printer {
	if t.p == nil {
		return message.NewPrinter(language.English)
	}
	return t.p
}

// Satellites formats the used/in-view satellite counts.
func (t Texts) Satellites(used, total int) string {
	return t.printer().Sprintf(msgSatellites, used, total)
}

func (t Texts) Waiting() string         { return t.printer().Sprintf(msgWaiting) }
func (t Texts) LocationExpired() string { return t.printer().Sprintf(msgLocationExpired) }

// ForStatus returns the status line for a provider event, or "" when the
// event has no user-facing text.
func (t Texts) ForStatus(provider string, kind StatusKind, extras Extras) string {
	p := t.printer()
	switch kind {
	case GPSStarted:
		return p.Sprintf(msgGPSStarted)
	case GPSStopped:
		return p.Sprintf(msgGPSStopped)
	case ProviderDisabled:
		return p.Sprintf(msgProviderOff, provider)
	case ProviderEnabled:
		return p.Sprintf(msgProviderOn, provider)
	case OutOfService, TemporarilyUnavailable:
		return p.Sprintf(msgWaiting)
	case SatelliteStatus:
		used, ok := extras.Int(ExtraSatellites)
		if !ok {
			return ""
		}
		total, ok := extras.Int(ExtraSatellitesInView)
		if !ok {
			total = used
		}
		return t.Satellites(used, total)
	}
	return ""
}
