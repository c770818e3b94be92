package gps

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/shaunagostinho/geonav/internal/location"
	"github.com/shaunagostinho/geonav/internal/logger"
)

// uere is the user equivalent range error in meters used to turn HDOP into
// an accuracy radius when the receiver does not send GST.
const uere = 5.0

// NMEAConfig holds configuration for the NMEA GPS source.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NMEASource reads standard NMEA 0183 sentences from a UART GPS.
// Compatible with u-blox NEO-M8N and any standard NMEA GPS. The port is
// open only while the source is started.
type NMEASource struct {
	portPath string
	baudRate int
	log      logger.Logger

	mu   sync.Mutex
	port serial.Port
	done chan struct{}
}

// NewNMEA creates a new NMEA GPS source.
func NewNMEA(cfg NMEAConfig, log logger.Logger) *NMEASource {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	return &NMEASource{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		log:      log.With(logger.String("component", "gps"), logger.String("port", cfg.PortPath)),
	}
}

func (n *NMEASource) Name() string { return "gps" }

// Start opens the serial port and begins decoding in the background.
func (n *NMEASource) Start(req location.Request, sink location.Sink) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port != nil {
		return fmt.Errorf("gps: %s already open", n.portPath)
	}

	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(n.portPath, mode)
	if err != nil {
		return fmt.Errorf("gps: failed to open %s: %w", n.portPath, err)
	}
	n.port = port
	n.done = make(chan struct{})
	n.log.Info(context.Background(), "port opened", logger.Int("baud", n.baudRate))

	go n.readLoop(port, n.done, newDecoder(n.Name(), req), sink)
	return nil
}

// Stop closes the port. The reader goroutine exits on its own.
func (n *NMEASource) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port == nil {
		return nil
	}
	close(n.done)
	err := n.port.Close()
	n.port, n.done = nil, nil
	if err != nil {
		return fmt.Errorf("gps: close %s: %w", n.portPath, err)
	}
	return nil
}

func (n *NMEASource) readLoop(port serial.Port, done <-chan struct{}, d *decoder, sink location.Sink) {
	out := &gatedSink{done: done, sink: sink}
	out.OnProviderStatus(d.provider, location.GPSStarted, nil)

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		if out.closed() {
			return
		}
		d.handle(scanner.Text(), out)
	}
	if out.closed() {
		return
	}
	n.log.Warn(context.Background(), "port read ended", logger.Err(scanner.Err()))
	out.OnProviderStatus(d.provider, location.TemporarilyUnavailable, nil)
}

// gatedSink drops events once the source has been stopped.
type gatedSink struct {
	done <-chan struct{}
	sink location.Sink
}

func (g *gatedSink) closed() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

func (g *gatedSink) OnRawFix(f location.Fix) {
	if !g.closed() {
		g.sink.OnRawFix(f)
	}
}

func (g *gatedSink) OnProviderStatus(provider string, kind location.StatusKind, extras location.Extras) {
	if !g.closed() {
		g.sink.OnProviderStatus(provider, kind, extras)
	}
}

// decoder turns NMEA sentences into fixes and status events. RMC carries
// the position; GGA, GSA, GST and GSV refine altitude, accuracy and
// satellite counts.
type decoder struct {
	provider string
	throttle throttle

	altitude    float64
	hasAltitude bool
	hdop        float64
	gstError    float64
	hasGST      bool
	used        int
	hasFix      bool
	now         func() time.Time
	parser      nmea.SentenceParser
}

func newDecoder(provider string, req location.Request) *decoder {
	d := &decoder{provider: provider, throttle: newThrottle(req), now: time.Now}
	d.parser.CustomParsers = map[string]nmea.ParserFunc{"GST": parseGST}
	return d
}

// gst is the pseudorange noise statistics sentence. Only the 1-sigma
// latitude and longitude errors, in meters, are kept.
type gst struct {
	nmea.BaseSentence
	LatitudeError  float64
	LongitudeError float64
}

func parseGST(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	m := gst{
		BaseSentence:   s,
		LatitudeError:  p.Float64(5, "latitude error"),
		LongitudeError: p.Float64(6, "longitude error"),
	}
	return m, p.Err()
}

func (d *decoder) handle(line string, sink location.Sink) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}
	sentence, err := d.parser.Parse(line)
	if err != nil {
		return
	}

	switch m := sentence.(type) {
	case nmea.RMC:
		d.handleRMC(m, sink)
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return
		}
		d.used = int(m.NumSatellites)
		d.hdop = m.HDOP
		d.altitude, d.hasAltitude = m.Altitude, true
	case nmea.GSA:
		d.hdop = m.HDOP
		d.used = len(m.SV)
	case gst:
		d.gstError = math.Hypot(m.LatitudeError, m.LongitudeError)
		d.hasGST = d.gstError > 0
	case nmea.GSV:
		if m.MessageNumber != m.TotalMessages {
			return
		}
		sink.OnProviderStatus(d.provider, location.SatelliteStatus, location.Extras{
			location.ExtraSatellites:       d.used,
			location.ExtraSatellitesInView: int(m.NumberSVsInView),
		})
	}
}

func (d *decoder) handleRMC(m nmea.RMC, sink location.Sink) {
	if m.Validity != nmea.ValidRMC {
		if d.hasFix {
			d.hasFix = false
			sink.OnProviderStatus(d.provider, location.TemporarilyUnavailable, nil)
		}
		return
	}

	f := location.Fix{
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
		Altitude:    d.altitude,
		HasAltitude: d.hasAltitude,
		Speed:       m.Speed * knotsToMPS,
		HasSpeed:    true,
		Bearing:     m.Course,
		HasBearing:  m.Speed > 0,
		Provider:    d.provider,
		Time:        rmcTime(m, d.now),
	}
	switch {
	case d.hasGST:
		f.Accuracy, f.HasAccuracy = d.gstError, true
	case d.hdop > 0:
		f.Accuracy, f.HasAccuracy = d.hdop*uere, true
	}

	if !d.hasFix {
		d.hasFix = true
		sink.OnProviderStatus(d.provider, location.FirstFix, nil)
	}
	if d.throttle.allow(f) {
		sink.OnRawFix(f)
	}
}

// rmcTime combines the RMC date and time, falling back to now.
func rmcTime(m nmea.RMC, now func() time.Time) time.Time {
	if !m.Date.Valid || !m.Time.Valid {
		return now().UTC()
	}
	return time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
}
