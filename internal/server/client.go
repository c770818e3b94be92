package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/geonav/internal/location"
)

// wsClient is one browser connection. It subscribes to the location and
// bearing managers itself and turns their callbacks into frames.
type wsClient struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	detachOnce sync.Once
}

func (c *wsClient) OnFix(f location.Fix) {
	nav := c.srv.nav.Update(f)
	c.push(Frame{Fix: &f, Nav: &nav, Odo: c.srv.odo(), Stamp: time.Now().UnixMilli()})
}

func (c *wsClient) OnProviderStatus(provider string, kind location.StatusKind, extras location.Extras) {
	c.push(Frame{
		Provider: &ProviderData{Provider: provider, Kind: kind, Extras: extras},
		Stamp:    time.Now().UnixMilli(),
	})
}

func (c *wsClient) OnStatusMessage(text string) {
	c.push(Frame{
		Status: &StatusData{Text: text, Available: c.srv.loc.IsAvailable()},
		Stamp:  time.Now().UnixMilli(),
	})
}

func (c *wsClient) OnLocationDeprecated() {
	c.push(Frame{
		Status: &StatusData{
			Text:       c.srv.texts.LocationExpired(),
			Available:  c.srv.loc.IsAvailable(),
			Deprecated: true,
		},
		Stamp: time.Now().UnixMilli(),
	})
}

func (c *wsClient) OnBearing(deg float64) {
	cd := &CompassData{Bearing: deg, Travel: c.srv.compass.TravelMode()}
	if rel, ok := c.srv.nav.SetHeading(deg); ok {
		cd.Relative = &rel
	}
	c.push(Frame{Compass: cd, Stamp: time.Now().UnixMilli()})
}

func (c *wsClient) push(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.write(data)
}

// write queues data without blocking. Slow or closed clients drop frames.
func (c *wsClient) write(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}
