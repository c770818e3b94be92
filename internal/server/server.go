package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/geonav/internal/bearing"
	"github.com/shaunagostinho/geonav/internal/location"
	"github.com/shaunagostinho/geonav/internal/logger"
	"github.com/shaunagostinho/geonav/internal/observability"
)

// Server exposes the location and bearing managers to WebSocket clients.
// Every connected client is a subscriber of both managers, so the position
// source and the compass run exactly while a browser is attached.
type Server struct {
	cfg     *Config
	loc     *location.Manager
	compass *bearing.Manager
	webFS   fs.FS
	log     logger.Logger
	metrics *observability.Collector
	texts   location.Texts
	nav     *navigator

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Fix      *location.Fix `json:"fix,omitempty"`
	Nav      *NavData      `json:"nav,omitempty"`
	Compass  *CompassData  `json:"compass,omitempty"`
	Provider *ProviderData `json:"provider,omitempty"`
	Status   *StatusData   `json:"status,omitempty"`
	Odo      *OdoData      `json:"odo,omitempty"`
	Config   *Settings     `json:"config,omitempty"`
	Stamp    int64         `json:"stamp"` // Unix ms
}

// CompassData carries a filtered bearing.
type CompassData struct {
	Bearing  float64  `json:"bearing"`            // degrees
	Relative *float64 `json:"relative,omitempty"` // target bearing relative to heading
	Travel   bool     `json:"travel"`             // direction of travel, not magnetic
}

// ProviderData is a raw provider status event.
type ProviderData struct {
	Provider string              `json:"provider"`
	Kind     location.StatusKind `json:"kind"`
	Extras   location.Extras     `json:"extras,omitempty"`
}

// StatusData is a user-facing status line.
type StatusData struct {
	Text       string `json:"text"`
	Available  bool   `json:"available"`
	Deprecated bool   `json:"deprecated"`
}

// OdoData is the odometer info sent to clients.
type OdoData struct {
	Distance float64 `json:"distance"` // m
	Enabled  bool    `json:"enabled"`
}

// New creates a new Server.
func New(cfg *Config, loc *location.Manager, compass *bearing.Manager, webFS fs.FS,
	log logger.Logger, metrics *observability.Collector) *Server {
	snap := cfg.Snapshot()
	if log == nil {
		log = logger.Noop()
	}
	s := &Server{
		cfg:     cfg,
		loc:     loc,
		compass: compass,
		webFS:   webFS,
		log:     log.With(logger.String("component", "server")),
		metrics: metrics,
		texts:   location.NewTexts(snap.Preferences.Language),
		nav: newNavigator(loc, Target{Lat: snap.Navigation.TargetLat, Lon: snap.Navigation.TargetLon},
			snap.Navigation.CloseDistanceM),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Odometer API
	mux.HandleFunc("/api/odo/reset", s.handleOdoReset)
	mux.HandleFunc("/api/odo/enable", s.handleOdoEnable)

	// Navigation API
	mux.HandleFunc("/api/target", s.handleTarget)
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled. On return
// every WebSocket client has been disconnected and unsubscribed.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Snapshot().Server.ListenAddr
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		// Shutdown leaves hijacked connections open.
		s.closeClients()
	}()

	log.Printf("[server] listening on %s", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	<-stopped
	return nil
}

// closeClients disconnects every WebSocket client.
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
		s.detach(c)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "upgrade error", logger.Err(err))
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		srv:  s,
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	// Status first so a "waiting" message on subscribe reaches the client.
	s.loc.SubscribeStatus(client)
	s.loc.Subscribe(client)
	if s.compass != nil {
		s.compass.Subscribe(client)
	}
	s.log.Info(r.Context(), "client connected", logger.String("client", client.id), logger.Int("clients", n))

	// Send initial config + odometer + last known fix
	snap := s.cfg.Snapshot()
	initial := Frame{
		Config: &snap,
		Odo:    s.odo(),
		Status: &StatusData{Available: s.loc.IsAvailable()},
		Stamp:  time.Now().UnixMilli(),
	}
	if !initial.Status.Available {
		initial.Status.Text = s.texts.Waiting()
	}
	if f, ok := s.loc.LastFix(); ok {
		nav := s.nav.Update(f)
		initial.Fix, initial.Nav = &f, &nav
	}
	client.push(initial)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for {
			select {
			case msg := <-client.send:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-client.done:
				return
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer s.detach(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// detach unsubscribes client from both managers and stops its writer. Only
// the first call for a client has any effect.
func (s *Server) detach(c *wsClient) {
	c.detachOnce.Do(func() { s.unsubscribeClient(c) })
}

func (s *Server) unsubscribeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.loc.Unsubscribe(c)
	s.loc.UnsubscribeStatus(c)
	if s.compass != nil {
		s.compass.Unsubscribe(c)
	}
	close(c.done)
	s.log.Info(context.Background(), "client disconnected", logger.String("client", c.id), logger.Int("clients", n))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warn(r.Context(), "config save failed", logger.Err(err))
		}
		snap := s.cfg.Snapshot()
		s.loc.Odometer().SetEnabled(snap.Preferences.OdometerEnabled)
		s.nav.SetTarget(Target{Lat: snap.Navigation.TargetLat, Lon: snap.Navigation.TargetLon})
		s.loc.UpdateFrequencyFromPreferences()

		// Broadcast updated config
		s.broadcast(Frame{Config: &snap, Odo: s.odo(), Stamp: time.Now().UnixMilli()})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleOdoReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.loc.Odometer().Reset()
	s.metrics.SetOdometer(0)
	s.broadcast(Frame{Odo: s.odo(), Stamp: time.Now().UnixMilli()})
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleOdoEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	s.loc.Odometer().SetEnabled(req.Enabled)
	s.cfg.SetOdometerEnabled(req.Enabled)
	if err := s.cfg.Save(); err != nil {
		s.log.Warn(r.Context(), "config save failed", logger.Err(err))
	}
	odo := s.odo()
	s.broadcast(Frame{Odo: odo, Stamp: time.Now().UnixMilli()})
	writeJSON(w, odo)
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.nav.Target())

	case http.MethodPost:
		var t Target
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if t.Lat < -90 || t.Lat > 90 || t.Lon < -180 || t.Lon > 180 {
			http.Error(w, "target out of range", 400)
			return
		}
		s.nav.SetTarget(t)
		s.cfg.SetTarget(t.Lat, t.Lon)
		if err := s.cfg.Save(); err != nil {
			s.log.Warn(r.Context(), "config save failed", logger.Err(err))
		}
		s.log.Info(r.Context(), "target set", logger.Float("lat", t.Lat), logger.Float("lon", t.Lon))

		frame := Frame{Stamp: time.Now().UnixMilli()}
		if f, ok := s.loc.LastFix(); ok {
			nav := s.nav.Update(f)
			frame.Fix, frame.Nav = &f, &nav
		}
		s.broadcast(frame)
		writeJSON(w, t)

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// Status is the /api/status response.
type Status struct {
	State            string        `json:"state"`
	Tier             location.Tier `json:"tier"`
	Available        bool          `json:"available"`
	Precise          bool          `json:"precise"`
	Subscribers      int           `json:"subscribers"`
	LastFix          *location.Fix `json:"lastFix,omitempty"`
	CompassAvailable bool          `json:"compassAvailable"`
	Bearing          *float64      `json:"bearing,omitempty"`
	Odo              *OdoData      `json:"odo"`
	Target           Target        `json:"target"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	st := Status{
		State:       s.loc.State().String(),
		Tier:        s.loc.Tier(),
		Available:   s.loc.IsAvailable(),
		Precise:     s.loc.HasPreciseFix(),
		Subscribers: s.loc.Subscribers(),
		Odo:         s.odo(),
		Target:      s.nav.Target(),
	}
	if f, ok := s.loc.LastFix(); ok {
		st.LastFix = &f
	}
	if s.compass != nil {
		st.CompassAvailable = s.compass.IsAvailable()
		if b, ok := s.compass.LastBearing(); ok {
			st.Bearing = &b
		}
	}
	writeJSON(w, st)
}

func (s *Server) odo() *OdoData {
	o := s.loc.Odometer()
	return &OdoData{Distance: o.Distance(), Enabled: o.Enabled()}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		client.write(data)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), 500)
	}
}
