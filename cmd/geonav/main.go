package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/geonav/internal/bearing"
	"github.com/shaunagostinho/geonav/internal/broker"
	"github.com/shaunagostinho/geonav/internal/gps"
	"github.com/shaunagostinho/geonav/internal/location"
	"github.com/shaunagostinho/geonav/internal/logger"
	"github.com/shaunagostinho/geonav/internal/observability"
	"github.com/shaunagostinho/geonav/internal/sensors"
	"github.com/shaunagostinho/geonav/internal/server"
	"github.com/shaunagostinho/geonav/web"
)

func main() {
	configPath := flag.String("config", "/etc/geonav/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with simulated GPS and compass data")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] geonav starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.GPS.Type = "demo"
		cfg.Sensors.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	snap := cfg.Snapshot()

	lg := logger.New(snap.Logging)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		log.Fatalf("[main] metrics: %v", err)
	}

	// The MQTT client is shared by both sources and only created when used
	var mqttClient *broker.Client
	needMQTT := snap.GPS.Type == "mqtt" || snap.Sensors.Type == "mqtt"
	if needMQTT {
		mqttClient = broker.New(snap.MQTT, lg)
		defer mqttClient.Close()
	}

	// Initialize position source
	var gpsSrc location.Source
	switch snap.GPS.Type {
	case "nmea":
		gpsSrc = gps.NewNMEA(gps.NMEAConfig{
			PortPath: snap.GPS.PortPath,
			BaudRate: snap.GPS.BaudRate,
		}, lg)
	case "mqtt":
		gpsSrc = gps.NewMQTT(mqttClient, snap.GPS.Topic, lg)
	case "disabled":
		gpsSrc = gps.Disabled()
	default:
		gpsSrc = gps.NewDemo(gps.DemoConfig{
			CenterLat: snap.Navigation.TargetLat,
			CenterLon: snap.Navigation.TargetLon,
		})
	}

	// Initialize compass sensors
	var sensorSrc bearing.SensorSource
	switch snap.Sensors.Type {
	case "mqtt":
		sensorSrc = sensors.NewMQTT(mqttClient, snap.Sensors.Topic, lg)
	case "disabled":
		sensorSrc = nil
	default:
		sensorSrc = sensors.NewDemo(0)
	}

	if needMQTT {
		// Sources subscribe lazily, so the broker may come up after the server
		go connectWithRetry(ctx, mqttClient, 10)
	}
	log.Printf("[main] position source: %s", gpsSrc.Name())

	compass := bearing.NewManager(sensorSrc, bearing.Config{Deadband: snap.Bearing.DeadbandDeg},
		bearing.WithLogger(lg),
		bearing.WithMetrics(metrics))
	loc := location.NewManager(gpsSrc, snap.ManagerConfig(),
		location.WithLogger(lg),
		location.WithMetrics(metrics),
		location.WithPreferences(cfg),
		location.WithCompass(compass))

	go enableWithRetry(ctx, loc)

	// Start server — works immediately even if the sources are still connecting
	srv := server.New(cfg, loc, compass, web.FS, lg, metrics)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}

	// Skip the grace delay on shutdown
	loc.CheckSubscribers()
	log.Println("[main] stopped")
}

// enableWithRetry keeps retrying an unavailable position source while
// clients are waiting for it, backing off from 1s to 60s.
func enableWithRetry(ctx context.Context, loc *location.Manager) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if loc.Enable() || loc.Subscribers() == 0 {
			delay = 1 * time.Second
			continue
		}
		log.Printf("[GPS] source unavailable (retry in %v)", delay)
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, c gps.Connector, maxAttempts int) {
	name := c.Name()
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					name, attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					name, attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}
