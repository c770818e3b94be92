package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/geonav/internal/bearing"
	"github.com/shaunagostinho/geonav/internal/broker"
	"github.com/shaunagostinho/geonav/internal/location"
	"github.com/shaunagostinho/geonav/internal/logger"
)

// Config holds all navigator configuration. It implements
// location.Preferences.
type Config struct {
	mu sync.RWMutex

	Settings `yaml:",inline"`

	path string // file path for save/load
}

// Settings is the serializable part of Config.
type Settings struct {
	// Position and heading sources
	GPS     GPSConfig     `yaml:"gps" json:"gps"`
	Sensors SensorsConfig `yaml:"sensors" json:"sensors"`
	MQTT    broker.Config `yaml:"mqtt" json:"mqtt"`

	// Manager tuning
	Location LocationConfig `yaml:"location" json:"location"`
	Bearing  BearingConfig  `yaml:"bearing" json:"bearing"`

	// User preferences
	Preferences PreferencesConfig `yaml:"preferences" json:"preferences"`
	Navigation  NavigationConfig  `yaml:"navigation" json:"navigation"`

	// Logging
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`
}

type GPSConfig struct {
	Type     string `yaml:"type" json:"type"`          // "nmea", "demo", "mqtt" or "disabled"
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	Topic    string `yaml:"topic" json:"topic"` // MQTT topic for "mqtt"
}

type SensorsConfig struct {
	Type  string `yaml:"type" json:"type"` // "demo", "mqtt" or "disabled"
	Topic string `yaml:"topic" json:"topic"`
}

type LocationConfig struct {
	GraceDelayMs     int     `yaml:"grace_delay_ms" json:"graceDelayMs"`
	StalenessMs      int     `yaml:"staleness_ms" json:"stalenessMs"`
	PreciseAccuracyM float64 `yaml:"precise_accuracy_m" json:"preciseAccuracyM"`
	CompassSpeedMps  float64 `yaml:"compass_speed_mps" json:"compassSpeedMps"` // travel bearing above this speed
}

type BearingConfig struct {
	DeadbandDeg float64 `yaml:"deadband_deg" json:"deadbandDeg"`
}

type PreferencesConfig struct {
	UpdateFrequency location.Tier `yaml:"update_frequency" json:"updateFrequency"`
	OdometerEnabled bool          `yaml:"odometer_enabled" json:"odometerEnabled"`
	Language        string        `yaml:"language" json:"language"` // BCP 47, e.g. "en" or "ru"
}

type NavigationConfig struct {
	TargetLat      float64 `yaml:"target_lat" json:"targetLat"`
	TargetLon      float64 `yaml:"target_lon" json:"targetLon"`
	CloseDistanceM float64 `yaml:"close_distance_m" json:"closeDistanceM"` // MAXIMAL updates inside this radius
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	loc := location.DefaultConfig()
	return &Config{
		Settings: Settings{
			GPS: GPSConfig{
				Type:     "demo",
				PortPath: "/dev/ttyGPS",
				BaudRate: 9600,
			},
			Sensors: SensorsConfig{
				Type: "demo",
			},
			MQTT: broker.Config{
				Broker: "tcp://localhost:1883",
			},
			Location: LocationConfig{
				GraceDelayMs:     int(loc.GraceDelay / time.Millisecond),
				StalenessMs:      int(loc.Staleness / time.Millisecond),
				PreciseAccuracyM: loc.PreciseAccuracy,
				CompassSpeedMps:  loc.CompassSpeed,
			},
			Bearing: BearingConfig{
				DeadbandDeg: bearing.DefaultDeadband,
			},
			Preferences: PreferencesConfig{
				UpdateFrequency: location.DefaultTier,
				OdometerEnabled: true,
				Language:        "en",
			},
			Navigation: NavigationConfig{
				CloseDistanceM: 100,
			},
			Logging: logger.Config{
				Level:  "info",
				Format: "text",
			},
			Server: ServerConfig{
				ListenAddr: ":8080",
			},
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: GPS_TYPE, GPS_PORT, GPS_BAUD, SENSORS_TYPE, MQTT_BROKER,
// UPDATE_FREQUENCY, ODOMETER_ENABLED, TARGET_LAT, TARGET_LON, LISTEN_ADDR,
// LOG_LEVEL, LOG_FORMAT
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GPS_TYPE"); v != "" {
		c.GPS.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("SENSORS_TYPE"); v != "" {
		c.Sensors.Type = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("UPDATE_FREQUENCY"); v != "" {
		if t, err := location.ParseTier(v); err == nil {
			c.Preferences.UpdateFrequency = t
		} else {
			log.Printf("[config] %v", err)
		}
	}
	if v := os.Getenv("ODOMETER_ENABLED"); v != "" {
		c.Preferences.OdometerEnabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("TARGET_LAT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Navigation.TargetLat = n
		}
	}
	if v := os.Getenv("TARGET_LON"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Navigation.TargetLon = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Snapshot returns a deep copy of the settings for lock-free reading.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepcopy.Copy(c.Settings).(Settings)
}

// FrequencyTier returns the configured update frequency.
func (c *Config) FrequencyTier() location.Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Preferences.UpdateFrequency
}

// OdometerEnabled returns the configured odometer switch.
func (c *Config) OdometerEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Preferences.OdometerEnabled
}

func (c *Config) SetOdometerEnabled(enabled bool) {
	c.mu.Lock()
	c.Preferences.OdometerEnabled = enabled
	c.mu.Unlock()
}

func (c *Config) SetTarget(lat, lon float64) {
	c.mu.Lock()
	c.Navigation.TargetLat = lat
	c.Navigation.TargetLon = lon
	c.mu.Unlock()
}

// ManagerConfig converts the location section for location.NewManager.
func (s Settings) ManagerConfig() location.Config {
	return location.Config{
		GraceDelay:      time.Duration(s.Location.GraceDelayMs) * time.Millisecond,
		Staleness:       time.Duration(s.Location.StalenessMs) * time.Millisecond,
		PreciseAccuracy: s.Location.PreciseAccuracyM,
		CompassSpeed:    s.Location.CompassSpeedMps,
		Accuracy:        location.AccuracyFine,
		Language:        s.Preferences.Language,
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/geonav/config.yaml"
	}

	data, err := yaml.Marshal(&c.Settings)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(&c.Settings)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port paths, baud rates, logging).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(&c.Settings)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	// Decode into a copy so a bad patch leaves the config untouched
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := deepcopy.Copy(c.Settings).(Settings)
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	c.Settings = next
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
