package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaunagostinho/geonav/internal/location"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.GPS.Type != "demo" || cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("defaults not applied: %+v", cfg.Settings)
	}
	if cfg.FrequencyTier() != location.Normal {
		t.Fatalf("tier = %v, want normal", cfg.FrequencyTier())
	}
	if !cfg.OdometerEnabled() {
		t.Fatal("odometer disabled by default")
	}
}

func TestLoadConfigYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `gps:
  type: nmea
  port_path: /dev/ttyUSB0
  baud_rate: 4800
preferences:
  update_frequency: rarely
  odometer_enabled: false
navigation:
  target_lat: 43.5
  target_lon: -79.5
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("# comment\nTARGET_LON=\"-80.25\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GPS_BAUD", "38400")
	t.Setenv("UPDATE_FREQUENCY", "Maximal")
	t.Setenv("TARGET_LON", "")

	cfg := LoadConfig(path)

	if cfg.GPS.Type != "nmea" || cfg.GPS.PortPath != "/dev/ttyUSB0" {
		t.Fatalf("gps = %+v", cfg.GPS)
	}
	if cfg.GPS.BaudRate != 38400 {
		t.Fatalf("baud = %d, want env override 38400", cfg.GPS.BaudRate)
	}
	if cfg.FrequencyTier() != location.Maximal {
		t.Fatalf("tier = %v, want maximal", cfg.FrequencyTier())
	}
	if cfg.OdometerEnabled() {
		t.Fatal("odometer should be disabled")
	}
	if cfg.Navigation.TargetLat != 43.5 || cfg.Navigation.TargetLon != -80.25 {
		t.Fatalf("target = %v,%v", cfg.Navigation.TargetLat, cfg.Navigation.TargetLon)
	}
	// Untouched sections keep defaults.
	if cfg.Location.GraceDelayMs != 5000 {
		t.Fatalf("grace = %d, want 5000", cfg.Location.GraceDelayMs)
	}
}

func TestUpdateFromJSONMergesSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GPS.PortPath = "/dev/ttyGPS1"

	err := cfg.UpdateFromJSON([]byte(`{"gps":{"type":"mqtt"},"preferences":{"updateFrequency":"often"}}`))
	if err != nil {
		t.Fatalf("UpdateFromJSON: %v", err)
	}
	if cfg.GPS.Type != "mqtt" || cfg.GPS.PortPath != "/dev/ttyGPS1" {
		t.Fatalf("gps = %+v, want merged", cfg.GPS)
	}
	if cfg.FrequencyTier() != location.Often {
		t.Fatalf("tier = %v, want often", cfg.FrequencyTier())
	}
}

func TestUpdateFromJSONRejectsBadPatch(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.UpdateFromJSON([]byte(`{"preferences":{"updateFrequency":"hourly"}}`)); err == nil {
		t.Fatal("unknown tier accepted")
	}
	if err := cfg.UpdateFromJSON([]byte(`not json`)); err == nil {
		t.Fatal("invalid json accepted")
	}
	if cfg.FrequencyTier() != location.Normal {
		t.Fatalf("tier = %v after rejected patches", cfg.FrequencyTier())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.SetTarget(10.5, 20.25)
	cfg.Preferences.UpdateFrequency = location.Rarely

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "update_frequency: rarely") {
		t.Fatalf("saved yaml missing tier:\n%s", data)
	}

	loaded := LoadConfig(path)
	if loaded.Navigation.TargetLat != 10.5 || loaded.Navigation.TargetLon != 20.25 {
		t.Fatalf("target = %+v", loaded.Navigation)
	}
	if loaded.FrequencyTier() != location.Rarely {
		t.Fatalf("tier = %v, want rarely", loaded.FrequencyTier())
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	snap := cfg.Snapshot()
	cfg.SetTarget(1, 2)
	if snap.Navigation.TargetLat != 0 {
		t.Fatal("snapshot follows later writes")
	}

	mc := snap.ManagerConfig()
	if mc.GraceDelay != 5*time.Second || mc.Staleness != 30*time.Second {
		t.Fatalf("manager config = %+v", mc)
	}
	if mc.Language != "en" {
		t.Fatalf("language = %q", mc.Language)
	}
}
