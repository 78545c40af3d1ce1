package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTP.Listen != ":5000" {
		t.Fatalf("listen=%q", cfg.HTTP.Listen)
	}
	if cfg.Serial.Source != "serial" || cfg.Serial.Baud != 9600 {
		t.Fatalf("serial=%+v", cfg.Serial)
	}
	if cfg.Sim.CenterLatDeg == 0 || cfg.Sim.Period != 63*time.Second {
		t.Fatalf("sim=%+v", cfg.Sim)
	}
	if cfg.Tiles.Dir != "./tiles" || cfg.Tiles.URL == "" || cfg.Tiles.UserAgent == "" {
		t.Fatalf("tiles=%+v", cfg.Tiles)
	}
	if cfg.Geocode.URL == "" || cfg.Geocode.UserAgent == "" {
		t.Fatalf("geocode=%+v", cfg.Geocode)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log=%+v", cfg.Log)
	}
}

func TestLoad_SourceValidation(t *testing.T) {
	path := writeTempConfig(t, "serial:\n  source: telepathy\n")
	_, err := Load(path)
	requireErrEq(t, err, "serial.source must be one of serial, gpsd, sim")
}

func TestLoad_SourceNormalized(t *testing.T) {
	path := writeTempConfig(t, "serial:\n  source: ' GPSD '\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Serial.Source != "gpsd" {
		t.Fatalf("source=%q", cfg.Serial.Source)
	}
	if cfg.Serial.GPSDAddr != "127.0.0.1:2947" {
		t.Fatalf("gpsd_addr=%q", cfg.Serial.GPSDAddr)
	}
}

func TestLoad_NegativeBaudRejected(t *testing.T) {
	path := writeTempConfig(t, "serial:\n  baud: -1\n")
	_, err := Load(path)
	requireErrEq(t, err, "serial.baud must be > 0")
}

func TestLoad_MQTTRequiresBroker(t *testing.T) {
	path := writeTempConfig(t, "mqtt:\n  enable: true\n")
	_, err := Load(path)
	requireErrEq(t, err, "mqtt.broker is required when mqtt.enable is true")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.HTTP.Listen == "" || cfg.Tiles.Dir == "" || cfg.Serial.Source != "serial" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.MQTT.Enable {
		t.Fatalf("mqtt must default to disabled")
	}
}
