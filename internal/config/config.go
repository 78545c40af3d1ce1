package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Serial  SerialConfig  `yaml:"serial"`
	Sim     SimConfig     `yaml:"sim"`
	Tiles   TilesConfig   `yaml:"tiles"`
	Geocode GeocodeConfig `yaml:"geocode"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

type HTTPConfig struct {
	Listen    string `yaml:"listen"`
	StaticDir string `yaml:"static_dir"`
}

type SerialConfig struct {
	// Source selects the ingest path: "serial", "gpsd" or "sim".
	Source   string `yaml:"source"`
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	GPSDAddr string `yaml:"gpsd_addr"`
}

type SimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusDeg    float64       `yaml:"radius_deg"`
	Period       time.Duration `yaml:"period"`
	SpeedKnots   float64       `yaml:"speed_knots"`
}

type TilesConfig struct {
	Dir       string `yaml:"dir"`
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
}

type GeocodeConfig struct {
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a usable configuration without a config file.
func Default() Config {
	var cfg Config
	// DefaultAndValidate cannot fail on the zero value.
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":5000"
	}
	if cfg.HTTP.StaticDir == "" {
		cfg.HTTP.StaticDir = "./static"
	}

	cfg.Serial.Source = strings.ToLower(strings.TrimSpace(cfg.Serial.Source))
	if cfg.Serial.Source == "" {
		cfg.Serial.Source = "serial"
	}
	switch cfg.Serial.Source {
	case "serial", "gpsd", "sim":
	default:
		return fmt.Errorf("serial.source must be one of serial, gpsd, sim")
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 9600
	}
	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}
	if cfg.Serial.GPSDAddr == "" {
		cfg.Serial.GPSDAddr = "127.0.0.1:2947"
	}

	// Simulation defaults (safe even when the source is hardware).
	if cfg.Sim.CenterLatDeg == 0 && cfg.Sim.CenterLonDeg == 0 {
		cfg.Sim.CenterLatDeg = 45.5017
		cfg.Sim.CenterLonDeg = -73.5673
	}
	if cfg.Sim.RadiusDeg <= 0 {
		cfg.Sim.RadiusDeg = 0.0005
	}
	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 63 * time.Second
	}
	if cfg.Sim.SpeedKnots <= 0 {
		cfg.Sim.SpeedKnots = 0.5
	}

	if cfg.Tiles.Dir == "" {
		cfg.Tiles.Dir = "./tiles"
	}
	if cfg.Tiles.URL == "" {
		cfg.Tiles.URL = "https://tile.openstreetmap.org"
	}
	if cfg.Tiles.UserAgent == "" {
		cfg.Tiles.UserAgent = "L76X-Offgrid-Importer/1.0"
	}

	if cfg.Geocode.URL == "" {
		cfg.Geocode.URL = "https://nominatim.openstreetmap.org/search"
	}
	if cfg.Geocode.UserAgent == "" {
		cfg.Geocode.UserAgent = "GPS-Assistant/1.0"
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gpsmap"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "gpsmap/fix"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 28
	}

	return nil
}
