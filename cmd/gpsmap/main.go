package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"gpsmap/internal/areas"
	"gpsmap/internal/config"
	"gpsmap/internal/geocode"
	"gpsmap/internal/gps"
	"gpsmap/internal/publish"
	"gpsmap/internal/sim"
	"gpsmap/internal/tiles"
	"gpsmap/internal/web"
)

func configureLogging(cfg config.LogConfig, buffer *web.LogBuffer) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	formatter := &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	log.SetFormatter(formatter)
	log.SetOutput(io.MultiWriter(os.Stderr, buffer))

	if cfg.File == "" {
		return
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    100,
		MaxBackups: 30,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.AddHook(lfshook.NewHook(lfshook.WriterMap{
		log.PanicLevel: writer,
		log.FatalLevel: writer,
		log.ErrorLevel: writer,
		log.WarnLevel:  writer,
		log.InfoLevel:  writer,
		log.DebugLevel: writer,
		log.TraceLevel: writer,
	}, formatter))
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./gpsmap.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logBuffer := web.NewLogBuffer(0)
	configureLogging(cfg.Log, logBuffer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc := gps.New(gps.Config{
		Source:   cfg.Serial.Source,
		Device:   cfg.Serial.Device,
		Baud:     cfg.Serial.Baud,
		GPSDAddr: cfg.Serial.GPSDAddr,
		Route: sim.Route{
			CenterLatDeg: cfg.Sim.CenterLatDeg,
			CenterLonDeg: cfg.Sim.CenterLonDeg,
			RadiusDeg:    cfg.Sim.RadiusDeg,
			Period:       cfg.Sim.Period,
			SpeedKnots:   cfg.Sim.SpeedKnots,
		},
	})
	// A missing receiver must not take the map server down with it. The
	// error stays visible through /api/status.
	if err := svc.Start(ctx); err != nil {
		log.Errorf("gps source %s did not start: %v", cfg.Serial.Source, err)
	}
	defer svc.Close()

	cache := tiles.New(cfg.Tiles.Dir)
	cache.BaseURL = cfg.Tiles.URL
	cache.UserAgent = cfg.Tiles.UserAgent

	registry := areas.NewRegistry(filepath.Join(cfg.Tiles.Dir, "saved_areas.json"))

	geocoder := geocode.New()
	geocoder.BaseURL = cfg.Geocode.URL
	geocoder.UserAgent = cfg.Geocode.UserAgent

	broadcaster := web.NewFixBroadcaster()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcaster.Publish(web.BuildLocation(svc.Fix(), time.Now()))
			}
		}
	}()

	if cfg.MQTT.Enable {
		pub := publish.New(publish.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		}, svc.Fix)
		if err := pub.Start(ctx); err != nil {
			log.Errorf("mqtt publisher did not start: %v", err)
		} else {
			defer pub.Close()
		}
	}

	log.Infof("gpsmap starting on %s (gps source %s, tiles in %s)",
		cfg.HTTP.Listen, cfg.Serial.Source, cfg.Tiles.Dir)

	err = web.Serve(ctx, cfg.HTTP.Listen, web.Options{
		Fixes:     svc,
		Tiles:     cache,
		Areas:     registry,
		Geocoder:  geocoder,
		Logs:      logBuffer,
		Broadcast: broadcaster,
		StaticDir: cfg.HTTP.StaticDir,
	})
	if err != nil {
		log.Fatalf("http server failed: %v", err)
	}
	log.Infof("gpsmap stopped")
}
