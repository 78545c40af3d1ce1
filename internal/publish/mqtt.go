// Package publish pushes the current fix to an MQTT broker so other
// on-board consumers (dashboards, loggers) can follow the position
// without polling the HTTP API.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"gpsmap/internal/gps"
)

// Options configures the MQTT publisher.
type Options struct {
	Broker   string        // e.g. "tcp://localhost:1883"
	ClientID string        // defaults to "gpsmap"
	Topic    string        // defaults to "gpsmap/fix"
	Interval time.Duration // defaults to 1s
}

// Publisher periodically publishes the latest fix as retained JSON.
type Publisher struct {
	opts   Options
	fix    func() gps.Fix
	client mqtt.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// fixMessage is the wire shape of one published fix. Coordinates are null
// until the receiver has produced at least one valid position.
type fixMessage struct {
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	SpeedKnots float64  `json:"speed_knots"`
	Timestamp  string   `json:"timestamp"`
	Satellites int      `json:"satellites"`
	HDOP       float64  `json:"hdop"`
	Valid      bool     `json:"valid"`
	UpdatedAt  string   `json:"updated_at"`
}

func buildMessage(fix gps.Fix) fixMessage {
	msg := fixMessage{
		SpeedKnots: fix.SpeedKnots,
		Timestamp:  fix.Timestamp,
		Satellites: fix.Satellites,
		HDOP:       fix.HDOP,
		Valid:      fix.Valid,
	}
	if fix.HasPosition {
		lat, lon := fix.Lat, fix.Lon
		msg.Lat, msg.Lon = &lat, &lon
	}
	if !fix.UpdatedAt.IsZero() {
		msg.UpdatedAt = fix.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return msg
}

// New creates a publisher that reads the fix from the given source. It does
// not connect until Start.
func New(opts Options, fix func() gps.Fix) *Publisher {
	if opts.ClientID == "" {
		opts.ClientID = "gpsmap"
	}
	if opts.Topic == "" {
		opts.Topic = "gpsmap/fix"
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Publisher{opts: opts, fix: fix}
}

// Start connects to the broker and begins publishing. The loop runs until
// the context is cancelled or Close is called.
func (p *Publisher) Start(ctx context.Context) error {
	if p == nil {
		return errors.New("mqtt publisher is nil")
	}
	if p.opts.Broker == "" {
		return errors.New("mqtt broker address is empty")
	}
	if p.fix == nil {
		return errors.New("mqtt publisher has no fix source")
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(p.opts.Broker).
		SetClientID(p.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	p.client = mqtt.NewClient(clientOpts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Infof("mqtt: connected to %s, publishing to %s", p.opts.Broker, p.opts.Topic)

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	payload, err := json.Marshal(buildMessage(p.fix()))
	if err != nil {
		log.Warnf("mqtt: marshal fix: %v", err)
		return
	}
	token := p.client.Publish(p.opts.Topic, 0, true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Warnf("mqtt: publish: %v", err)
	}
}

// Close stops the publish loop and disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
