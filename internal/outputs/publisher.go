// Package outputs publishes pipeline output records to an MQTT broker
// so displays, speech frontends, and avatar renderers can subscribe to
// them.
package outputs

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/mivra/kotori-agent/internal/config"
	"github.com/mivra/kotori-agent/internal/pipeline"
)

// Publisher manages the MQTT connection and publishes one message per
// pipeline output record. Availability is tracked with a retained
// birth message and a last-will "offline".
type Publisher struct {
	cfg    config.OutputsConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to establish the connection.
func New(cfg config.OutputsConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, logger: logger}
}

// Enabled reports whether output publishing is configured.
func (p *Publisher) Enabled() bool {
	return p.cfg.Broker != ""
}

// Start connects to the broker and returns once the initial connection
// attempt resolves. Reconnects are handled in the background.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "kotori-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Publish sends one output record to the output topic.
func (p *Publisher) Publish(ctx context.Context, record pipeline.SentenceOutput) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal output record: %w", err)
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.outputTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish output record: %w", err)
	}

	p.logger.Debug("output record published",
		"display_len", len(record.DisplayText),
		"tts_len", len(record.TTSText),
		"actions", len(record.Actions),
	)
	return nil
}

// Stop publishes "offline" and disconnects. The context bounds how
// long to wait for the disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return "kotori/" + p.cfg.DeviceName
}

func (p *Publisher) outputTopic() string {
	return p.baseTopic() + "/output"
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	}
}
