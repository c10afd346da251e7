// Package notify mirrors pipeline events to an MQTT broker so
// operations tooling can watch the pipeline without holding a
// WebSocket to the operator API. Disabled unless a broker URL is
// configured.
package notify

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
	"github.com/google/uuid"

	"github.com/stayops/concierge/internal/config"
	"github.com/stayops/concierge/internal/events"
)

// Publisher relays bus events to MQTT topics under the configured
// prefix: refresh events to <prefix>/events/refresh, tick summaries
// to <prefix>/events/tick, staff alerts to <prefix>/events/alert.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call Start to begin
// the connection and relay loop.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool { return p.cfg.BrokerURL != "" }

// Start connects to the broker and relays bus events until ctx is
// cancelled. It blocks; run it as a goroutine.
func (p *Publisher) Start(ctx context.Context, bus *events.Bus) error {
	if !p.Enabled() {
		return fmt.Errorf("mqtt notify: no broker configured")
	}

	brokerURL, err := url.Parse(p.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.cfg.TopicPrefix + "/availability"

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
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.BrokerURL)
			publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := cm.Publish(publishCtx, &paho.Publish{
				Topic:   availTopic,
				Payload: []byte("online"),
				QoS:     1,
				Retain:  true,
			})
			if err != nil {
				p.logger.Warn("mqtt availability publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "concierge-" + p.instanceID[:8],
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			p.relay(ctx, e)
		}
	}
}

// relay publishes one event to its topic. Failures are logged, not
// returned — the mirror is best-effort.
func (p *Publisher) relay(ctx context.Context, e events.Event) {
	var topic string
	switch e.Kind {
	case events.KindRefresh:
		topic = p.cfg.TopicPrefix + "/events/refresh"
	case events.KindTickComplete:
		topic = p.cfg.TopicPrefix + "/events/tick"
	case events.KindStaffAlert:
		topic = p.cfg.TopicPrefix + "/events/alert"
	default:
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("mqtt marshal event failed", "kind", e.Kind, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
