// Package mqtt wraps the paho client with the connect-on-demand and
// fire-and-forget publish behaviour the bridge needs.
package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"serial2mqtt/config"
)

const (
	// QoS is the delivery level of every message: at most once.
	QoS byte = 0

	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250       // milliseconds
	maxPayloadSize           = 268435455 // MQTT remaining-length limit
)

// Publisher owns a single paho client. Reconnection is driven by the caller
// through EnsureConnected; paho's own auto-reconnect is disabled so that
// IsConnected reflects the link state the caller acts on.
type Publisher struct {
	client         pahomqtt.Client
	broker         string
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         zerolog.Logger
}

// NewPublisher builds a publisher for cfg. It does not connect.
func NewPublisher(cfg config.MQTTConfig, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		broker:         cfg.BrokerURL(),
		connectTimeout: cfg.ConnectTimeout,
		publishTimeout: defaultPublishTimeout,
		logger:         logger.With().Str("component", "mqtt").Logger(),
	}
	p.client = pahomqtt.NewClient(p.clientOptions(cfg))
	return p
}

func (p *Publisher) clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}

	// Empty user means anonymous.
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.logger.Warn().Err(err).Str("broker", p.broker).Msg("connection lost")
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		p.logger.Info().Str("broker", p.broker).Msg("connection established")
	})
	return opts
}

// IsConnected reports whether the client currently has a live connection.
func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

// EnsureConnected is a no-op on a live connection. Otherwise it connects and
// waits for the result, bounded by the connect timeout and ctx. Once
// connected, paho runs its network loop in its own goroutines.
func (p *Publisher) EnsureConnected(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	p.logger.Info().Str("broker", p.broker).Msg("connecting to broker")

	token := p.client.Connect()
	timer := time.NewTimer(p.connectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: %s: timeout after %v", ErrConnectionFailed, p.broker, p.connectTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, p.broker, err)
	}
	return nil
}

// Publish sends payload to topic with QoS 0 and no retain flag. For QoS 0 the
// token completes once paho has handed the packet to its network loop; no
// broker acknowledgement is involved.
func (p *Publisher) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, QoS, false, payload)
	if !token.WaitTimeout(p.publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, p.publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages a short grace period.
func (p *Publisher) Close() {
	if p.client.IsConnectionOpen() {
		p.client.Disconnect(defaultDisconnectQuiesce)
	}
}
