package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/udveo/mavlink-tracking-bridge/internal/observability"
)

const (
	mqttSinkName        = "mqtt"
	defaultMQTTClientID = "mavlink-tracking-bridge"

	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectWait = 250 // milliseconds, paho API takes a plain uint
)

// MQTTConfig configures the MQTT sink. Host, port and topic are
// required.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientId"`
}

// Validate checks that all required MQTT keys are present.
func (c *MQTTConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("key 'host' missing from MQTT config")
	}
	if c.Port <= 0 {
		return fmt.Errorf("key 'port' missing from MQTT config")
	}
	if c.Topic == "" {
		return fmt.Errorf("key 'topic' missing from MQTT config")
	}
	return nil
}

// MQTTPublisher publishes tracking updates to an MQTT topic with QoS 0.
// Reconnection is delegated to the paho client (auto-reconnect with
// backoff); the publisher only mirrors the client's connection state so
// publish calls while disconnected stay cheap counted no-ops.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client

	state   connState
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewMQTT creates an MQTT publisher for the given broker configuration.
func NewMQTT(cfg MQTTConfig, opts ...Option) *MQTTPublisher {
	o := defaultSinkOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := MQTTPublisher{
		cfg:     cfg,
		logger:  o.logger.With(slog.String("sink", mqttSinkName)),
		metrics: o.metrics,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultMQTTClientID
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)

	clientOpts.OnConnect = func(mqtt.Client) {
		p.state.Set(StateConnected)
		p.logger.Info("MQTT connected", slog.String("host", cfg.Host), slog.Int("port", cfg.Port))
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.state.Set(StateDisconnected)
		p.metrics.Reconnect(mqttSinkName)
		p.logger.Warn(fmt.Sprintf("MQTT connection lost: %s", err.Error()))
	}
	clientOpts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		p.state.Set(StateConnecting)
	}

	p.client = mqtt.NewClient(clientOpts)
	return &p
}

func (p *MQTTPublisher) Name() string {
	return mqttSinkName
}

func (p *MQTTPublisher) State() ConnState {
	return p.state.Get()
}

// Run connects the client and holds it open until ctx is cancelled. The
// paho client keeps retrying the initial connection on its own, so a
// broker that is down at startup only delays delivery.
func (p *MQTTPublisher) Run(ctx context.Context) {
	p.state.Set(StateConnecting)
	p.client.Connect()

	<-ctx.Done()

	p.client.Disconnect(mqttDisconnectWait)
	p.state.Set(StateDisconnected)
}

// Publish sends one payload with QoS 0. While not connected it is a
// counted no-op.
func (p *MQTTPublisher) Publish(ctx context.Context, payload []byte) error {
	if p.state.Get() != StateConnected || !p.client.IsConnectionOpen() {
		p.metrics.PublishDropped(mqttSinkName)
		p.logger.Debug("not connected, dropping update")
		return nil
	}

	wait := defaultPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}

	token := p.client.Publish(p.cfg.Topic, 0, false, payload)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publishing to topic '%s': timed out after %s", p.cfg.Topic, wait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to topic '%s': %w", p.cfg.Topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(mqttDisconnectWait)
	}
	p.state.Set(StateDisconnected)
	return nil
}
