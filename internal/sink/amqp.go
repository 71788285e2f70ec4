package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/udveo/mavlink-tracking-bridge/internal/observability"
)

const (
	amqpSinkName    = "amqp"
	defaultAMQPPort = 5671
)

// AMQPConfig configures the AMQP sink. All fields except the port and
// the TLS toggle are required.
type AMQPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`

	// InsecureSkipVerify disables broker certificate verification.
	// Meant for test brokers with self-signed certificates only.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

// Validate checks that all required AMQP keys are present. Every
// missing key is reported, in declaration order.
func (c *AMQPConfig) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"host", c.Host},
		{"username", c.Username},
		{"password", c.Password},
		{"queue", c.Queue},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}

	switch len(missing) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("key '%s' missing from AMQP config", missing[0])
	default:
		return fmt.Errorf("keys '%s' missing from AMQP config", strings.Join(missing, "', '"))
	}
}

func (c *AMQPConfig) uri() string {
	port := c.Port
	if port == 0 {
		port = defaultAMQPPort
	}

	u := amqp.URI{
		Scheme:   "amqps",
		Host:     c.Host,
		Port:     port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    "/",
	}
	return u.String()
}

// amqpWire is the live connection of an AMQPPublisher. It is an
// interface so the reconnect loop can be driven by a fault-injecting
// double in tests.
type amqpWire interface {
	Publish(ctx context.Context, queue string, payload []byte) error
	NotifyClose() <-chan *amqp.Error
	Close() error
}

type liveWire struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func dialAMQP(cfg AMQPConfig) (amqpWire, error) {
	conn, err := amqp.DialTLS(cfg.uri(), &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.Host, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	return &liveWire{conn: conn, ch: ch}, nil
}

func (w *liveWire) Publish(ctx context.Context, queue string, payload []byte) error {
	// default exchange, queue name as routing key
	return w.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
}

// NotifyClose surfaces connection-level and channel-level closure alike.
// A channel exception (e.g. a publish the broker refuses) closes only the
// channel and leaves the connection up, and must still trigger a
// reconnect.
func (w *liveWire) NotifyClose() <-chan *amqp.Error {
	return mergeClose(
		w.conn.NotifyClose(make(chan *amqp.Error, 1)),
		w.ch.NotifyClose(make(chan *amqp.Error, 1)),
	)
}

// mergeClose forwards the first close notification from either source.
// A graceful local close delivers nil, same as the underlying channels.
func mergeClose(conn, ch <-chan *amqp.Error) <-chan *amqp.Error {
	out := make(chan *amqp.Error, 1)
	go func() {
		select {
		case err := <-conn:
			out <- err
		case err := <-ch:
			out <- err
		}
	}()
	return out
}

func (w *liveWire) Close() error {
	return w.conn.Close()
}

// AMQPPublisher publishes tracking updates to a RabbitMQ queue via the
// default exchange. The connection is established eagerly when Run
// starts and re-established with capped exponential backoff whenever the
// broker closes it.
type AMQPPublisher struct {
	cfg  AMQPConfig
	dial func(cfg AMQPConfig) (amqpWire, error)

	mu   sync.Mutex
	wire amqpWire

	state   connState
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAMQP creates an AMQP publisher for the given broker configuration.
func NewAMQP(cfg AMQPConfig, opts ...Option) *AMQPPublisher {
	o := defaultSinkOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &AMQPPublisher{
		cfg:     cfg,
		dial:    dialAMQP,
		logger:  o.logger.With(slog.String("sink", amqpSinkName)),
		metrics: o.metrics,
	}
}

func (p *AMQPPublisher) Name() string {
	return amqpSinkName
}

func (p *AMQPPublisher) State() ConnState {
	return p.state.Get()
}

// Run owns the connection lifecycle until ctx is cancelled.
func (p *AMQPPublisher) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry forever

	var attempts int
	for {
		p.state.Set(StateConnecting)

		wire, err := p.dial(p.cfg)
		if err != nil {
			p.state.Set(StateDisconnected)
			p.metrics.Reconnect(amqpSinkName)
			attempts++

			wait := bo.NextBackOff()
			p.logger.Warn(fmt.Sprintf("AMQP connection failed: %s", err.Error()),
				slog.Int("attempt", attempts),
				slog.Duration("retryIn", wait))

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		p.setWire(wire)
		p.state.Set(StateConnected)
		bo.Reset()
		attempts = 0
		p.logger.Info("AMQP connected", slog.String("host", p.cfg.Host))

		select {
		case <-ctx.Done():
			p.closeWire()
			return

		case closeErr := <-wire.NotifyClose():
			p.state.Set(StateDisconnected)
			p.closeWire()
			if closeErr != nil {
				p.logger.Warn(fmt.Sprintf("AMQP connection lost: %s", closeErr.Error()))
			} else {
				p.logger.Warn("AMQP connection closed by broker")
			}
		}
	}
}

// Publish sends one payload. While not connected it is a counted no-op;
// the reconnect loop restores delivery on its own.
func (p *AMQPPublisher) Publish(ctx context.Context, payload []byte) error {
	if p.state.Get() != StateConnected {
		p.metrics.PublishDropped(amqpSinkName)
		p.logger.Debug("not connected, dropping update")
		return nil
	}

	p.mu.Lock()
	wire := p.wire
	p.mu.Unlock()
	if wire == nil {
		p.metrics.PublishDropped(amqpSinkName)
		return nil
	}

	if err := wire.Publish(ctx, p.cfg.Queue, payload); err != nil {
		return fmt.Errorf("publishing to queue '%s': %w", p.cfg.Queue, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.state.Set(StateDisconnected)
	return p.closeWire()
}

func (p *AMQPPublisher) setWire(wire amqpWire) {
	p.mu.Lock()
	p.wire = wire
	p.mu.Unlock()
}

func (p *AMQPPublisher) closeWire() error {
	p.mu.Lock()
	wire := p.wire
	p.wire = nil
	p.mu.Unlock()

	if wire == nil {
		return nil
	}
	return wire.Close()
}
