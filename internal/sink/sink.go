// Package sink delivers tracking updates to the configured message
// brokers. Each broker kind implements the same Publisher contract and
// owns one connection with an independent reconnect loop, so a failing
// or slow sink never affects the others or the telemetry pipeline.
package sink

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/udveo/mavlink-tracking-bridge/internal/observability"
)

// ConnState is the connection state of a publisher. Connected is the
// only state in which Publish attempts actual delivery; calls in any
// other state are counted no-ops.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// connState is an atomically updated ConnState, shared between a
// publisher's reconnect loop and its delivery path.
type connState struct {
	v atomic.Int32
}

func (c *connState) Set(s ConnState) {
	c.v.Store(int32(s))
}

func (c *connState) Get() ConnState {
	return ConnState(c.v.Load())
}

// Publisher is one broker destination for tracking updates. Run owns the
// connection lifecycle and must be running for Publish to deliver
// anything; Publish never blocks past the caller's context deadline and
// never reports a connectivity failure as anything but an error value.
type Publisher interface {
	Name() string
	State() ConnState
	Run(ctx context.Context)
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

const (
	defaultPublishTimeout = 5 * time.Second
	defaultQueueDepth     = 16
)

type options struct {
	logger     *slog.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	queueDepth int
}

func defaultSinkOptions() options {
	return options{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		timeout:    defaultPublishTimeout,
		queueDepth: defaultQueueDepth,
	}
}

// Option configures a Manager or a Publisher
type Option func(o *options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithPublishTimeout bounds a single delivery attempt
func WithPublishTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithQueueDepth sets the per-sink buffer of pending updates. When a sink
// falls behind, the oldest pending update is dropped so the freshest
// position wins.
func WithQueueDepth(depth int) Option {
	return func(o *options) {
		o.queueDepth = depth
	}
}
