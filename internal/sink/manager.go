package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/udveo/mavlink-tracking-bridge/internal/observability"
	"github.com/udveo/mavlink-tracking-bridge/internal/tracking"
)

// Manager fans tracking updates out to every configured publisher. The
// fan-out is the concurrency boundary of the bridge: each publisher gets
// its own delivery goroutine fed through a small buffered queue, so a
// hung or unreachable broker never blocks ingestion or the other sinks.
// The only state crossing the boundary is the encoded payload.
type Manager struct {
	publishers []Publisher
	queues     []chan []byte

	timeout    time.Duration
	queueDepth int
	logger     *slog.Logger
	metrics    *observability.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager over the given publishers. Startup
// validation guarantees at least one broker section is configured, so a
// zero-publisher Manager is a defect and panics.
func NewManager(publishers []Publisher, opts ...Option) *Manager {
	if len(publishers) == 0 {
		panic("sink: Manager constructed with zero publishers")
	}

	o := defaultSinkOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		publishers: publishers,
		queues:     make([]chan []byte, len(publishers)),
		timeout:    o.timeout,
		queueDepth: o.queueDepth,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Start launches the connection loop and the delivery worker of every
// publisher. Connections are established eagerly from here on.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for i, pub := range m.publishers {
		queue := make(chan []byte, m.queueDepth)
		m.queues[i] = queue

		m.wg.Add(2)
		go func(pub Publisher) {
			defer m.wg.Done()
			pub.Run(ctx)
		}(pub)
		go m.deliver(ctx, pub, queue)
	}
}

// Publish encodes the update once and enqueues the payload for every
// sink. It never blocks: when a sink's queue is full, the oldest pending
// payload is discarded in its favor and the drop is counted.
func (m *Manager) Publish(update tracking.Update) {
	payload, err := update.Encode()
	if err != nil {
		// updates are plain values; this cannot fail on valid input
		m.logger.Error(fmt.Sprintf("encoding tracking update: %s", err.Error()))
		return
	}

	for i, pub := range m.publishers {
		select {
		case m.queues[i] <- payload:
			continue
		default:
		}

		select {
		case <-m.queues[i]:
			m.metrics.PublishDropped(pub.Name())
			m.logger.Debug("sink not keeping up, dropping oldest pending update",
				slog.String("sink", pub.Name()))
		default:
		}

		select {
		case m.queues[i] <- payload:
		default:
			m.metrics.PublishDropped(pub.Name())
		}
	}
}

// Shutdown stops all delivery workers and closes every publisher,
// waiting at most grace for in-flight deliveries to finish.
func (m *Manager) Shutdown(grace time.Duration) {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		m.logger.Warn("shutdown grace period exceeded, abandoning in-flight deliveries")
	}

	for _, pub := range m.publishers {
		if err := pub.Close(); err != nil {
			m.logger.Warn(fmt.Sprintf("closing sink: %s", err.Error()), slog.String("sink", pub.Name()))
		}
	}
}

func (m *Manager) deliver(ctx context.Context, pub Publisher, queue <-chan []byte) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case payload := <-queue:
			pubCtx, cancel := context.WithTimeout(ctx, m.timeout)
			err := pub.Publish(pubCtx, payload)
			cancel()

			if err != nil {
				m.metrics.PublishFailed(pub.Name())
				m.logger.Warn(fmt.Sprintf("delivery failed: %s", err.Error()),
					slog.String("sink", pub.Name()),
					slog.String("state", pub.State().String()))
				continue
			}

			m.metrics.Published(pub.Name())
		}
	}
}
