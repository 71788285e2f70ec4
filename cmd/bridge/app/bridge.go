package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/udveo/mavlink-tracking-bridge/internal/mavlink"
	"github.com/udveo/mavlink-tracking-bridge/internal/observability"
	"github.com/udveo/mavlink-tracking-bridge/internal/tracking"
)

const defaultStatsInterval = time.Minute

// FrameSource produces decoded position frames until its context is
// cancelled. The frames channel closing marks end of stream.
type FrameSource interface {
	Frames() <-chan mavlink.Frame
	Run(ctx context.Context) error
}

// UpdateSink accepts built tracking updates for delivery.
type UpdateSink interface {
	Publish(update tracking.Update)
}

// WithLogger sets the logger for the bridge
func WithLogger(logger *slog.Logger) func(b *Bridge) {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics collector for the bridge
func WithMetrics(metrics *observability.Metrics) func(b *Bridge) {
	return func(b *Bridge) {
		b.metrics = metrics
	}
}

// WithStatsInterval sets how often the bridge logs its throughput stats
func WithStatsInterval(interval time.Duration) func(b *Bridge) {
	return func(b *Bridge) {
		b.statsInterval = interval
	}
}

// Bridge owns the run loop: frames are pulled from the source and pushed
// through the tracker and builder into the sink manager, strictly in
// arrival order. The tracker is only ever touched from this loop.
type Bridge struct {
	source  FrameSource
	tracker *tracking.Tracker
	builder tracking.Builder
	sinks   UpdateSink

	logger        *slog.Logger
	metrics       *observability.Metrics
	statsInterval time.Duration

	frames int64
}

// NewBridge wires the pipeline stages together.
func NewBridge(source FrameSource, tracker *tracking.Tracker, builder tracking.Builder, sinks UpdateSink, options ...func(b *Bridge)) *Bridge {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	b := Bridge{
		source:        source,
		tracker:       tracker,
		builder:       builder,
		sinks:         sinks,
		logger:        logger,
		statsInterval: defaultStatsInterval,
	}

	for _, option := range options {
		option(&b)
	}

	return &b
}

// Run processes frames until ctx is cancelled or the source ends.
func (b *Bridge) Run(ctx context.Context) error {
	sourceDone := make(chan error, 1)
	go func() {
		sourceDone <- b.source.Run(ctx)
	}()

	ticker := time.NewTicker(b.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stop requested, shutting down")
			return <-sourceDone

		case frame, ok := <-b.source.Frames():
			if !ok {
				if err := <-sourceDone; err != nil {
					return fmt.Errorf("telemetry source: %w", err)
				}
				return nil
			}
			b.process(frame)

		case <-ticker.C:
			b.logStats()
		}
	}
}

func (b *Bridge) process(frame mavlink.Frame) {
	state := b.tracker.Update(frame)
	update := b.builder.Build(frame, state)

	b.frames++
	b.metrics.SetTrackedSystems(b.tracker.Len())

	flyStr := "grounded"
	if update.Flying {
		flyStr = "flying"
	}
	b.logger.Debug(fmt.Sprintf("tracked '%s': %+9.4f N, %+9.4f E at %+6.2f m %s %4.2f m/s @ %3.0f deg",
		update.UavID,
		update.Coordinate.Coordinates[1],
		update.Coordinate.Coordinates[0],
		update.AltitudeMeters,
		flyStr,
		update.Speed,
		update.Heading))

	b.sinks.Publish(update)
}

func (b *Bridge) logStats() {
	b.logger.Info("bridge stats",
		slog.String("frames", humanize.Comma(b.frames)),
		slog.Int("trackedSystems", b.tracker.Len()))
}
