package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/udveo/mavlink-tracking-bridge/internal/mavlink"
	"github.com/udveo/mavlink-tracking-bridge/internal/observability"
	"github.com/udveo/mavlink-tracking-bridge/internal/sink"
	"github.com/udveo/mavlink-tracking-bridge/internal/tracking"
)

const (
	// contactTimeout bounds the heartbeat handshake on actively dialed
	// endpoints: if the peer never answers, startup fails.
	contactTimeout = 10 * time.Second

	shutdownGrace = 5 * time.Second
)

// Run wires the pipeline together and drives it until ctx is cancelled.
// Configuration must be validated before calling Run.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	logger.Info("starting MAVLink connection", slog.String("device", config.MAVLink.Device))
	source, err := mavlink.New(config.MAVLink.Device,
		mavlink.WithLogger(logger),
		mavlink.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to open telemetry source: %w", err)
	}
	defer source.Close()

	trackerOptions := []func(*tracking.Tracker){tracking.WithLogger(logger)}
	if config.SetFlyingWhenGrounded {
		logger.Warn("flying-state override enabled, all tracked systems report flying")
		trackerOptions = append(trackerOptions, tracking.WithFlyingOverride())
	}
	if config.TrackTTL > 0 {
		trackerOptions = append(trackerOptions, tracking.WithEviction(time.Duration(config.TrackTTL)))
	}
	tracker := tracking.NewTracker(trackerOptions...)

	builder := tracking.Builder{
		AltitudeOffset:    config.AltitudeOffsetMeters,
		UavIDPrefix:       config.UavIDPrefix,
		FlightOperationID: config.FlightOperationID,
	}

	sinkOptions := []sink.Option{sink.WithLogger(logger), sink.WithMetrics(metrics)}

	var publishers []sink.Publisher
	if config.AMQP != nil {
		logger.Info("starting AMQP connection", slog.String("host", config.AMQP.Host))
		publishers = append(publishers, sink.NewAMQP(*config.AMQP, sinkOptions...))
	}
	if config.MQTT != nil {
		logger.Info("starting MQTT connection",
			slog.String("host", config.MQTT.Host), slog.Int("port", config.MQTT.Port))
		publishers = append(publishers, sink.NewMQTT(*config.MQTT, sinkOptions...))
	}

	manager := sink.NewManager(publishers, sinkOptions...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := config.Settings.MetricsListen; addr != "" {
		go func() {
			if err := metrics.Serve(runCtx, addr, logger); err != nil {
				logger.Error(fmt.Sprintf("metrics server: %s", err.Error()))
			}
		}()
	}

	manager.Start(runCtx)
	defer manager.Shutdown(shutdownGrace)

	bridge := NewBridge(source, tracker, builder, manager,
		WithLogger(logger),
		WithMetrics(metrics))

	bridgeDone := make(chan error, 1)
	go func() {
		bridgeDone <- bridge.Run(runCtx)
	}()

	if source.NeedsHandshake() {
		logger.Info("waiting for first MAVLink contact")
		if err = source.WaitFirstContact(runCtx, contactTimeout); err != nil {
			cancel()
			source.Close()
			<-bridgeDone
			return err
		}
	}

	return <-bridgeDone
}
