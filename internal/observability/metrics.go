package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus instruments exposed by the bridge.
// A nil *Metrics is valid and turns every recording method into a no-op,
// so components do not need to branch on whether metrics are enabled.
type Metrics struct {
	gatherer prometheus.Gatherer

	framesReceived  *prometheus.CounterVec
	frameErrors     prometheus.Counter
	trackedSystems  prometheus.Gauge
	publishes       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	publishDropped  *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
}

// NewMetrics registers the bridge instruments against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := Metrics{
		gatherer: gatherer,

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_frames_received_total",
			Help: "Total number of position telemetry frames received, labeled by message type.",
		}, []string{"message"}),

		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_frame_errors_total",
			Help: "Total number of telemetry frames that failed to decode and were skipped.",
		}),

		trackedSystems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_tracked_systems",
			Help: "Current number of MAVLink system IDs with tracking state.",
		}),

		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_publishes_total",
			Help: "Total number of tracking updates delivered, labeled by sink.",
		}, []string{"sink"}),

		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_publish_failures_total",
			Help: "Total number of failed delivery attempts, labeled by sink.",
		}, []string{"sink"}),

		publishDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_publish_dropped_total",
			Help: "Total number of tracking updates dropped because a sink was not keeping up or not connected, labeled by sink.",
		}, []string{"sink"}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_reconnects_total",
			Help: "Total number of broker reconnect attempts, labeled by sink.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.framesReceived,
		m.frameErrors,
		m.trackedSystems,
		m.publishes,
		m.publishFailures,
		m.publishDropped,
		m.reconnects,
	)

	return &m
}

func (m *Metrics) FrameReceived(message string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(message).Inc()
}

func (m *Metrics) FrameError() {
	if m == nil {
		return
	}
	m.frameErrors.Inc()
}

func (m *Metrics) SetTrackedSystems(n int) {
	if m == nil {
		return
	}
	m.trackedSystems.Set(float64(n))
}

func (m *Metrics) Published(sink string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(sink).Inc()
}

func (m *Metrics) PublishFailed(sink string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) PublishDropped(sink string) {
	if m == nil {
		return
	}
	m.publishDropped.WithLabelValues(sink).Inc()
}

func (m *Metrics) Reconnect(sink string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(sink).Inc()
}

// Handler returns an HTTP handler serving the metrics in the Prometheus
// text exposition format.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server on addr exposing /metrics and /healthz until
// ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", slog.String("addr", addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
