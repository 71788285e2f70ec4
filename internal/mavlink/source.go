// Package mavlink adapts a MAVLink telemetry endpoint into a stream of
// normalized position frames. Wire decoding, endpoint dialing and
// channel-level reconnection are delegated to gomavlib; this package only
// filters the event stream down to the global-position message family and
// converts units at the boundary.
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/udveo/mavlink-tracking-bridge/internal/observability"
)

const (
	// ownSystemID is the system ID the bridge itself uses on the link.
	ownSystemID = 255

	defaultSerialBaud = 57600
)

// ErrNoContact is returned when an actively dialed endpoint never
// produced a frame within the handshake deadline.
var ErrNoContact = errors.New("no MAVLink traffic received")

// WithLogger sets the logger for the source
func WithLogger(logger *slog.Logger) func(s *Source) {
	return func(s *Source) {
		s.logger = logger.With(slog.String("device", s.device))
	}
}

// WithMetrics sets the metrics collector for the source
func WithMetrics(metrics *observability.Metrics) func(s *Source) {
	return func(s *Source) {
		s.metrics = metrics
	}
}

// Source owns one MAVLink endpoint and produces decoded position frames
// on a channel until its context is cancelled. Transient link errors are
// handled inside gomavlib (client endpoints re-dial automatically), so
// the frame stream only ends on shutdown.
type Source struct {
	device  string
	dialOut bool
	node    *gomavlib.Node
	frames  chan Frame

	contact     chan struct{}
	contactOnce sync.Once

	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New parses the connection string, opens the MAVLink endpoint eagerly
// and returns a Source ready to Run. An unparseable connection string or
// an endpoint that cannot be opened (e.g. a missing serial device) is a
// startup failure, not a transient error.
func New(device string, options ...func(s *Source)) (*Source, error) {
	endpoint, err := ParseEndpoint(device)
	if err != nil {
		return nil, err
	}

	s := Source{
		device:  device,
		dialOut: strings.HasPrefix(device, "udpout:"),
		frames:  make(chan Frame),
		contact: make(chan struct{}),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		now:     time.Now,
	}

	for _, option := range options {
		option(&s)
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:       []gomavlib.EndpointConf{endpoint},
		Dialect:         common.Dialect,
		OutVersion:      gomavlib.V2,
		OutSystemID:     ownSystemID,
		HeartbeatPeriod: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening MAVLink endpoint %s: %w", device, err)
	}

	s.node = node
	return &s, nil
}

// ParseEndpoint translates a pymavlink-style connection string into a
// gomavlib endpoint configuration. Supported forms:
//
//	udpin:host:port   listen for UDP telemetry
//	udpout:host:port  actively send to a UDP peer
//	tcp:host:port     TCP client
//	tcpin:host:port   TCP server
//	serial:dev[:baud] serial device
//	/dev/...          serial device with the default baud rate
func ParseEndpoint(device string) (gomavlib.EndpointConf, error) {
	if strings.HasPrefix(device, "/") {
		return gomavlib.EndpointSerial{Device: device, Baud: defaultSerialBaud}, nil
	}

	scheme, rest, ok := strings.Cut(device, ":")
	if !ok {
		return nil, fmt.Errorf("invalid connection string '%s'", device)
	}

	switch scheme {
	case "udpin", "udp":
		return gomavlib.EndpointUDPServer{Address: rest}, nil

	case "udpout":
		return gomavlib.EndpointUDPClient{Address: rest}, nil

	case "tcp":
		return gomavlib.EndpointTCPClient{Address: rest}, nil

	case "tcpin":
		return gomavlib.EndpointTCPServer{Address: rest}, nil

	case "serial":
		dev, baudStr, hasBaud := strings.Cut(rest, ":")
		if dev == "" {
			return nil, fmt.Errorf("invalid serial connection string '%s'", device)
		}
		baud := defaultSerialBaud
		if hasBaud {
			var err error
			if baud, err = strconv.Atoi(baudStr); err != nil || baud <= 0 {
				return nil, fmt.Errorf("invalid baud rate in '%s'", device)
			}
		}
		return gomavlib.EndpointSerial{Device: dev, Baud: baud}, nil

	default:
		return nil, fmt.Errorf("unknown connection scheme '%s'", scheme)
	}
}

// Frames returns the channel of decoded position frames. The channel is
// closed when Run returns.
func (s *Source) Frames() <-chan Frame {
	return s.frames
}

// Run consumes the MAVLink event stream until ctx is cancelled or the
// node is closed. Malformed frames are logged and skipped; message types
// outside the global-position family are discarded.
func (s *Source) Run(ctx context.Context) error {
	defer close(s.frames)

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-s.node.Events():
			if !ok {
				return nil // node closed
			}
			s.handleEvent(ctx, evt)
		}
	}
}

func (s *Source) handleEvent(ctx context.Context, evt gomavlib.Event) {
	switch evt := evt.(type) {
	case *gomavlib.EventChannelOpen:
		s.logger.Info("MAVLink channel open", slog.String("channel", evt.Channel.String()))

	case *gomavlib.EventChannelClose:
		s.logger.Warn("MAVLink channel closed", slog.String("channel", evt.Channel.String()))

	case *gomavlib.EventParseError:
		s.metrics.FrameError()
		s.logger.Warn(fmt.Sprintf("skipping malformed frame: %s", evt.Error.Error()),
			slog.String("channel", evt.Channel.String()))

	case *gomavlib.EventFrame:
		s.markContact()

		switch msg := evt.Message().(type) {
		case *common.MessageUtmGlobalPosition:
			s.metrics.FrameReceived("UTM_GLOBAL_POSITION")
			s.emit(ctx, frameFromUTM(evt.SystemID(), msg, s.now()))

		case *common.MessageGlobalPositionInt:
			s.metrics.FrameReceived("GLOBAL_POSITION_INT")
			s.emit(ctx, frameFromGlobalPosition(evt.SystemID(), msg, s.now()))
		}
	}
}

func (s *Source) emit(ctx context.Context, frame Frame) {
	select {
	case s.frames <- frame:
	case <-ctx.Done():
	}
}

func (s *Source) markContact() {
	s.contactOnce.Do(func() { close(s.contact) })
}

// NeedsHandshake reports whether the endpoint actively dials out and
// should therefore confirm first contact before the bridge starts. The
// node emits heartbeats on its own; the peer answering is the handshake.
func (s *Source) NeedsHandshake() bool {
	return s.dialOut
}

// WaitFirstContact blocks until any frame has been received on the link,
// the timeout expires, or ctx is cancelled.
func (s *Source) WaitFirstContact(ctx context.Context, timeout time.Duration) error {
	select {
	case <-s.contact:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w within %s on %s", ErrNoContact, timeout, s.device)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the underlying MAVLink node down, which ends Run.
func (s *Source) Close() {
	s.node.Close()
}
