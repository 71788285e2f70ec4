package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/udveo/mavlink-tracking-bridge/internal/mavlink"
	"github.com/udveo/mavlink-tracking-bridge/internal/sink"
	"github.com/udveo/mavlink-tracking-bridge/internal/tracking"
)

// scriptedSource plays back a fixed frame sequence and then ends the
// stream, standing in for a live MAVLink endpoint.
type scriptedSource struct {
	script []mavlink.Frame
	frames chan mavlink.Frame
}

func newScriptedSource(script ...mavlink.Frame) *scriptedSource {
	return &scriptedSource{script: script, frames: make(chan mavlink.Frame)}
}

func (s *scriptedSource) Frames() <-chan mavlink.Frame { return s.frames }

func (s *scriptedSource) Run(ctx context.Context) error {
	defer close(s.frames)

	for _, frame := range s.script {
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// recordingSink is an always-connected publisher double that records
// the payloads it receives.
type recordingSink struct {
	name string

	mu       sync.Mutex
	payloads [][]byte
}

func (r *recordingSink) Name() string            { return r.name }
func (r *recordingSink) State() sink.ConnState   { return sink.StateConnected }
func (r *recordingSink) Run(ctx context.Context) { <-ctx.Done() }
func (r *recordingSink) Close() error            { return nil }

func (r *recordingSink) Publish(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingSink) recorded() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.payloads...)
}

func utmFrame(systemID uint8, state mavlink.FlightState) mavlink.Frame {
	return mavlink.Frame{
		SystemID:    systemID,
		Latitude:    53.5,
		Longitude:   10.0,
		Altitude:    100,
		FlightState: state,
		Timestamp:   time.Now(),
	}
}

func TestBridge_EndToEnd(t *testing.T) {
	source := newScriptedSource(
		utmFrame(7, mavlink.FlightStateGround),
		utmFrame(7, mavlink.FlightStateAirborne),
		utmFrame(7, mavlink.FlightStateGround),
	)

	amqpSink := &recordingSink{name: "amqp"}
	mqttSink := &recordingSink{name: "mqtt"}
	manager := sink.NewManager([]sink.Publisher{amqpSink, mqttSink})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)

	bridge := NewBridge(source, tracking.NewTracker(), tracking.Builder{}, manager)
	if err := bridge.Run(ctx); err != nil {
		t.Fatalf("bridge run failed: %v", err)
	}

	// delivery is asynchronous; wait for both sinks to catch up
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(amqpSink.recorded()) == 3 && len(mqttSink.recorded()) == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	manager.Shutdown(time.Second)

	wantFlying := []bool{false, true, false}
	for _, s := range []*recordingSink{amqpSink, mqttSink} {
		payloads := s.recorded()
		if len(payloads) != 3 {
			t.Fatalf("sink %s: expected 3 messages, got %d", s.name, len(payloads))
		}

		for i, payload := range payloads {
			var decoded struct {
				UavID  string `json:"uavId"`
				Flying bool   `json:"isFlying"`
			}
			if err := json.Unmarshal(payload, &decoded); err != nil {
				t.Fatalf("sink %s: message %d is not valid JSON: %v", s.name, i, err)
			}
			if decoded.UavID != "7" {
				t.Errorf("sink %s: message %d: expected uavId '7', got '%s'", s.name, i, decoded.UavID)
			}
			if decoded.Flying != wantFlying[i] {
				t.Errorf("sink %s: message %d: expected isFlying=%v, got %v", s.name, i, wantFlying[i], decoded.Flying)
			}
		}
	}
}

// idleSource produces nothing until its context is cancelled.
type idleSource struct {
	frames chan mavlink.Frame
}

func (s *idleSource) Frames() <-chan mavlink.Frame { return s.frames }

func (s *idleSource) Run(ctx context.Context) error {
	<-ctx.Done()
	close(s.frames)
	return nil
}

func TestBridge_StopsOnContextCancel(t *testing.T) {
	// a silent telemetry link; the bridge must exit on cancellation
	source := &idleSource{frames: make(chan mavlink.Frame)}
	recorder := &recordingSink{name: "mqtt"}
	manager := sink.NewManager([]sink.Publisher{recorder})

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)

	done := make(chan error, 1)
	bridge := NewBridge(source, tracking.NewTracker(), tracking.Builder{}, manager)
	go func() {
		done <- bridge.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("bridge did not stop on context cancellation")
	}

	manager.Shutdown(time.Second)
}
