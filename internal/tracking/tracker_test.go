package tracking

import (
	"testing"
	"time"

	"github.com/udveo/mavlink-tracking-bridge/internal/mavlink"
)

func groundedFrame(systemID uint8) mavlink.Frame {
	return mavlink.Frame{
		SystemID:    systemID,
		FlightState: mavlink.FlightStateGround,
		Timestamp:   time.Now(),
	}
}

func airborneFrame(systemID uint8) mavlink.Frame {
	return mavlink.Frame{
		SystemID:    systemID,
		FlightState: mavlink.FlightStateAirborne,
		Timestamp:   time.Now(),
	}
}

func TestTracker_FlyingFromFlightState(t *testing.T) {
	tr := NewTracker()

	if state := tr.Update(groundedFrame(7)); state.Flying {
		t.Errorf("expected grounded state for ground flight state")
	}
	if state := tr.Update(airborneFrame(7)); !state.Flying {
		t.Errorf("expected flying state for airborne flight state")
	}
	if state := tr.Update(groundedFrame(7)); state.Flying {
		t.Errorf("expected grounded state after landing")
	}

	if tr.Len() != 1 {
		t.Errorf("expected 1 tracked system, got %d", tr.Len())
	}
}

func TestTracker_SeparateSystems(t *testing.T) {
	tr := NewTracker()

	tr.Update(airborneFrame(1))
	state := tr.Update(groundedFrame(2))

	if state.Flying {
		t.Errorf("system 2 must not inherit system 1 state")
	}
	if tr.Len() != 2 {
		t.Errorf("expected 2 tracked systems, got %d", tr.Len())
	}
}

func TestTracker_FlyingOverride(t *testing.T) {
	tr := NewTracker(WithFlyingOverride())

	// once flying is reported it must never revert, regardless of what
	// the raw frames say
	frames := []mavlink.Frame{groundedFrame(7), airborneFrame(7), groundedFrame(7)}
	for i, frame := range frames {
		if state := tr.Update(frame); !state.Flying {
			t.Errorf("frame %d: override must force flying state", i)
		}
	}
}

func TestTracker_HeuristicWithoutFlightState(t *testing.T) {
	tests := []struct {
		name   string
		frame  mavlink.Frame
		flying bool
	}{
		{"parked", mavlink.Frame{SystemID: 1}, false},
		{"slow taxi", mavlink.Frame{SystemID: 1, GroundSpeed: 0.3}, false},
		{"high altitude", mavlink.Frame{SystemID: 1, RelativeAltitude: 25}, true},
		{"fast", mavlink.Frame{SystemID: 1, GroundSpeed: 4.2}, true},
		{"flight state wins over speed", mavlink.Frame{SystemID: 1, GroundSpeed: 4.2, FlightState: mavlink.FlightStateGround}, false},
		{"emergency counts as flying", mavlink.Frame{SystemID: 1, FlightState: mavlink.FlightStateEmergency}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			if state := tr.Update(tt.frame); state.Flying != tt.flying {
				t.Errorf("expected flying=%v, got %v", tt.flying, state.Flying)
			}
		})
	}
}

func TestTracker_CustomPolicy(t *testing.T) {
	always := FlightPolicyFunc(func(mavlink.Frame) bool { return true })
	tr := NewTracker(WithPolicy(always))

	if state := tr.Update(groundedFrame(3)); !state.Flying {
		t.Errorf("custom policy not applied")
	}
}

func TestTracker_OutOfOrderTimestamps(t *testing.T) {
	tr := NewTracker()

	base := time.Now()
	clock := base
	tr.now = func() time.Time { return clock }

	early := groundedFrame(7)
	early.Timestamp = base.Add(-time.Hour)
	late := groundedFrame(7)
	late.Timestamp = base

	tr.Update(late)
	clock = base.Add(time.Second)
	state := tr.Update(early) // reordered frame must not crash or rewind

	// LastSeen reflects call order, not frame timestamps
	if !state.LastSeen.Equal(base.Add(time.Second)) {
		t.Errorf("expected LastSeen %v, got %v", base.Add(time.Second), state.LastSeen)
	}
}

func TestTracker_Eviction(t *testing.T) {
	tr := NewTracker(WithEviction(time.Minute))

	base := time.Now()
	clock := base
	tr.now = func() time.Time { return clock }

	tr.Update(groundedFrame(1))
	clock = base.Add(30 * time.Second)
	tr.Update(groundedFrame(2))

	clock = base.Add(90 * time.Second)
	tr.Update(groundedFrame(3))

	if tr.Len() != 2 {
		t.Errorf("expected system 1 evicted, got %d tracked systems", tr.Len())
	}
	if _, ok := tr.states[1]; ok {
		t.Errorf("system 1 should have been evicted")
	}
}

func TestTracker_NoEvictionByDefault(t *testing.T) {
	tr := NewTracker()

	clock := time.Now()
	tr.now = func() time.Time { return clock }

	tr.Update(groundedFrame(1))
	clock = clock.Add(24 * time.Hour)
	tr.Update(groundedFrame(2))

	if tr.Len() != 2 {
		t.Errorf("expected no eviction by default, got %d tracked systems", tr.Len())
	}
}
