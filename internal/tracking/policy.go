package tracking

import "github.com/udveo/mavlink-tracking-bridge/internal/mavlink"

const (
	// DefaultMinAltitude is the relative altitude in meters above which
	// a vehicle without explicit flight state is considered airborne.
	DefaultMinAltitude = 1.0

	// DefaultMinSpeed is the ground speed in m/s above which a vehicle
	// without explicit flight state is considered airborne.
	DefaultMinSpeed = 0.5
)

// FlightPolicy decides whether a frame describes an airborne vehicle.
// The detection heuristic differs between autopilots and message types,
// so it is kept behind an interface rather than baked into the tracker.
type FlightPolicy interface {
	Airborne(frame mavlink.Frame) bool
}

// FlightPolicyFunc adapts a plain function to a FlightPolicy.
type FlightPolicyFunc func(frame mavlink.Frame) bool

func (f FlightPolicyFunc) Airborne(frame mavlink.Frame) bool {
	return f(frame)
}

// ThresholdPolicy is the default detection policy. An explicit flight
// state from the autopilot wins; messages without one (or reporting
// unknown) fall back to relative-altitude and ground-speed thresholds.
type ThresholdPolicy struct {
	MinAltitude float64 // meters above home
	MinSpeed    float64 // m/s
}

// NewThresholdPolicy returns a ThresholdPolicy with the default thresholds.
func NewThresholdPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		MinAltitude: DefaultMinAltitude,
		MinSpeed:    DefaultMinSpeed,
	}
}

func (p ThresholdPolicy) Airborne(frame mavlink.Frame) bool {
	switch frame.FlightState {
	case mavlink.FlightStateGround:
		return false
	case mavlink.FlightStateAirborne, mavlink.FlightStateEmergency:
		return true
	}

	return frame.RelativeAltitude > p.MinAltitude || frame.GroundSpeed > p.MinSpeed
}
