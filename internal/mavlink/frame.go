package mavlink

import (
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// FlightState describes the airborne state reported by the autopilot,
// when it reports one at all.
type FlightState int

const (
	// FlightStateUnknown means the source message carries no usable
	// flight state and a detection heuristic has to decide.
	FlightStateUnknown FlightState = iota
	FlightStateGround
	FlightStateAirborne
	FlightStateEmergency
)

func (s FlightState) String() string {
	switch s {
	case FlightStateGround:
		return "ground"
	case FlightStateAirborne:
		return "airborne"
	case FlightStateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Frame is a single decoded position report, normalized to SI units at
// the protocol boundary. The MAVLink system ID doubles as the UAV
// identity: the position messages themselves carry no persistent vehicle
// identifier, so the transport-layer source system is the only stable
// handle available.
type Frame struct {
	SystemID uint8

	Latitude  float64 // degrees
	Longitude float64 // degrees

	// Altitude is the reported altitude in meters (MSL as emitted by the
	// source message). RelativeAltitude is meters above the home position
	// and is what the flight detection heuristic looks at.
	Altitude         float64
	RelativeAltitude float64

	Heading     float64 // degrees, 0..360, 0 when not derivable
	GroundSpeed float64 // m/s
	ClimbRate   float64 // m/s, positive up

	FlightState FlightState

	Timestamp time.Time
}

// frameFromUTM converts a UTM_GLOBAL_POSITION message. Heading is derived
// from the horizontal velocity components since the message has no heading
// field of its own.
func frameFromUTM(systemID uint8, msg *common.MessageUtmGlobalPosition, now time.Time) Frame {
	f := Frame{
		SystemID:         systemID,
		Latitude:         float64(msg.Lat) / 1e7,
		Longitude:        float64(msg.Lon) / 1e7,
		Altitude:         float64(msg.Alt) / 1000,
		RelativeAltitude: float64(msg.RelativeAlt) / 1000,
		GroundSpeed:      math.Hypot(float64(msg.Vx), float64(msg.Vy)) / 100,
		ClimbRate:        -float64(msg.Vz) / 100,
		Timestamp:        now,
	}

	if msg.Vx != 0 || msg.Vy != 0 {
		f.Heading = headingFromVelocity(float64(msg.Vx), float64(msg.Vy))
	}

	if msg.Time != 0 {
		f.Timestamp = time.UnixMicro(int64(msg.Time))
	}

	switch msg.FlightState {
	case common.UTM_FLIGHT_STATE_GROUND:
		f.FlightState = FlightStateGround
	case common.UTM_FLIGHT_STATE_AIRBORNE:
		f.FlightState = FlightStateAirborne
	case common.UTM_FLIGHT_STATE_EMERGENCY, common.UTM_FLIGHT_STATE_NOCTRL:
		f.FlightState = FlightStateEmergency
	default:
		f.FlightState = FlightStateUnknown
	}

	return f
}

// frameFromGlobalPosition converts a GLOBAL_POSITION_INT message. The
// message has no flight state, so the frame is left at
// FlightStateUnknown. Its timestamp is boot-relative and therefore
// useless as wall time; capture time is used instead.
func frameFromGlobalPosition(systemID uint8, msg *common.MessageGlobalPositionInt, now time.Time) Frame {
	f := Frame{
		SystemID:         systemID,
		Latitude:         float64(msg.Lat) / 1e7,
		Longitude:        float64(msg.Lon) / 1e7,
		Altitude:         float64(msg.Alt) / 1000,
		RelativeAltitude: float64(msg.RelativeAlt) / 1000,
		GroundSpeed:      math.Hypot(float64(msg.Vx), float64(msg.Vy)) / 100,
		ClimbRate:        -float64(msg.Vz) / 100,
		FlightState:      FlightStateUnknown,
		Timestamp:        now,
	}

	if msg.Hdg != math.MaxUint16 { // UINT16_MAX marks heading unknown
		f.Heading = float64(msg.Hdg) / 100
	} else if msg.Vx != 0 || msg.Vy != 0 {
		f.Heading = headingFromVelocity(float64(msg.Vx), float64(msg.Vy))
	}

	return f
}

// headingFromVelocity computes the course over ground in degrees from
// north/east velocity components, normalized to [0, 360).
func headingFromVelocity(vx, vy float64) float64 {
	heading := math.Atan2(vy, vx) / math.Pi * 180
	if heading < 0 {
		heading += 360
	}
	return heading
}
