package tracking

import (
	"strconv"

	"github.com/udveo/mavlink-tracking-bridge/internal/mavlink"
)

// Builder turns a frame plus a state snapshot into an outbound Update.
// Building is a pure transformation: it never fails on a valid frame and
// touches no shared state.
type Builder struct {
	// AltitudeOffset is an additive correction in meters, compensating a
	// known calibration offset between the telemetry altitude reference
	// and the expected reporting datum.
	AltitudeOffset float64

	// UavIDPrefix is prepended to the system ID when forming the uavId,
	// e.g. "D2X-". Empty means the bare decimal system ID.
	UavIDPrefix string

	// FlightOperationID is a static operation identifier attached to
	// every update; empty omits the field from the payload.
	FlightOperationID string
}

// Build constructs the tracking update for one frame. The UAV identity
// is the MAVLink source system ID: the position message carries no
// persistent vehicle identifier of its own.
func (b Builder) Build(frame mavlink.Frame, state State) Update {
	return Update{
		UavID:             b.UavIDPrefix + strconv.Itoa(int(frame.SystemID)),
		FlightOperationID: b.FlightOperationID,
		Timestamp:         unixSeconds(frame.Timestamp),
		Coordinate: Coordinate{
			Type:        "Point",
			Coordinates: [2]float64{frame.Longitude, frame.Latitude},
		},
		Heading:        frame.Heading,
		AltitudeMeters: frame.Altitude + b.AltitudeOffset,
		Speed:          frame.GroundSpeed,
		Flying:         state.Flying,
	}
}
