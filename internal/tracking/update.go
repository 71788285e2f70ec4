package tracking

import (
	"encoding/json"
	"time"
)

// Coordinate is a GeoJSON point. Per GeoJSON the coordinate order is
// longitude first, then latitude.
type Coordinate struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Update is one outbound tracking record. The field names form the wire
// contract toward the tracking backend and are identical on every sink;
// an Update is immutable once built.
type Update struct {
	UavID             string     `json:"uavId"`
	FlightOperationID string     `json:"flightOperationId,omitempty"`
	Timestamp         float64    `json:"timeStamp"` // seconds unix time
	Coordinate        Coordinate `json:"coordinate"`
	Heading           float64    `json:"heading"` // degrees
	AltitudeMeters    float64    `json:"altitudeInMeters"`
	Speed             float64    `json:"speedInMetersPerSecond"`
	Flying            bool       `json:"isFlying"`
}

// Encode serializes the update into its JSON wire payload.
func (u *Update) Encode() ([]byte, error) {
	return json.Marshal(u)
}

// unixSeconds converts a time to float seconds since the unix epoch,
// with microsecond resolution.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
