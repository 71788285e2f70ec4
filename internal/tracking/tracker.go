// Package tracking derives per-vehicle state from MAVLink position frames
// and turns them into the tracking-update records published to the
// remote-identification backend.
package tracking

import (
	"io"
	"log/slog"
	"time"

	"github.com/udveo/mavlink-tracking-bridge/internal/mavlink"
)

// State is the tracked state of one MAVLink system ID. It is created on
// the first frame seen for that ID and mutated only by Tracker.Update;
// everything else receives value copies.
type State struct {
	SystemID uint8
	Flying   bool
	LastSeen time.Time
}

// WithPolicy sets the flight detection policy for the tracker
func WithPolicy(policy FlightPolicy) func(t *Tracker) {
	return func(t *Tracker) {
		t.policy = policy
	}
}

// WithFlyingOverride forces the flying flag to true on every update,
// regardless of what the detection policy computes. Some autopilots
// report spuriously grounded while airborne; this is the operator
// workaround for them.
func WithFlyingOverride() func(t *Tracker) {
	return func(t *Tracker) {
		t.flyingOverride = true
	}
}

// WithEviction drops state entries not updated for maxAge. Disabled by
// default: bridge processes are deployment-scoped and the entry count is
// bounded by the number of vehicles on the link.
func WithEviction(maxAge time.Duration) func(t *Tracker) {
	return func(t *Tracker) {
		t.maxAge = maxAge
	}
}

// WithLogger sets the logger for the tracker
func WithLogger(logger *slog.Logger) func(t *Tracker) {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// Tracker owns the per-system state map. It is not safe for concurrent
// use: frames are processed strictly in arrival order on a single
// pipeline, and the map must never be mutated from anywhere else.
type Tracker struct {
	states map[uint8]*State

	policy         FlightPolicy
	flyingOverride bool
	maxAge         time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker with the default threshold policy.
func NewTracker(options ...func(t *Tracker)) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	t := Tracker{
		states: make(map[uint8]*State),
		policy: NewThresholdPolicy(),
		logger: logger,
		now:    time.Now,
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

// Update looks up or creates the entry for the frame's system ID,
// recomputes the flying flag and returns a snapshot of the new state.
// LastSeen reflects call order, not frame timestamps: telemetry links can
// reorder, and an out-of-order frame must not move the clock backwards.
func (t *Tracker) Update(frame mavlink.Frame) State {
	now := t.now()

	state, ok := t.states[frame.SystemID]
	if !ok {
		state = &State{SystemID: frame.SystemID}
		t.states[frame.SystemID] = state
		t.logger.Info("tracking new system", slog.Int("systemId", int(frame.SystemID)))
	}

	state.Flying = t.policy.Airborne(frame)
	if t.flyingOverride {
		state.Flying = true
	}
	state.LastSeen = now

	if t.maxAge > 0 {
		t.evict(now)
	}

	return *state
}

// Len returns the number of tracked system IDs.
func (t *Tracker) Len() int {
	return len(t.states)
}

func (t *Tracker) evict(now time.Time) {
	for id, state := range t.states {
		if now.Sub(state.LastSeen) > t.maxAge {
			delete(t.states, id)
			t.logger.Info("evicting stale system", slog.Int("systemId", int(id)))
		}
	}
}
