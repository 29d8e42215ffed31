package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PartyKind identifies which side of the relay a connection belongs to.
type PartyKind string

const (
	PartyDriver   PartyKind = "DRIVER"
	PartyCustomer PartyKind = "CUSTOMER"
)

// RideState is the lifecycle of one route channel. ENDED is terminal for a
// single ride instance only; the same route id is reused for later trips.
type RideState string

const (
	StateNotStarted RideState = "NOT_STARTED"
	StateActive     RideState = "ACTIVE"
	StateEnded      RideState = "ENDED"
)

var ErrRouteAlreadyPublishing = errors.New("another live connection is publishing this route")
var ErrRideAlreadyActive = errors.New("ride already active on this route")
var ErrNotCurrentPublisher = errors.New("connection is not the current publisher")
var ErrUnknownRoute = errors.New("route has no channel")

var allowedTransitions = map[RideState][]RideState{
	StateNotStarted: {StateActive},
	StateActive:     {StateEnded},
	StateEnded:      {StateActive},
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s RideState) CanTransitionTo(next RideState) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// LocationSample is one position report from the publishing driver. It is
// forwarded transiently and never persisted by the relay.
type LocationSample struct {
	RouteID    string    `json:"routeId"`
	DriverID   string    `json:"driverId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"timestamp"`
}

// RideStatus marks a lifecycle transition visible to subscribers.
type RideStatus string

const (
	StatusStarted RideStatus = "STARTED"
	StatusEnded   RideStatus = "ENDED"
)

// RideStatusEvent is broadcast to current subscribers at the moment of a
// start or end transition.
type RideStatusEvent struct {
	RouteID   string     `json:"routeId"`
	DriverID  string     `json:"driverId"`
	Status    RideStatus `json:"status"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Message   string     `json:"message,omitempty"`
}

// Outbound event names on the subscriber wire.
const (
	EventLocationUpdated = "driverLocationUpdated"
	EventRideStarted     = "rideStarted"
	EventRideEnded       = "rideEnded"
)

// Sink delivers an outbound event to one connection. Implementations must
// not block: a slow subscriber is the sink's problem, never the caller's.
type Sink interface {
	Deliver(connID uuid.UUID, event string, payload any)
}

// EventPublisher emits lifecycle and location traffic to the surrounding
// product. Best effort; the relay keeps serving when publication fails.
type EventPublisher interface {
	PublishStatus(ctx context.Context, event RideStatusEvent) error
	PublishSample(ctx context.Context, sample LocationSample) error
}

// SnapshotStore keeps the most recent sample per route so a subscriber that
// joins mid-ride can render an initial position.
type SnapshotStore interface {
	Put(ctx context.Context, sample LocationSample) error
	Last(ctx context.Context, routeID string) (LocationSample, bool, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
