// Package wire defines the message contract spoken on the tracking socket.
// Both the server handler and the device adapters depend on it; nothing in
// here touches a network.
package wire

import (
	"encoding/json"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

// Envelope is the inbound frame shape: an event name plus raw payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is the outbound frame shape with an encodable payload.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client -> gateway event names.
const (
	EventAuth        = "auth"
	EventStartRide   = "startRide"
	EventUpdateLoc   = "updateLocation"
	EventEndRide     = "endRide"
	EventSubscribe   = "subscribeToRoute"
	EventUnsubscribe = "unsubscribeFromRoute"
)

// Gateway -> client event names.
const (
	EventAuthAck           = "authAck"
	EventStartRideResult   = "startRideResult"
	EventEndRideResult     = "endRideResult"
	EventSubscribeResult   = "subscribeResult"
	EventUnsubscribeResult = "unsubscribeResult"
	EventError             = "error"
)

type AuthPayload struct {
	Token string `json:"token"`
}

type AuthAck struct {
	ConnectionID string `json:"connectionId"`
	Kind         string `json:"kind"`
}

type StartRidePayload struct {
	DriverID  string  `json:"driverId"`
	RouteID   string  `json:"routeId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type UpdateLocationPayload struct {
	DriverID  string   `json:"driverId"`
	RouteID   string   `json:"routeId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

type EndRidePayload struct {
	DriverID  string   `json:"driverId"`
	RouteID   string   `json:"routeId"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type SubscribePayload struct {
	RouteID    string `json:"routeId"`
	CustomerID string `json:"customerId"`
}

// ResultPayload acknowledges a control event.
type ResultPayload struct {
	RouteID string `json:"routeId,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SubscribeResult additionally tells the subscriber whether a ride is live
// right now, with the last cached position when one exists.
type SubscribeResult struct {
	RouteID      string                 `json:"routeId"`
	Success      bool                   `json:"success"`
	IsRideActive bool                   `json:"isRideActive"`
	LastLocation *domain.LocationSample `json:"lastLocation,omitempty"`
	Message      string                 `json:"message,omitempty"`
}
