package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/wire"
)

// Subscriber watches routes on behalf of a customer device. After a
// reconnect it re-issues every tracked subscription on its own, so
// server-side state is rebuilt without caller intervention.
type Subscriber struct {
	sock *socket

	mu     sync.Mutex
	routes map[string]string // route id -> customer id

	// OnLocation and OnStatus are invoked from the read goroutine for each
	// inbound broadcast. Set them before Run.
	OnLocation func(domain.LocationSample)
	OnStatus   func(domain.RideStatusEvent)
}

// NewSubscriber constructs the subscriber adapter.
func NewSubscriber(cfg Config) *Subscriber {
	s := &Subscriber{routes: make(map[string]string)}
	s.sock = newSocket(cfg)
	s.sock.onEvent = s.handleEvent
	s.sock.onConnected = s.resubscribe
	return s
}

// Run maintains the connection until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	return s.sock.Run(ctx)
}

// Status returns the last known connection state without blocking.
func (s *Subscriber) Status() Status {
	return s.sock.currentStatus()
}

// Routes lists the currently tracked route ids.
func (s *Subscriber) Routes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.routes))
	for id := range s.routes {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe starts watching a route. The result reports whether a ride is
// already active, with the last cached position when the gateway has one.
func (s *Subscriber) Subscribe(ctx context.Context, routeID, customerID string) (wire.SubscribeResult, error) {
	data, err := s.sock.call(ctx, wire.EventSubscribe, wire.SubscribePayload{
		RouteID: routeID, CustomerID: customerID,
	}, wire.EventSubscribeResult, routeID)
	if err != nil {
		return wire.SubscribeResult{}, err
	}
	var res wire.SubscribeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return wire.SubscribeResult{}, fmt.Errorf("decode subscribe result: %w", err)
	}
	if !res.Success {
		return res, fmt.Errorf("subscribe rejected: %s", res.Message)
	}
	s.mu.Lock()
	s.routes[routeID] = customerID
	s.mu.Unlock()
	return res, nil
}

// Unsubscribe stops watching a route; idempotent on the gateway side.
func (s *Subscriber) Unsubscribe(ctx context.Context, routeID string) error {
	s.mu.Lock()
	customerID := s.routes[routeID]
	delete(s.routes, routeID)
	s.mu.Unlock()
	data, err := s.sock.call(ctx, wire.EventUnsubscribe, wire.SubscribePayload{
		RouteID: routeID, CustomerID: customerID,
	}, wire.EventUnsubscribeResult, routeID)
	if err != nil {
		return err
	}
	return decodeResult("unsubscribe", data)
}

func (s *Subscriber) handleEvent(env wire.Envelope) {
	switch env.Event {
	case domain.EventLocationUpdated:
		if s.OnLocation == nil {
			return
		}
		var sample domain.LocationSample
		if err := json.Unmarshal(env.Data, &sample); err != nil {
			s.sock.cfg.Logger.Debug("bad location broadcast", zap.Error(err))
			return
		}
		s.OnLocation(sample)
	case domain.EventRideStarted, domain.EventRideEnded:
		if s.OnStatus == nil {
			return
		}
		var event domain.RideStatusEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			s.sock.cfg.Logger.Debug("bad status broadcast", zap.Error(err))
			return
		}
		s.OnStatus(event)
	}
}

// resubscribe rebuilds server-side interest after a reconnect.
func (s *Subscriber) resubscribe() {
	s.mu.Lock()
	routes := make(map[string]string, len(s.routes))
	for id, customer := range s.routes {
		routes[id] = customer
	}
	s.mu.Unlock()
	for routeID, customerID := range routes {
		if err := s.sock.send(wire.EventSubscribe, wire.SubscribePayload{RouteID: routeID, CustomerID: customerID}); err != nil {
			s.sock.cfg.Logger.Warn("resubscribe failed", zap.String("route_id", routeID), zap.Error(err))
		}
	}
}
