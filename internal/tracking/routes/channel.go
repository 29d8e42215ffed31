package routes

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

// LivenessFunc reports whether a connection id is still live. The registry
// provides it; keeping it a function avoids a package cycle.
type LivenessFunc func(uuid.UUID) bool

// Subscriber is the metadata kept per subscribing connection.
type Subscriber struct {
	CustomerID   string
	SubscribedAt time.Time
}

// Snapshot is a point-in-time view of a channel for the admin surface.
type Snapshot struct {
	RouteID      string           `json:"routeId"`
	State        domain.RideState `json:"state"`
	DriverID     string           `json:"driverId,omitempty"`
	HasPublisher bool             `json:"hasPublisher"`
	Subscribers  int              `json:"subscribers"`
}

// Channel holds all mutable state for one route id: the subscriber set, the
// publisher slot and the ride lifecycle. Every operation takes the channel
// mutex, and outbound events are enqueued to subscriber sinks while the
// mutex is held, which is what guarantees per-subscriber ordering. Sinks
// never block, so holding the lock across the fan-out is cheap.
type Channel struct {
	routeID string

	mu           sync.Mutex
	state        domain.RideState
	publisher    uuid.UUID
	driverID     string
	subscribers  map[uuid.UUID]Subscriber
	lastActivity time.Time
	lastPublish  time.Time

	graceTimer *time.Timer
	graceGen   uint64

	cfg Config
}

func newChannel(routeID string, cfg Config) *Channel {
	return &Channel{
		routeID:      routeID,
		state:        domain.StateNotStarted,
		subscribers:  make(map[uuid.UUID]Subscriber),
		lastActivity: cfg.Clock.Now(),
		cfg:          cfg,
	}
}

// AddSubscriber registers a subscriber connection. Adding an already-present
// subscriber is a no-op. Returns whether a ride is currently active so the
// caller can seed initial UI state.
func (c *Channel) AddSubscriber(connID uuid.UUID, customerID string) (rideActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if _, ok := c.subscribers[connID]; !ok {
		c.subscribers[connID] = Subscriber{CustomerID: customerID, SubscribedAt: c.cfg.Clock.Now()}
		subscribersGauge.Inc()
	}
	return c.state == domain.StateActive
}

// RemoveSubscriber drops the subscriber; removing an absent one is a no-op.
func (c *Channel) RemoveSubscriber(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if _, ok := c.subscribers[connID]; !ok {
		return false
	}
	delete(c.subscribers, connID)
	subscribersGauge.Dec()
	return true
}

// StartRide attempts the NOT_STARTED/ENDED -> ACTIVE transition with connID
// taking the publisher slot. On success the returned event has already been
// broadcast to current subscribers. A nil event with nil error means the
// start was absorbed (same connection or grace-window resume) and nothing
// was broadcast.
func (c *Channel) StartRide(connID uuid.UUID, driverID string, lat, lng float64) (*domain.RideStatusEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if c.state == domain.StateActive {
		switch {
		case c.publisher == connID:
			// Duplicate start from the publisher itself: idempotent ack.
			return nil, nil
		case c.cfg.IsLive(c.publisher):
			return nil, domain.ErrRouteAlreadyPublishing
		case driverID == c.driverID:
			// Same driver back on a fresh connection inside the grace
			// window: the ride continues uninterrupted.
			c.adoptPublisher(connID)
			return nil, nil
		default:
			// Stale takeover: the prior publisher is gone for good and a
			// different driver claims the route.
			c.cfg.Logger.Warn("publisher slot taken over",
				zap.String("route_id", c.routeID),
				zap.String("old_driver", c.driverID),
				zap.String("new_driver", driverID))
			c.adoptPublisher(connID)
			c.driverID = driverID
			event := c.statusEventLocked(domain.StatusStarted, &lat, &lng, "")
			c.broadcastLocked(domain.EventRideStarted, event)
			return &event, nil
		}
	}

	if !c.state.CanTransitionTo(domain.StateActive) {
		return nil, domain.ErrRideAlreadyActive
	}
	c.state = domain.StateActive
	c.adoptPublisher(connID)
	c.driverID = driverID
	event := c.statusEventLocked(domain.StatusStarted, &lat, &lng, "")
	c.broadcastLocked(domain.EventRideStarted, event)
	return &event, nil
}

// AcceptSample verifies publisher identity and fans the sample out. A sample
// from the same driver on a new connection while the old publisher is dead
// re-adopts the connection and cancels the grace timer.
func (c *Channel) AcceptSample(connID uuid.UUID, sample domain.LocationSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if c.state != domain.StateActive {
		return domain.ErrNotCurrentPublisher
	}
	if c.publisher != connID {
		if c.cfg.IsLive(c.publisher) || sample.DriverID != c.driverID {
			return domain.ErrNotCurrentPublisher
		}
		c.adoptPublisher(connID)
	}
	c.broadcastLocked(domain.EventLocationUpdated, sample)
	return nil
}

// EndRide performs ACTIVE -> ENDED, clears the publisher slot and broadcasts
// the ENDED event. Ending a ride that is not active is an idempotent no-op
// returning success with no broadcast.
func (c *Channel) EndRide(connID uuid.UUID, driverID string, lat, lng *float64) (*domain.RideStatusEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if c.state != domain.StateActive {
		return nil, nil
	}
	if c.publisher != connID {
		// Only the publisher may end the ride, except a reconnected driver
		// whose old connection died inside the grace window.
		if c.cfg.IsLive(c.publisher) || driverID != c.driverID {
			c.cfg.Logger.Debug("end ride ignored, not current publisher",
				zap.String("route_id", c.routeID),
				zap.String("conn_id", connID.String()))
			return nil, nil
		}
	}
	event := c.endLocked(lat, lng, "")
	return &event, nil
}

// DropConnection removes the connection from the subscriber set and, if it
// held the publisher slot on an active ride, arms the grace timer instead of
// ending the ride immediately. Returns true when the grace timer was armed.
func (c *Channel) DropConnection(connID uuid.UUID) (graceArmed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[connID]; ok {
		delete(c.subscribers, connID)
		subscribersGauge.Dec()
		c.touch()
	}
	if c.publisher != connID {
		return false
	}
	if c.state != domain.StateActive {
		c.publisher = uuid.Nil
		return false
	}
	if c.cfg.GraceWindow <= 0 {
		event := c.endLocked(nil, nil, "driver connection lost")
		c.notifyImplicitEnd(event)
		return false
	}
	c.armGraceLocked()
	return true
}

// AllowSamplePublish implements the per-route product-bus throttle: it
// reports whether at least interval has passed since the last allowed
// publish, recording the new timestamp when it has. The state lives on the
// channel so it is evicted together with it.
func (c *Channel) AllowSamplePublish(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.cfg.Clock.Now()
	if !c.lastPublish.IsZero() && now.Sub(c.lastPublish) < interval {
		return false
	}
	c.lastPublish = now
	return true
}

// Subscribers returns a snapshot of subscriber connection ids.
func (c *Channel) Subscribers() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	return ids
}

// State returns the current lifecycle state.
func (c *Channel) State() domain.RideState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the admin view of the channel.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RouteID:      c.routeID,
		State:        c.state,
		DriverID:     c.driverID,
		HasPublisher: c.publisher != uuid.Nil,
		Subscribers:  len(c.subscribers),
	}
}

// idle reports whether the channel has been inactive, ride-less and
// subscriber-less for at least period.
func (c *Channel) idle(now time.Time, period time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != domain.StateActive &&
		len(c.subscribers) == 0 &&
		now.Sub(c.lastActivity) >= period
}

// stop cancels any pending grace timer; called on eviction.
func (c *Channel) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelGraceLocked()
}

func (c *Channel) touch() {
	c.lastActivity = c.cfg.Clock.Now()
}

func (c *Channel) adoptPublisher(connID uuid.UUID) {
	c.publisher = connID
	c.cancelGraceLocked()
}

func (c *Channel) armGraceLocked() {
	c.cancelGraceLocked()
	gen := c.graceGen
	c.graceTimer = time.AfterFunc(c.cfg.GraceWindow, func() { c.expireGrace(gen) })
}

func (c *Channel) cancelGraceLocked() {
	c.graceGen++
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

// expireGrace fires from the grace timer. The generation check discards
// timers that were superseded by a resume or an explicit end.
func (c *Channel) expireGrace(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.graceGen || c.state != domain.StateActive {
		return
	}
	graceExpirationsTotal.Inc()
	c.cfg.Logger.Info("grace window elapsed, ending ride",
		zap.String("route_id", c.routeID),
		zap.String("driver_id", c.driverID))
	event := c.endLocked(nil, nil, "driver connection lost")
	c.notifyImplicitEnd(event)
}

func (c *Channel) endLocked(lat, lng *float64, message string) domain.RideStatusEvent {
	c.state = domain.StateEnded
	c.publisher = uuid.Nil
	c.cancelGraceLocked()
	c.touch()
	event := c.statusEventLocked(domain.StatusEnded, lat, lng, message)
	c.broadcastLocked(domain.EventRideEnded, event)
	return event
}

func (c *Channel) statusEventLocked(status domain.RideStatus, lat, lng *float64, message string) domain.RideStatusEvent {
	return domain.RideStatusEvent{
		RouteID:   c.routeID,
		DriverID:  c.driverID,
		Status:    status,
		Latitude:  lat,
		Longitude: lng,
		Timestamp: c.cfg.Clock.Now(),
		Message:   message,
	}
}

func (c *Channel) broadcastLocked(event string, payload any) {
	for connID := range c.subscribers {
		c.cfg.Sink.Deliver(connID, event, payload)
	}
	broadcastsTotal.WithLabelValues(event).Add(float64(len(c.subscribers)))
}

func (c *Channel) notifyImplicitEnd(event domain.RideStatusEvent) {
	if c.cfg.OnImplicitEnd != nil {
		// Fired on the timer goroutine; the hook must not call back into
		// the channel.
		go c.cfg.OnImplicitEnd(event)
	}
}
