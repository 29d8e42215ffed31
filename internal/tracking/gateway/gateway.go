package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/registry"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/routes"
)

// Config carries the gateway tunables. Zero values fall back to defaults
// that suit a mobile fleet: a grace window long enough to absorb a network
// handoff and an eviction period that bounds memory without churn.
type Config struct {
	GraceWindow           time.Duration
	IdleEviction          time.Duration
	SweepInterval         time.Duration
	SamplePublishInterval time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 30 * time.Second
	}
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SamplePublishInterval <= 0 {
		cfg.SamplePublishInterval = time.Second
	}
	return cfg
}

// SubscribeResult is returned to the subscribing client so it can render
// correct initial state without waiting for the next live sample.
type SubscribeResult struct {
	Accepted   bool
	RideActive bool
	LastKnown  *domain.LocationSample
}

// Gateway is the coordination point of the relay: one method per inbound
// event. Per-route serialization lives in the route channels; the gateway
// adds the cross-cutting side effects (snapshots, event emission, metrics)
// and the background idle sweep.
type Gateway struct {
	reg       *registry.Registry
	table     *routes.Table
	snapshots domain.SnapshotStore
	events    domain.EventPublisher
	clock     domain.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
	cfg       Config
}

// New wires the gateway to its collaborators. snapshots and events may be
// nil; the relay then runs fully in-memory. The gateway installs itself as
// the registry's unregister hook.
func New(reg *registry.Registry, snapshots domain.SnapshotStore, events domain.EventPublisher, clock domain.Clock, logger *zap.Logger, cfg Config) *Gateway {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		reg:       reg,
		snapshots: snapshots,
		events:    events,
		clock:     clock,
		logger:    logger,
		tracer:    otel.Tracer("tracking.gateway"),
		cfg:       cfg.withDefaults(),
	}
	g.table = routes.NewTable(routes.Config{
		GraceWindow:   g.cfg.GraceWindow,
		Sink:          reg,
		Clock:         clock,
		IsLive:        reg.IsLive,
		Logger:        logger,
		OnImplicitEnd: g.implicitEnd,
	})
	reg.OnUnregister(g.OnDisconnect)
	return g
}

// OnSubscribe registers the subscriber and reports whether a ride is
// currently active, including the last known position when one is cached.
func (g *Gateway) OnSubscribe(ctx context.Context, routeID, customerID string, connID uuid.UUID) SubscribeResult {
	ctx, span := g.tracer.Start(ctx, "gateway.subscribe")
	defer span.End()

	ch := g.table.GetOrCreate(routeID)
	active := ch.AddSubscriber(connID, customerID)
	result := SubscribeResult{Accepted: true, RideActive: active}
	if active && g.snapshots != nil {
		if sample, ok, err := g.snapshots.Last(ctx, routeID); err != nil {
			g.logger.Warn("snapshot lookup failed", zap.String("route_id", routeID), zap.Error(err))
		} else if ok {
			result.LastKnown = &sample
		}
	}
	g.logger.Debug("subscriber added",
		zap.String("route_id", routeID),
		zap.String("customer_id", customerID),
		zap.Bool("ride_active", active))
	return result
}

// OnUnsubscribe removes the subscriber; idempotent.
func (g *Gateway) OnUnsubscribe(_ context.Context, routeID string, connID uuid.UUID) bool {
	ch, ok := g.table.Lookup(routeID)
	if !ok {
		return true
	}
	ch.RemoveSubscriber(connID)
	return true
}

// OnStartRide attempts to activate the route with connID as publisher. On
// success the STARTED event has been broadcast to current subscribers; the
// caller only relays the returned error (if any) to the driver.
func (g *Gateway) OnStartRide(ctx context.Context, routeID, driverID string, connID uuid.UUID, lat, lng float64) error {
	ctx, span := g.tracer.Start(ctx, "gateway.start_ride")
	defer span.End()

	ch := g.table.GetOrCreate(routeID)
	event, err := ch.StartRide(connID, driverID, lat, lng)
	if err != nil {
		ridesTotal.WithLabelValues("start_rejected").Inc()
		g.logger.Info("start ride rejected",
			zap.String("route_id", routeID),
			zap.String("driver_id", driverID),
			zap.Error(err))
		return err
	}
	if event == nil {
		// Absorbed duplicate or grace-window resume.
		return nil
	}
	ridesTotal.WithLabelValues("started").Inc()
	g.logger.Info("ride started",
		zap.String("route_id", routeID),
		zap.String("driver_id", driverID))
	g.storeSnapshot(ctx, domain.LocationSample{
		RouteID: routeID, DriverID: driverID,
		Latitude: lat, Longitude: lng,
		CapturedAt: event.Timestamp,
	})
	g.publishStatus(ctx, *event)
	return nil
}

// OnUpdateLocation verifies publisher identity and fans the sample out.
// Samples from a connection that lost the slot are dropped and logged, never
// surfaced; the submitting client's own reconnect cycle self-corrects.
func (g *Gateway) OnUpdateLocation(ctx context.Context, connID uuid.UUID, sample domain.LocationSample) error {
	ch, ok := g.table.Lookup(sample.RouteID)
	if !ok {
		// No channel means the ride is long gone; treat as already ended.
		samplesTotal.WithLabelValues("unknown_route").Inc()
		return domain.ErrUnknownRoute
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = g.clock.Now()
	}
	if err := ch.AcceptSample(connID, sample); err != nil {
		samplesTotal.WithLabelValues("rejected").Inc()
		g.logger.Debug("location sample dropped",
			zap.String("route_id", sample.RouteID),
			zap.String("conn_id", connID.String()),
			zap.Error(err))
		return err
	}
	samplesTotal.WithLabelValues("accepted").Inc()
	g.storeSnapshot(ctx, sample)
	g.publishSample(ctx, ch, sample)
	return nil
}

// OnEndRide performs ACTIVE -> ENDED. Ending an unknown or never-started
// route is an idempotent success with no broadcast.
func (g *Gateway) OnEndRide(ctx context.Context, routeID, driverID string, connID uuid.UUID, lat, lng *float64) error {
	ctx, span := g.tracer.Start(ctx, "gateway.end_ride")
	defer span.End()

	ch, ok := g.table.Lookup(routeID)
	if !ok {
		return nil
	}
	event, err := ch.EndRide(connID, driverID, lat, lng)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}
	ridesTotal.WithLabelValues("ended").Inc()
	g.logger.Info("ride ended",
		zap.String("route_id", routeID),
		zap.String("driver_id", driverID))
	g.publishStatus(ctx, *event)
	return nil
}

// OnDisconnect drops the connection from every channel. Publishers get the
// grace window before the ride is implicitly ended.
func (g *Gateway) OnDisconnect(connID uuid.UUID) {
	g.table.DropConnection(connID)
}

// RouteSnapshot exposes channel state for the admin surface.
func (g *Gateway) RouteSnapshot(routeID string) (routes.Snapshot, bool) {
	ch, ok := g.table.Lookup(routeID)
	if !ok {
		return routes.Snapshot{}, false
	}
	return ch.Snapshot(), true
}

// Run drives the idle-eviction sweep until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.table.Sweep(g.clock.Now(), g.cfg.IdleEviction)
		}
	}
}

// implicitEnd runs the usual end-of-ride side effects for rides ended by the
// grace timer rather than an explicit endRide.
func (g *Gateway) implicitEnd(event domain.RideStatusEvent) {
	ridesTotal.WithLabelValues("ended_implicit").Inc()
	g.publishStatus(context.Background(), event)
}

func (g *Gateway) storeSnapshot(ctx context.Context, sample domain.LocationSample) {
	if g.snapshots == nil {
		return
	}
	if err := g.snapshots.Put(ctx, sample); err != nil {
		g.logger.Warn("snapshot store failed", zap.String("route_id", sample.RouteID), zap.Error(err))
	}
}

func (g *Gateway) publishStatus(ctx context.Context, event domain.RideStatusEvent) {
	if g.events == nil {
		return
	}
	if err := g.events.PublishStatus(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("status publish failed", zap.String("route_id", event.RouteID), zap.Error(err))
	}
}

// publishSample forwards samples to the product bus at a bounded per-route
// rate; subscribers already get every sample over their own connections. The
// throttle state lives on the route channel, so the idle sweep reclaims it.
func (g *Gateway) publishSample(ctx context.Context, ch *routes.Channel, sample domain.LocationSample) {
	if g.events == nil {
		return
	}
	if !ch.AllowSamplePublish(g.cfg.SamplePublishInterval) {
		return
	}
	if err := g.events.PublishSample(ctx, sample); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("sample publish failed", zap.String("route_id", sample.RouteID), zap.Error(err))
	}
}
