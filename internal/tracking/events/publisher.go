package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

// Default subjects consumed by the rest of the product (notification
// records, trip history). The relay only ever publishes here.
const (
	DefaultStatusSubject   = "tracking.ride.status"
	DefaultLocationSubject = "tracking.location"
)

// NATSPublisher emits ride status events and sampled locations to NATS.
type NATSPublisher struct {
	conn            *nats.Conn
	statusSubject   string
	locationSubject string
}

// NewNATSPublisher builds a publisher over an established connection.
func NewNATSPublisher(conn *nats.Conn, statusSubject, locationSubject string) *NATSPublisher {
	if statusSubject == "" {
		statusSubject = DefaultStatusSubject
	}
	if locationSubject == "" {
		locationSubject = DefaultLocationSubject
	}
	return &NATSPublisher{conn: conn, statusSubject: statusSubject, locationSubject: locationSubject}
}

// PublishStatus satisfies domain.EventPublisher.
func (p *NATSPublisher) PublishStatus(ctx context.Context, event domain.RideStatusEvent) error {
	return p.publish(ctx, p.statusSubject, event, map[string][]string{
		"x-route-id":    {event.RouteID},
		"x-ride-status": {string(event.Status)},
	})
}

// PublishSample satisfies domain.EventPublisher.
func (p *NATSPublisher) PublishSample(ctx context.Context, sample domain.LocationSample) error {
	return p.publish(ctx, p.locationSubject, sample, map[string][]string{
		"x-route-id": {sample.RouteID},
	})
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, payload any, header nats.Header) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if traceID := traceIDFromContext(ctx); traceID != "" {
		header.Set("x-trace-id", traceID)
	}
	return p.conn.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: header})
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
