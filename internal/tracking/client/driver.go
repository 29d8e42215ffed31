package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/wire"
)

// Driver publishes a ride for one route. It reconnects on its own but never
// resumes a ride silently: after a reconnect the driver application decides
// whether to call StartRide again, since an automatic resume could mask a
// real stop.
type Driver struct {
	sock *socket
}

// NewDriver constructs the driver adapter.
func NewDriver(cfg Config) *Driver {
	return &Driver{sock: newSocket(cfg)}
}

// Run maintains the connection until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	return d.sock.Run(ctx)
}

// Status returns the last known connection state without blocking.
func (d *Driver) Status() Status {
	return d.sock.currentStatus()
}

// StartRide claims the publisher slot for the route and reports the
// gateway's verdict.
func (d *Driver) StartRide(ctx context.Context, routeID, driverID string, lat, lng float64) error {
	data, err := d.sock.call(ctx, wire.EventStartRide, wire.StartRidePayload{
		DriverID: driverID, RouteID: routeID, Latitude: lat, Longitude: lng,
	}, wire.EventStartRideResult, routeID)
	if err != nil {
		return err
	}
	return decodeResult("start ride", data)
}

// UpdateLocation sends one sample, fire and forget.
func (d *Driver) UpdateLocation(sample domain.LocationSample) error {
	return d.sock.send(wire.EventUpdateLoc, wire.UpdateLocationPayload{
		DriverID:  sample.DriverID,
		RouteID:   sample.RouteID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Heading:   sample.Heading,
		Speed:     sample.Speed,
		Accuracy:  sample.Accuracy,
	})
}

// EndRide ends the active ride. Ending a ride that never started is a
// success on the gateway side, so this only fails on transport problems.
func (d *Driver) EndRide(ctx context.Context, routeID, driverID string, lat, lng *float64) error {
	data, err := d.sock.call(ctx, wire.EventEndRide, wire.EndRidePayload{
		DriverID: driverID, RouteID: routeID, Latitude: lat, Longitude: lng,
	}, wire.EventEndRideResult, routeID)
	if err != nil {
		return err
	}
	return decodeResult("end ride", data)
}

func decodeResult(op string, data json.RawMessage) error {
	var res wire.ResultPayload
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if !res.Success {
		return fmt.Errorf("%s rejected: %s", op, res.Message)
	}
	return nil
}
