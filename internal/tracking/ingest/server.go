package ingest

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/gateway"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/registry"
)

// Server accepts sample-only streams from fleet GPS units. Each stream is
// registered as a driver connection, so the usual publisher checks and the
// disconnect grace window apply; ride start and end stay on the websocket
// control surface and can never happen from here.
type Server struct {
	gw     *gateway.Gateway
	reg    *registry.Registry
	logger *zap.Logger
}

// NewServer constructs the ingest server.
func NewServer(gw *gateway.Gateway, reg *registry.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{gw: gw, reg: reg, logger: logger}
}

// StreamLocation feeds stream messages into the gateway until the unit
// closes the stream or the connection dies.
func (s *Server) StreamLocation(stream Ingest_StreamLocationServer) error {
	conn := s.reg.Register(domain.PartyDriver, nil)
	defer s.reg.Unregister(conn.ID)
	s.logger.Info("ingest stream opened", zap.String("conn_id", conn.ID.String()))

	ctx := stream.Context()
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		if msg.RouteId == "" || msg.DriverId == "" {
			continue
		}
		sample := domain.LocationSample{
			RouteID:   msg.RouteId,
			DriverID:  msg.DriverId,
			Latitude:  msg.Lat,
			Longitude: msg.Lng,
		}
		if msg.Heading != 0 {
			sample.Heading = &msg.Heading
		}
		if msg.Speed != 0 {
			sample.Speed = &msg.Speed
		}
		if msg.Accuracy != 0 {
			sample.Accuracy = &msg.Accuracy
		}
		if msg.Ts > 0 {
			sample.CapturedAt = time.UnixMilli(msg.Ts).UTC()
		}
		// Fire and forget, same as the websocket path.
		_ = s.gw.OnUpdateLocation(ctx, conn.ID, sample)
	}
}
