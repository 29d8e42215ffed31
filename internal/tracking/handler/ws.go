package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/auth"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/gateway"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/registry"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/wire"
)

var (
	wsConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracking_ws_connections",
		Help: "Open websocket connections by party kind.",
	}, []string{"kind"})

	droppedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_dropped_frames_total",
		Help: "Outbound frames shed because a subscriber queue overflowed.",
	})
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy belongs to the edge proxy; the relay itself accepts
	// any origin and relies on the auth frame.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WS terminates device websocket connections on the tracking namespace. It
// authenticates the first frame, registers the connection, then translates
// wire events into gateway calls.
type WS struct {
	gw        *gateway.Gateway
	reg       *registry.Registry
	secret    string
	queueSize int
	logger    *zap.Logger
}

// NewWS constructs the websocket handler.
func NewWS(gw *gateway.Gateway, reg *registry.Registry, secret string, queueSize int, logger *zap.Logger) *WS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WS{gw: gw, reg: reg, secret: secret, queueSize: queueSize, logger: logger}
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (h *WS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	identity, ok := h.authenticate(conn)
	if !ok {
		_ = conn.Close()
		return
	}

	sess := newSession(conn, h.queueSize, h.logger)
	reg := h.reg.Register(identity.Kind, sess)
	wsConnectionsGauge.WithLabelValues(string(identity.Kind)).Inc()
	sess.Send(wire.EventAuthAck, wire.AuthAck{ConnectionID: reg.ID.String(), Kind: string(identity.Kind)})
	h.logger.Info("device connected",
		zap.String("conn_id", reg.ID.String()),
		zap.String("kind", string(identity.Kind)),
		zap.String("subject", identity.Subject))

	go sess.writePump()
	h.readLoop(sess, reg.ID, identity)

	h.reg.Unregister(reg.ID)
	sess.close()
	wsConnectionsGauge.WithLabelValues(string(identity.Kind)).Dec()
	h.logger.Info("device disconnected", zap.String("conn_id", reg.ID.String()))
}

// authenticate reads the auth frame that every connection must send first.
func (h *WS) authenticate(conn *websocket.Conn) (auth.Identity, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil || env.Event != wire.EventAuth {
		_ = conn.WriteJSON(wire.Frame{Event: wire.EventError, Data: wire.ResultPayload{Message: "auth frame required"}})
		return auth.Identity{}, false
	}
	var payload wire.AuthPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		_ = conn.WriteJSON(wire.Frame{Event: wire.EventError, Data: wire.ResultPayload{Message: "malformed auth frame"}})
		return auth.Identity{}, false
	}
	identity, err := auth.Verify(h.secret, payload.Token)
	if err != nil {
		_ = conn.WriteJSON(wire.Frame{Event: wire.EventError, Data: wire.ResultPayload{Message: "invalid token"}})
		return auth.Identity{}, false
	}
	return identity, true
}

func (h *WS) readLoop(sess *session, connID uuid.UUID, identity auth.Identity) {
	conn := sess.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("conn_id", connID.String()), zap.Error(err))
			}
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			// Discard the frame, keep the connection.
			sess.Send(wire.EventError, wire.ResultPayload{Message: "malformed frame"})
			continue
		}
		h.dispatch(sess, connID, identity, env)
	}
}

func (h *WS) dispatch(sess *session, connID uuid.UUID, identity auth.Identity, env wire.Envelope) {
	ctx := context.Background()
	switch env.Event {
	case wire.EventStartRide:
		if identity.Kind != domain.PartyDriver {
			sess.Send(wire.EventStartRideResult, wire.ResultPayload{Success: false, Message: "drivers only"})
			return
		}
		var p wire.StartRidePayload
		if !decode(sess, env.Data, &p) {
			return
		}
		if err := h.gw.OnStartRide(ctx, p.RouteID, p.DriverID, connID, p.Latitude, p.Longitude); err != nil {
			sess.Send(wire.EventStartRideResult, wire.ResultPayload{RouteID: p.RouteID, Success: false, Message: err.Error()})
			return
		}
		sess.Send(wire.EventStartRideResult, wire.ResultPayload{RouteID: p.RouteID, Success: true})

	case wire.EventUpdateLoc:
		if identity.Kind != domain.PartyDriver {
			return
		}
		var p wire.UpdateLocationPayload
		if !decode(sess, env.Data, &p) {
			return
		}
		// Fire and forget: rejection is logged by the gateway, never
		// surfaced to the device.
		_ = h.gw.OnUpdateLocation(ctx, connID, domain.LocationSample{
			RouteID:   p.RouteID,
			DriverID:  p.DriverID,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Heading:   p.Heading,
			Speed:     p.Speed,
			Accuracy:  p.Accuracy,
		})

	case wire.EventEndRide:
		if identity.Kind != domain.PartyDriver {
			sess.Send(wire.EventEndRideResult, wire.ResultPayload{Success: false, Message: "drivers only"})
			return
		}
		var p wire.EndRidePayload
		if !decode(sess, env.Data, &p) {
			return
		}
		if err := h.gw.OnEndRide(ctx, p.RouteID, p.DriverID, connID, p.Latitude, p.Longitude); err != nil {
			sess.Send(wire.EventEndRideResult, wire.ResultPayload{RouteID: p.RouteID, Success: false, Message: err.Error()})
			return
		}
		sess.Send(wire.EventEndRideResult, wire.ResultPayload{RouteID: p.RouteID, Success: true})

	case wire.EventSubscribe:
		var p wire.SubscribePayload
		if !decode(sess, env.Data, &p) {
			return
		}
		res := h.gw.OnSubscribe(ctx, p.RouteID, p.CustomerID, connID)
		sess.Send(wire.EventSubscribeResult, wire.SubscribeResult{
			RouteID:      p.RouteID,
			Success:      res.Accepted,
			IsRideActive: res.RideActive,
			LastLocation: res.LastKnown,
		})

	case wire.EventUnsubscribe:
		var p wire.SubscribePayload
		if !decode(sess, env.Data, &p) {
			return
		}
		h.gw.OnUnsubscribe(ctx, p.RouteID, connID)
		sess.Send(wire.EventUnsubscribeResult, wire.ResultPayload{RouteID: p.RouteID, Success: true})

	default:
		sess.Send(wire.EventError, wire.ResultPayload{Message: "unknown event: " + env.Event})
	}
}

func decode(sess *session, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		sess.Send(wire.EventError, wire.ResultPayload{Message: "malformed payload"})
		return false
	}
	return true
}
