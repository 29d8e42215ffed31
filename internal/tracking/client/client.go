// Package client provides the thin device-side adapters: a driver publisher
// and a customer subscriber. Both keep one persistent socket, reconnect with
// exponential backoff, and expose a synchronous status accessor for UI use.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/wire"
)

// Config configures a device connection.
type Config struct {
	URL         string
	Token       string
	Backoff     time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
	Logger      *zap.Logger
	Dialer      *websocket.Dialer
}

func (cfg Config) withDefaults() Config {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return cfg
}

// Status is the last known connection state, readable without blocking.
type Status struct {
	Connected    bool
	ConnectionID string
	ConnectedAt  time.Time
}

var ErrNotConnected = errors.New("not connected")

// socket is the shared connection core under both adapters.
type socket struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	status   Status
	waiters  map[string]chan json.RawMessage
	attempts int

	// writeMu serializes wire writes; gorilla permits one concurrent
	// writer, and fire-and-forget sends race the request/response calls.
	writeMu sync.Mutex

	onEvent     func(wire.Envelope)
	onConnected func()
}

func newSocket(cfg Config) *socket {
	return &socket{cfg: cfg.withDefaults(), waiters: make(map[string]chan json.RawMessage)}
}

// Run maintains the connection until the context is cancelled: dial,
// authenticate, serve frames, back off, repeat.
func (s *socket) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		delay := s.nextBackoff()
		s.cfg.Logger.Debug("reconnecting", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *socket) runOnce(ctx context.Context) error {
	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ack, err := s.handshake(conn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.status = Status{Connected: true, ConnectionID: ack.ConnectionID, ConnectedAt: time.Now()}
	s.attempts = 0
	s.mu.Unlock()
	s.cfg.Logger.Info("connected", zap.String("conn_id", ack.ConnectionID))

	if s.onConnected != nil {
		s.onConnected()
	}

	err = s.readLoop(ctx, conn)

	s.mu.Lock()
	s.conn = nil
	s.status.Connected = false
	s.mu.Unlock()
	s.cfg.Logger.Warn("disconnected", zap.Error(err))
	return err
}

func (s *socket) handshake(conn *websocket.Conn) (wire.AuthAck, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.CallTimeout))
	if err := conn.WriteJSON(wire.Frame{Event: wire.EventAuth, Data: wire.AuthPayload{Token: s.cfg.Token}}); err != nil {
		return wire.AuthAck{}, fmt.Errorf("send auth: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.CallTimeout))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return wire.AuthAck{}, fmt.Errorf("read auth ack: %w", err)
	}
	if env.Event != wire.EventAuthAck {
		return wire.AuthAck{}, fmt.Errorf("authentication refused: %s", string(env.Data))
	}
	var ack wire.AuthAck
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		return wire.AuthAck{}, fmt.Errorf("decode auth ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return ack, nil
}

func (s *socket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if s.deliverToWaiter(env) {
			continue
		}
		if s.onEvent != nil {
			s.onEvent(env)
		}
	}
}

// send writes a frame without waiting for any response.
func (s *socket) send(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.CallTimeout))
	return conn.WriteJSON(wire.Frame{Event: event, Data: payload})
}

// call sends a frame and waits for the matching response event for the same
// route id. At most one call per event+route may be in flight; a second one
// errors immediately instead of stealing the first caller's response.
func (s *socket) call(ctx context.Context, event string, payload any, respEvent, routeID string) (json.RawMessage, error) {
	key := respEvent + "|" + routeID
	ch := make(chan json.RawMessage, 1)
	s.mu.Lock()
	if _, exists := s.waiters[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: request already in flight for route %s", event, routeID)
	}
	s.waiters[key] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, key)
		s.mu.Unlock()
	}()

	if err := s.send(event, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case data := <-ch:
		return data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: response timeout", event)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *socket) deliverToWaiter(env wire.Envelope) bool {
	var probe struct {
		RouteID string `json:"routeId"`
	}
	_ = json.Unmarshal(env.Data, &probe)
	key := env.Event + "|" + probe.RouteID
	s.mu.Lock()
	ch, ok := s.waiters[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env.Data:
	default:
	}
	return true
}

func (s *socket) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *socket) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := s.cfg.Backoff << s.attempts
	if delay > s.cfg.MaxBackoff || delay <= 0 {
		delay = s.cfg.MaxBackoff
	} else {
		s.attempts++
	}
	return delay
}
