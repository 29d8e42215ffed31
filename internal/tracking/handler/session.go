package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/wire"
)

const (
	authTimeout    = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
)

// session wraps one websocket connection with a bounded outbound queue. It
// is the registry.Sender for its connection: Send never blocks, and when the
// queue is full the oldest queued frame is discarded, not the newest, since a
// position feed is superseded by its own next sample.
type session struct {
	conn   *websocket.Conn
	sendq  chan wire.Frame
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newSession(conn *websocket.Conn, queueSize int, logger *zap.Logger) *session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &session{
		conn:   conn,
		sendq:  make(chan wire.Frame, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send enqueues a frame, shedding the oldest entry on overflow. The queue is
// never closed, so Send stays safe after the peer is gone; frames just age
// out unseen.
func (s *session) Send(event string, payload any) {
	frame := wire.Frame{Event: event, Data: payload}
	for {
		select {
		case s.sendq <- frame:
			return
		default:
		}
		select {
		case <-s.sendq:
			droppedFramesTotal.Inc()
		default:
		}
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump drains the queue onto the wire and keeps the connection alive
// with pings. One writer goroutine per connection; gorilla allows a single
// concurrent writer.
func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.sendq:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
