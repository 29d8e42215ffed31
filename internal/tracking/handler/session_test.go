package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/wire"
)

func TestSendShedsOldestFrameOnOverflow(t *testing.T) {
	s := newSession(nil, 2, zap.NewNop())

	s.Send("a", 1)
	s.Send("b", 2)
	s.Send("c", 3)

	require.Len(t, s.sendq, 2)
	first := <-s.sendq
	second := <-s.sendq
	require.Equal(t, wire.Frame{Event: "b", Data: 2}, first)
	require.Equal(t, wire.Frame{Event: "c", Data: 3}, second)
}

func TestSendNeverBlocksWithoutConsumer(t *testing.T) {
	s := newSession(nil, 1, zap.NewNop())
	for i := 0; i < 100; i++ {
		s.Send("tick", i)
	}
	frame := <-s.sendq
	require.Equal(t, "tick", frame.Event)
	require.Equal(t, 99, frame.Data)
}
