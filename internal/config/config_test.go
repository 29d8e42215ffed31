package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRACK_JWT_SECRET", "secret")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "/ws/tracking", cfg.WSPath)
	require.Equal(t, 30*time.Second, cfg.GraceWindow)
	require.Equal(t, 10*time.Minute, cfg.IdleEviction)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 2*time.Minute, cfg.SnapshotTTL)
	require.Equal(t, 64, cfg.SendQueue)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRACK_JWT_SECRET", "secret")
	t.Setenv("TRACK_GRACE_WINDOW", "45s")
	t.Setenv("TRACK_SEND_QUEUE", "128")
	t.Setenv("TRACK_WS_PATH", "/sockets/track")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.GraceWindow)
	require.Equal(t, 128, cfg.SendQueue)
	require.Equal(t, "/sockets/track", cfg.WSPath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TRACK_JWT_SECRET", "")
	_, err := config.Load()
	require.Error(t, err)

	t.Setenv("TRACK_JWT_SECRET", "secret")
	t.Setenv("TRACK_GRACE_WINDOW", "soon")
	_, err = config.Load()
	require.Error(t, err)
}
