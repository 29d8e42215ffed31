package routes

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

// Config carries the collaborators every channel shares.
type Config struct {
	GraceWindow time.Duration
	Sink        domain.Sink
	Clock       domain.Clock
	IsLive      LivenessFunc
	Logger      *zap.Logger
	// OnImplicitEnd is invoked when a grace timer (or an immediate drop)
	// ends a ride without an explicit endRide, so the gateway can run its
	// usual side effects for the generated ENDED event.
	OnImplicitEnd func(domain.RideStatusEvent)
}

func (cfg Config) withDefaults() Config {
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.IsLive == nil {
		cfg.IsLive = func(uuid.UUID) bool { return false }
	}
	return cfg
}

// Table maps route ids to their channels. Channels are created lazily on
// first subscribe or first ride start and removed only by the idle sweep.
// The table mutex guards the map alone; per-route state is serialized by
// each channel's own lock.
type Table struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	cfg      Config
}

// NewTable constructs an empty table.
func NewTable(cfg Config) *Table {
	return &Table{channels: make(map[string]*Channel), cfg: cfg.withDefaults()}
}

// GetOrCreate returns the channel for routeID, creating it if needed.
func (t *Table) GetOrCreate(routeID string) *Channel {
	t.mu.RLock()
	ch, ok := t.channels[routeID]
	t.mu.RUnlock()
	if ok {
		return ch
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok = t.channels[routeID]; ok {
		return ch
	}
	ch = newChannel(routeID, t.cfg)
	t.channels[routeID] = ch
	channelsGauge.Set(float64(len(t.channels)))
	return ch
}

// Lookup returns the channel without creating one.
func (t *Table) Lookup(routeID string) (*Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.channels[routeID]
	return ch, ok
}

// DropConnection removes the connection from every channel that references
// it, as subscriber or publisher.
func (t *Table) DropConnection(connID uuid.UUID) {
	t.mu.RLock()
	channels := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		channels = append(channels, ch)
	}
	t.mu.RUnlock()
	for _, ch := range channels {
		ch.DropConnection(connID)
	}
}

// Sweep evicts channels that have sat ENDED (or never started) with zero
// subscribers for at least idlePeriod. Returns how many were removed.
func (t *Table) Sweep(now time.Time, idlePeriod time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for routeID, ch := range t.channels {
		if ch.idle(now, idlePeriod) {
			ch.stop()
			delete(t.channels, routeID)
			removed++
		}
	}
	channelsGauge.Set(float64(len(t.channels)))
	if removed > 0 {
		t.cfg.Logger.Debug("idle channels evicted", zap.Int("count", removed))
	}
	return removed
}

// Len returns the number of live channels.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}
