package routes_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/routes"
)

type delivery struct {
	ConnID  uuid.UUID
	Event   string
	Payload any
}

type recordSink struct {
	mu    sync.Mutex
	items []delivery
}

func (s *recordSink) Deliver(connID uuid.UUID, event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, delivery{ConnID: connID, Event: event, Payload: payload})
}

func (s *recordSink) events(connID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.items {
		if d.ConnID == connID {
			out = append(out, d.Event)
		}
	}
	return out
}

func (s *recordSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.items {
		if d.Event == event {
			n++
		}
	}
	return n
}

type liveSet struct {
	mu   sync.Mutex
	live map[uuid.UUID]bool
}

func newLiveSet(ids ...uuid.UUID) *liveSet {
	ls := &liveSet{live: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		ls.live[id] = true
	}
	return ls
}

func (ls *liveSet) set(id uuid.UUID, alive bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.live[id] = alive
}

func (ls *liveSet) isLive(id uuid.UUID) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.live[id]
}

type stubClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stubClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTable(sink domain.Sink, live *liveSet, grace time.Duration, clock domain.Clock) *routes.Table {
	return routes.NewTable(routes.Config{
		GraceWindow: grace,
		Sink:        sink,
		Clock:       clock,
		IsLive:      live.isLive,
	})
}

func TestSubscribeIsIdempotent(t *testing.T) {
	sink := &recordSink{}
	table := newTable(sink, newLiveSet(), time.Minute, nil)
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()

	require.False(t, ch.AddSubscriber(sub, "customer-1"))
	require.False(t, ch.AddSubscriber(sub, "customer-1"))
	require.Equal(t, 1, ch.Snapshot().Subscribers)
}

func TestStartRideBroadcastsAndReportsActive(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	table := newTable(sink, newLiveSet(driver), time.Minute, nil)
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()
	ch.AddSubscriber(sub, "customer-1")

	event, err := ch.StartRide(driver, "driver-1", 6.92, 79.86)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, domain.StatusStarted, event.Status)
	require.Equal(t, domain.StateActive, ch.State())
	require.Equal(t, []string{domain.EventRideStarted}, sink.events(sub))

	require.True(t, ch.AddSubscriber(uuid.New(), "customer-2"))
}

func TestDuplicateStartFromSameConnectionIsAbsorbed(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	table := newTable(sink, newLiveSet(driver), time.Minute, nil)
	ch := table.GetOrCreate("route-1")

	event, err := ch.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)
	require.NotNil(t, event)

	event, err = ch.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)
	require.Nil(t, event)
	require.Zero(t, sink.count(domain.EventRideStarted))
}

func TestSecondDriverRejectedWhilePublisherLive(t *testing.T) {
	sink := &recordSink{}
	first := uuid.New()
	second := uuid.New()
	table := newTable(sink, newLiveSet(first, second), time.Minute, nil)
	ch := table.GetOrCreate("route-1")

	_, err := ch.StartRide(first, "driver-1", 1, 2)
	require.NoError(t, err)

	_, err = ch.StartRide(second, "driver-2", 1, 2)
	require.ErrorIs(t, err, domain.ErrRouteAlreadyPublishing)

	err = ch.AcceptSample(second, domain.LocationSample{RouteID: "route-1", DriverID: "driver-2"})
	require.ErrorIs(t, err, domain.ErrNotCurrentPublisher)
}

func TestGraceResumeBySameDriverKeepsRideAlive(t *testing.T) {
	sink := &recordSink{}
	old := uuid.New()
	live := newLiveSet(old)
	table := newTable(sink, live, 50*time.Millisecond, nil)
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()
	ch.AddSubscriber(sub, "customer-1")

	_, err := ch.StartRide(old, "driver-1", 1, 2)
	require.NoError(t, err)

	live.set(old, false)
	require.True(t, ch.DropConnection(old))

	fresh := uuid.New()
	live.set(fresh, true)
	event, err := ch.StartRide(fresh, "driver-1", 1, 2)
	require.NoError(t, err)
	require.Nil(t, event)

	time.Sleep(150 * time.Millisecond)
	require.Zero(t, sink.count(domain.EventRideEnded))
	require.Equal(t, domain.StateActive, ch.State())

	require.NoError(t, ch.AcceptSample(fresh, domain.LocationSample{RouteID: "route-1", DriverID: "driver-1"}))
}

func TestResumeViaLocationSampleCancelsGrace(t *testing.T) {
	sink := &recordSink{}
	old := uuid.New()
	live := newLiveSet(old)
	table := newTable(sink, live, 50*time.Millisecond, nil)
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()
	ch.AddSubscriber(sub, "customer-1")

	_, err := ch.StartRide(old, "driver-1", 1, 2)
	require.NoError(t, err)

	live.set(old, false)
	ch.DropConnection(old)

	fresh := uuid.New()
	live.set(fresh, true)
	require.NoError(t, ch.AcceptSample(fresh, domain.LocationSample{RouteID: "route-1", DriverID: "driver-1"}))

	time.Sleep(150 * time.Millisecond)
	require.Zero(t, sink.count(domain.EventRideEnded))
	require.Equal(t, []string{domain.EventRideStarted, domain.EventLocationUpdated}, sink.events(sub))
}

func TestGraceExpiryEndsRideExactlyOnce(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	live := newLiveSet(driver)
	implicit := make(chan domain.RideStatusEvent, 2)
	table := routes.NewTable(routes.Config{
		GraceWindow:   20 * time.Millisecond,
		Sink:          sink,
		IsLive:        live.isLive,
		OnImplicitEnd: func(e domain.RideStatusEvent) { implicit <- e },
	})
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()
	ch.AddSubscriber(sub, "customer-1")

	_, err := ch.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)

	live.set(driver, false)
	require.True(t, ch.DropConnection(driver))

	select {
	case e := <-implicit:
		require.Equal(t, domain.StatusEnded, e.Status)
	case <-time.After(time.Second):
		t.Fatal("grace expiry never fired")
	}
	require.Equal(t, domain.StateEnded, ch.State())
	require.Equal(t, 1, sink.count(domain.EventRideEnded))

	// A second expiry must not fire.
	select {
	case <-implicit:
		t.Fatal("ride ended twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStaleTakeoverByDifferentDriver(t *testing.T) {
	sink := &recordSink{}
	old := uuid.New()
	live := newLiveSet(old)
	table := newTable(sink, live, time.Minute, nil)
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()
	ch.AddSubscriber(sub, "customer-1")

	_, err := ch.StartRide(old, "driver-1", 1, 2)
	require.NoError(t, err)

	live.set(old, false)
	taker := uuid.New()
	live.set(taker, true)
	event, err := ch.StartRide(taker, "driver-2", 3, 4)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, "driver-2", event.DriverID)
	require.Equal(t, 2, sink.count(domain.EventRideStarted))

	require.NoError(t, ch.AcceptSample(taker, domain.LocationSample{RouteID: "route-1", DriverID: "driver-2"}))
}

func TestEndRideIsIdempotentAndGuarded(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	other := uuid.New()
	live := newLiveSet(driver, other)
	table := newTable(sink, live, time.Minute, nil)
	ch := table.GetOrCreate("route-1")

	// Ending a ride that never started succeeds without a broadcast.
	event, err := ch.EndRide(driver, "driver-1", nil, nil)
	require.NoError(t, err)
	require.Nil(t, event)

	_, err = ch.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)

	// A different live connection cannot end it.
	event, err = ch.EndRide(other, "driver-2", nil, nil)
	require.NoError(t, err)
	require.Nil(t, event)
	require.Equal(t, domain.StateActive, ch.State())

	event, err = ch.EndRide(driver, "driver-1", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, domain.StatusEnded, event.Status)

	event, err = ch.EndRide(driver, "driver-1", nil, nil)
	require.NoError(t, err)
	require.Nil(t, event)
	require.Equal(t, 1, sink.count(domain.EventRideEnded))
}

func TestReconnectedDriverCanEndWhileOldConnectionDead(t *testing.T) {
	sink := &recordSink{}
	old := uuid.New()
	live := newLiveSet(old)
	table := newTable(sink, live, time.Minute, nil)
	ch := table.GetOrCreate("route-1")

	_, err := ch.StartRide(old, "driver-1", 1, 2)
	require.NoError(t, err)

	live.set(old, false)
	ch.DropConnection(old)

	fresh := uuid.New()
	live.set(fresh, true)
	event, err := ch.EndRide(fresh, "driver-1", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, domain.StateEnded, ch.State())
}

func TestRouteReusedAfterEnd(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	table := newTable(sink, newLiveSet(driver), time.Minute, nil)
	ch := table.GetOrCreate("route-1")

	_, err := ch.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)
	_, err = ch.EndRide(driver, "driver-1", nil, nil)
	require.NoError(t, err)

	event, err := ch.StartRide(driver, "driver-1", 5, 6)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, domain.StateActive, ch.State())
}

func TestSubscriberSeesStartBeforeFirstSample(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	table := newTable(sink, newLiveSet(driver), time.Minute, nil)
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()
	ch.AddSubscriber(sub, "customer-1")

	_, err := ch.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)
	require.NoError(t, ch.AcceptSample(driver, domain.LocationSample{RouteID: "route-1", DriverID: "driver-1"}))
	require.NoError(t, ch.AcceptSample(driver, domain.LocationSample{RouteID: "route-1", DriverID: "driver-1"}))

	require.Equal(t, []string{
		domain.EventRideStarted,
		domain.EventLocationUpdated,
		domain.EventLocationUpdated,
	}, sink.events(sub))
}

func TestSamplesRejectedWhenNoActiveRide(t *testing.T) {
	sink := &recordSink{}
	conn := uuid.New()
	table := newTable(sink, newLiveSet(conn), time.Minute, nil)
	ch := table.GetOrCreate("route-1")

	err := ch.AcceptSample(conn, domain.LocationSample{RouteID: "route-1", DriverID: "driver-1"})
	require.ErrorIs(t, err, domain.ErrNotCurrentPublisher)
}

func TestUnsubscribedConnectionStopsReceiving(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	table := newTable(sink, newLiveSet(driver), time.Minute, nil)
	ch := table.GetOrCreate("route-1")
	sub := uuid.New()
	ch.AddSubscriber(sub, "customer-1")

	_, err := ch.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)
	require.True(t, ch.RemoveSubscriber(sub))
	require.False(t, ch.RemoveSubscriber(sub))

	require.NoError(t, ch.AcceptSample(driver, domain.LocationSample{RouteID: "route-1", DriverID: "driver-1"}))
	require.Equal(t, []string{domain.EventRideStarted}, sink.events(sub))
}

func TestSweepEvictsOnlyIdleChannels(t *testing.T) {
	sink := &recordSink{}
	driver := uuid.New()
	clock := &stubClock{t: time.Unix(1_700_000_000, 0).UTC()}
	live := newLiveSet(driver)
	table := newTable(sink, live, time.Minute, clock)

	idle := table.GetOrCreate("route-idle")
	_, err := idle.StartRide(driver, "driver-1", 1, 2)
	require.NoError(t, err)
	_, err = idle.EndRide(driver, "driver-1", nil, nil)
	require.NoError(t, err)

	active := table.GetOrCreate("route-active")
	activeDriver := uuid.New()
	live.set(activeDriver, true)
	_, err = active.StartRide(activeDriver, "driver-2", 1, 2)
	require.NoError(t, err)

	watched := table.GetOrCreate("route-watched")
	watched.AddSubscriber(uuid.New(), "customer-1")

	clock.advance(15 * time.Minute)
	removed := table.Sweep(clock.Now(), 10*time.Minute)
	require.Equal(t, 1, removed)
	require.Equal(t, 2, table.Len())

	_, ok := table.Lookup("route-idle")
	require.False(t, ok)
	_, ok = table.Lookup("route-active")
	require.True(t, ok)
	_, ok = table.Lookup("route-watched")
	require.True(t, ok)
}

func TestSamplePublishThrottlePerRoute(t *testing.T) {
	sink := &recordSink{}
	clock := &stubClock{t: time.Unix(1_700_000_000, 0).UTC()}
	table := newTable(sink, newLiveSet(), time.Minute, clock)
	ch := table.GetOrCreate("route-1")

	require.True(t, ch.AllowSamplePublish(time.Second))
	require.False(t, ch.AllowSamplePublish(time.Second))

	clock.advance(500 * time.Millisecond)
	require.False(t, ch.AllowSamplePublish(time.Second))

	clock.advance(time.Second)
	require.True(t, ch.AllowSamplePublish(time.Second))

	// Another route has its own budget.
	require.True(t, table.GetOrCreate("route-2").AllowSamplePublish(time.Second))
}

func TestSamplePublishThrottleDiesWithEvictedChannel(t *testing.T) {
	sink := &recordSink{}
	clock := &stubClock{t: time.Unix(1_700_000_000, 0).UTC()}
	table := newTable(sink, newLiveSet(), time.Minute, clock)

	ch := table.GetOrCreate("route-1")
	require.True(t, ch.AllowSamplePublish(time.Hour))
	require.False(t, ch.AllowSamplePublish(time.Hour))

	clock.advance(15 * time.Minute)
	require.Equal(t, 1, table.Sweep(clock.Now(), 10*time.Minute))

	// The recreated channel starts with a fresh budget.
	require.True(t, table.GetOrCreate("route-1").AllowSamplePublish(time.Hour))
}

func TestDropConnectionRemovesSubscriberEverywhere(t *testing.T) {
	sink := &recordSink{}
	table := newTable(sink, newLiveSet(), time.Minute, nil)
	sub := uuid.New()
	table.GetOrCreate("route-1").AddSubscriber(sub, "customer-1")
	table.GetOrCreate("route-2").AddSubscriber(sub, "customer-1")

	table.DropConnection(sub)
	require.Equal(t, 0, table.GetOrCreate("route-1").Snapshot().Subscribers)
	require.Equal(t, 0, table.GetOrCreate("route-2").Snapshot().Subscribers)
}
