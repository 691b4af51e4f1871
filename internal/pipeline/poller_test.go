package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/telemetry"
)

// newTestPoller builds a poller whose ticker never fires during a test;
// polls are driven through tick.
func newTestPoller(src *fakeSource, cursors CursorStore, sink AlertSink) *Poller {
	settings := domain.DefaultSettings()
	reg := NewRegistryCache(src)
	p := NewPipeline(ModeLive, Stages{
		History:  NewHistoryStore(LiveRetention, WindowCapacity, nil),
		Settings: func() domain.Settings { return settings },
		Verifier: stationary(true),
		Dedup:    NewMemoryDedup(DedupCooldown),
		Sink:     sink,
		Vehicles: reg.Lookup,
		Now:      func() time.Time { return at(10) },
	})
	return NewPoller(PollerOptions{
		Feed:     src,
		Registry: reg,
		Pipeline: p,
		Cursors:  cursors,
		Interval: func() time.Duration { return time.Hour },
	})
}

// scripted returns a feed that answers the n-th call with steps[n].
func scripted(steps ...func(cursor string) (telemetry.FeedPage, error)) func(string) (telemetry.FeedPage, error) {
	var n atomic.Int32
	return func(cursor string) (telemetry.FeedPage, error) {
		i := int(n.Add(1)) - 1
		if i >= len(steps) {
			return telemetry.FeedPage{Cursor: cursor}, nil
		}
		return steps[i](cursor)
	}
}

func page(cursor string, readings ...domain.RawReading) func(string) (telemetry.FeedPage, error) {
	return func(string) (telemetry.FeedPage, error) {
		return telemetry.FeedPage{Cursor: cursor, Readings: readings}, nil
	}
}

func failWith(err error) func(string) (telemetry.FeedPage, error) {
	return func(string) (telemetry.FeedPage, error) { return telemetry.FeedPage{}, err }
}

func fleet(ids ...string) map[string]domain.Vehicle {
	m := make(map[string]domain.Vehicle, len(ids))
	for _, id := range ids {
		m[id] = domain.Vehicle{ID: id, Name: "Truck " + id}
	}
	return m
}

func TestPollerResetsCursorOnVersionMismatch(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		vehicles: fleet("v1"),
		feed: scripted(
			page("c1"),
			failWith(fmt.Errorf("get feed: %w", telemetry.ErrVersionMismatch)),
			page("c2"),
		),
	}
	cursors := &memCursorStore{}
	p := newTestPoller(src, cursors, &recordingSink{})

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	p.tick(ctx)
	if p.State() != StateDegraded {
		t.Fatalf("state after failed poll = %s, want degraded", p.State())
	}
	if got := p.Status().Cursor; got != "" {
		t.Fatalf("cursor after mismatch = %q, want empty", got)
	}

	p.tick(ctx)
	want := []string{"", "c1", ""}
	got := src.seenCursors()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("cursors sent = %q, want %q", got, want)
	}
	if p.State() != StateActive {
		t.Fatalf("state after recovery = %s, want active", p.State())
	}
	if cursors.cursor != "c2" {
		t.Fatalf("persisted cursor = %q, want c2", cursors.cursor)
	}
}

func TestPollerKeepsCursorOnTransientError(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		vehicles: fleet("v1"),
		feed:     scripted(failWith(errors.New("connection reset"))),
	}
	p := newTestPoller(src, &memCursorStore{cursor: "c5"}, &recordingSink{})

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	st := p.Status()
	if st.State != StateDegraded || st.LastError == "" {
		t.Fatalf("expected degraded with error, got %+v", st)
	}

	p.tick(ctx)
	got := src.seenCursors()
	if len(got) != 2 || got[0] != "c5" || got[1] != "c5" {
		t.Fatalf("cursor should survive a transient error, sent %q", got)
	}
	if p.Status().LastError != "" {
		t.Fatal("successful poll must clear the last error")
	}
}

func TestPollerStartFailsWithoutRegistry(t *testing.T) {
	src := &fakeSource{vehiclesErr: errors.New("registry unavailable")}
	p := newTestPoller(src, nil, &recordingSink{})

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if p.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", p.State())
	}
	if n := len(src.seenCursors()); n != 0 {
		t.Fatalf("feed polled %d times after failed start", n)
	}
}

func TestPollerSkipsOverlappingTick(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{
		vehicles: fleet("v1"),
		feed: scripted(
			page("c1"),
			func(string) (telemetry.FeedPage, error) {
				close(entered)
				<-release
				return telemetry.FeedPage{Cursor: "c2"}, nil
			},
		),
	}
	p := newTestPoller(src, nil, &recordingSink{})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	done := make(chan bool)
	go func() { done <- p.tick(ctx) }()
	<-entered

	if p.tick(ctx) {
		t.Fatal("overlapping tick must be skipped")
	}
	if got := p.Status().SkippedTicks; got != 1 {
		t.Fatalf("skipped ticks = %d, want 1", got)
	}

	close(release)
	if !<-done {
		t.Fatal("first tick reported skipped")
	}
	if n := len(src.seenCursors()); n != 2 {
		t.Fatalf("feed called %d times, want 2", n)
	}
}

func TestPollerProcessesFeedReadings(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	src := &fakeSource{
		vehicles: fleet("v1", "v2"),
		feed: scripted(page("c1",
			raw("v1", 0, 0.9), raw("v2", 0, 0.5),
			raw("v1", 5, 0.6), raw("v2", 5, 0.49),
		)),
	}
	p := newTestPoller(src, nil, sink)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	alerts := sink.snapshot()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].VehicleName != "Truck v1" {
		t.Fatalf("alert not enriched from registry: %+v", alerts[0])
	}
	st := p.Status()
	if st.Readings != 4 || st.Vehicles != 2 || st.Cursor != "c1" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestPollerLifecycle(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{vehicles: fleet("v1")}
	p := newTestPoller(src, nil, &recordingSink{})

	p.Stop()
	if p.State() != StateStopped {
		t.Fatalf("Stop on idle poller changed state to %s", p.State())
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !p.Running() {
		t.Fatal("expected running poller")
	}
	if err := p.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	p.Stop()
	p.Stop()
	if p.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", p.State())
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	p.Stop()
}

func TestPollerReschedule(t *testing.T) {
	ctx := context.Background()
	p := newTestPoller(&fakeSource{vehicles: fleet("v1")}, nil, &recordingSink{})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	if got := p.Status().Interval; got != time.Hour {
		t.Fatalf("initial interval = %v", got)
	}
	p.Reschedule(2 * time.Hour)

	deadline := time.After(2 * time.Second)
	for p.Status().Interval != 2*time.Hour {
		select {
		case <-deadline:
			t.Fatalf("interval not applied, still %v", p.Status().Interval)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// lateFeed answers the first fetch with an empty page. The second fetch
// blocks until its context is cancelled and then returns page anyway, as a
// response that lands while the poller is being stopped.
type lateFeed struct {
	*fakeSource
	calls   atomic.Int32
	entered chan struct{}
	page    telemetry.FeedPage
}

func (f *lateFeed) FetchFeed(ctx context.Context, cursor string) (telemetry.FeedPage, error) {
	switch f.calls.Add(1) {
	case 1:
		return telemetry.FeedPage{Cursor: "c1"}, nil
	case 2:
		close(f.entered)
		<-ctx.Done()
		return f.page, nil
	}
	return telemetry.FeedPage{Cursor: cursor}, ctx.Err()
}

func TestPollerStopDuringPollKeepsVerdicts(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	// Ignition on just before the drop: the vehicle is moving.
	src := &fakeSource{
		vehicles: fleet("v1"),
		ignition: []domain.RawReading{raw("v1", 3, 1)},
		ctxAware: true,
	}
	feed := &lateFeed{
		fakeSource: src,
		entered:    make(chan struct{}),
		page: telemetry.FeedPage{Cursor: "c2", Readings: []domain.RawReading{
			raw("v1", 0, 0.9), raw("v1", 5, 0.6),
		}},
	}
	cursors := &memCursorStore{}

	settings := domain.DefaultSettings()
	reg := NewRegistryCache(src)
	pl := NewPipeline(ModeLive, Stages{
		History:  NewHistoryStore(LiveRetention, WindowCapacity, nil),
		Settings: func() domain.Settings { return settings },
		Verifier: NewStationaryVerifier(src, FailOpen, nil),
		Dedup:    NewMemoryDedup(DedupCooldown),
		Sink:     sink,
		Vehicles: reg.Lookup,
		Now:      func() time.Time { return at(10) },
	})
	p := NewPoller(PollerOptions{
		Feed:     feed,
		Registry: reg,
		Pipeline: pl,
		Cursors:  cursors,
		Interval: func() time.Duration { return 5 * time.Millisecond },
	})

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-feed.entered
	p.Stop()

	if alerts := sink.snapshot(); len(alerts) != 0 {
		t.Fatalf("moving vehicle alerted after Stop: %+v", alerts)
	}
	st := p.Status()
	if st.Readings != 2 {
		t.Fatalf("readings processed = %d, want 2", st.Readings)
	}
	if st.Cursor != "c2" || cursors.cursor != "c2" {
		t.Fatalf("cursor = %q, persisted %q, want c2", st.Cursor, cursors.cursor)
	}
}
