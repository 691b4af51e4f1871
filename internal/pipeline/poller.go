package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/semaphore"

	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/metrics"
	"fleet-monitor/fueltheft/internal/telemetry"
)

var ErrAlreadyRunning = errors.New("poller already running")

// CursorStore persists the feed cursor across restarts. An empty cursor is
// stored as "no cursor".
type CursorStore interface {
	LoadCursor(ctx context.Context) (string, error)
	SaveCursor(ctx context.Context, cursor string) error
}

// PollerStatus is a point-in-time view of the poller.
type PollerStatus struct {
	State         string        `json:"state"`
	Cursor        string        `json:"cursor,omitempty"`
	Interval      time.Duration `json:"interval"`
	LastPollAt    time.Time     `json:"last_poll_at,omitempty"`
	LastSuccessAt time.Time     `json:"last_success_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	SkippedTicks  int64         `json:"skipped_ticks"`
	Readings      int64         `json:"readings"`
	Vehicles      int           `json:"vehicles"`
}

// Poller pulls the incremental feed on a fixed interval and pushes every
// reading through the live pipeline.
//
// At most one poll runs at a time: a tick that fires while the previous poll
// is still running is skipped. This keeps the cursor and the per-vehicle
// history free of concurrent passes.
type Poller struct {
	feed     telemetry.Feed
	registry *RegistryCache
	pipeline *Pipeline
	cursors  CursorStore
	interval func() time.Duration
	// registryMaxAge triggers a registry reload before a poll; 0 disables it.
	registryMaxAge time.Duration
	now            func() time.Time
	log            log.Logger

	lifecycle *fsm.FSM
	inflight  *semaphore.Weighted

	// lifeMu serialises Start and Stop.
	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	polls    sync.WaitGroup
	resched  chan time.Duration

	mu            sync.Mutex
	cursor        string
	current       time.Duration
	lastPollAt    time.Time
	lastSuccessAt time.Time
	lastErr       error

	skipped  atomic.Int64
	readings atomic.Int64
}

// PollerOptions configures NewPoller.
type PollerOptions struct {
	Feed           telemetry.Feed
	Registry       *RegistryCache
	Pipeline       *Pipeline
	Cursors        CursorStore
	Interval       func() time.Duration
	RegistryMaxAge time.Duration
	Logger         log.Logger
}

func NewPoller(o PollerOptions) *Poller {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.WithName("poller")
	return &Poller{
		feed:           o.Feed,
		registry:       o.Registry,
		pipeline:       o.Pipeline,
		cursors:        o.Cursors,
		interval:       o.Interval,
		registryMaxAge: o.RegistryMaxAge,
		now:            time.Now,
		log:            logger,
		lifecycle:      newLifecycle(logger),
		inflight:       semaphore.NewWeighted(1),
		resched:        make(chan time.Duration, 1),
	}
}

// Start loads the registry, polls once and schedules the repeating tick.
// A registry failure aborts the start and is returned; nothing is retried.
func (p *Poller) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.lifecycle.Current() != StateStopped {
		return ErrAlreadyRunning
	}
	if err := fire(ctx, p.lifecycle, EventStart); err != nil {
		return err
	}

	if _, err := p.registry.Load(ctx); err != nil {
		_ = fire(ctx, p.lifecycle, EventStartFailed)
		p.log.Error(err, "monitoring not started")
		return err
	}

	if p.cursors != nil {
		cursor, err := p.cursors.LoadCursor(ctx)
		if err != nil {
			p.log.Warn("could not restore feed cursor, starting with full resync", "error", err)
			cursor = ""
		}
		p.setCursorLocal(cursor)
	}

	if err := fire(ctx, p.lifecycle, EventStarted); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.loopDone = make(chan struct{})

	// Drain a reschedule requested while stopped; the loop starts at the
	// current interval anyway.
	select {
	case <-p.resched:
	default:
	}

	p.tick(loopCtx)

	interval := p.interval()
	p.mu.Lock()
	p.current = interval
	p.mu.Unlock()

	go p.loop(loopCtx, interval)
	p.log.Info("monitoring started", "interval", interval, "vehicles", p.registry.Len())
	return nil
}

// Stop cancels the ticker and any feed fetch still waiting, then waits for
// an in-flight poll to finish processing its page.
// Calling Stop on a stopped poller does nothing.
func (p *Poller) Stop() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if !p.lifecycle.Can(EventStop) {
		return
	}
	if p.cancel != nil {
		p.cancel()
		<-p.loopDone
		p.polls.Wait()
		p.cancel = nil
	}
	_ = fire(context.Background(), p.lifecycle, EventStop)
	p.log.Info("monitoring stopped")
}

// Reschedule moves the ticker to interval. A poll already running finishes
// untouched. It is a no-op while stopped.
func (p *Poller) Reschedule(interval time.Duration) {
	if interval <= 0 {
		return
	}
	// Keep only the latest request.
	select {
	case <-p.resched:
	default:
	}
	p.resched <- interval
}

func (p *Poller) State() string {
	return p.lifecycle.Current()
}

func (p *Poller) Running() bool {
	s := p.lifecycle.Current()
	return s == StateActive || s == StateDegraded
}

func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PollerStatus{
		State:         p.lifecycle.Current(),
		Cursor:        p.cursor,
		Interval:      p.current,
		LastPollAt:    p.lastPollAt,
		LastSuccessAt: p.lastSuccessAt,
		SkippedTicks:  p.skipped.Load(),
		Readings:      p.readings.Load(),
		Vehicles:      p.registry.Len(),
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *Poller) loop(ctx context.Context, interval time.Duration) {
	defer close(p.loopDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.resched:
			ticker.Reset(d)
			p.mu.Lock()
			p.current = d
			p.mu.Unlock()
			p.log.Info("poll interval changed", "interval", d)
		case <-ticker.C:
			if !p.inflight.TryAcquire(1) {
				p.skipped.Add(1)
				metrics.PollSkipped.Inc()
				p.log.Warn("previous poll still running, tick skipped")
				continue
			}
			p.polls.Add(1)
			go func() {
				defer p.polls.Done()
				defer p.inflight.Release(1)
				p.poll(ctx)
			}()
		}
	}
}

// tick runs one poll under the single-flight guard.
func (p *Poller) tick(ctx context.Context) bool {
	if !p.inflight.TryAcquire(1) {
		p.skipped.Add(1)
		metrics.PollSkipped.Inc()
		return false
	}
	defer p.inflight.Release(1)
	p.poll(ctx)
	return true
}

func (p *Poller) poll(ctx context.Context) {
	started := p.now()
	defer func() { metrics.PollDuration.Observe(time.Since(started).Seconds()) }()

	p.mu.Lock()
	cursor := p.cursor
	p.lastPollAt = started
	p.mu.Unlock()

	page, err := p.feed.FetchFeed(ctx, cursor)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.fail(ctx, err)
		return
	}
	// A fetched page is processed to completion even if Stop cancels the
	// loop meanwhile; Stop waits for it.
	ctx = context.WithoutCancel(ctx)

	p.setCursor(ctx, page.Cursor)

	if p.registry.Stale(p.registryMaxAge) {
		if _, err := p.registry.Load(ctx); err != nil {
			p.log.Warn("registry refresh failed, keeping cached registry", "error", err)
		}
	}

	res := Dispatch(ctx, p.pipeline, GroupByVehicle(page.Readings))
	p.readings.Add(int64(res.Readings))

	metrics.PollsTotal.WithLabelValues("ok").Inc()
	p.mu.Lock()
	p.lastSuccessAt = p.now()
	p.lastErr = nil
	p.mu.Unlock()
	if err := fire(ctx, p.lifecycle, EventPollOK); err != nil {
		p.log.Debug("poll_ok transition ignored", "error", err)
	}
	p.log.Debug("poll complete", "readings", res.Readings, "alerts", len(res.Alerts), "errors", res.Errors)
}

func (p *Poller) fail(ctx context.Context, err error) {
	outcome := "error"
	if telemetry.IsVersionMismatch(err) {
		outcome = "version_mismatch"
		metrics.CursorResets.Inc()
		p.setCursor(ctx, "")
		p.log.Warn("feed cursor rejected, next poll resyncs", "error", err)
	}
	metrics.PollsTotal.WithLabelValues(outcome).Inc()

	p.mu.Lock()
	p.lastErr = fmt.Errorf("fetch feed: %w", err)
	p.mu.Unlock()

	p.log.Error(err, "feed poll failed, retrying next tick")
	if ferr := fire(ctx, p.lifecycle, EventPollFailed); ferr != nil {
		p.log.Debug("poll_failed transition ignored", "error", ferr)
	}
}

func (p *Poller) setCursorLocal(cursor string) {
	p.mu.Lock()
	p.cursor = cursor
	p.mu.Unlock()
}

func (p *Poller) setCursor(ctx context.Context, cursor string) {
	p.setCursorLocal(cursor)
	if p.cursors == nil {
		return
	}
	if err := p.cursors.SaveCursor(ctx, cursor); err != nil {
		p.log.Warn("could not persist feed cursor", "error", err)
	}
}
