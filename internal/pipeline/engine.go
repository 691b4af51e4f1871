package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/telemetry"
)

// SettingsStore persists the detection settings blob.
type SettingsStore interface {
	LoadSettings(ctx context.Context) ([]byte, error)
	SaveSettings(ctx context.Context, data []byte) error
}

// EngineOptions wires an Engine. Source and Sink are required.
type EngineOptions struct {
	Source   telemetry.Source
	Sink     AlertSink
	Settings SettingsStore
	Cursors  CursorStore
	// Dedup defaults to an in-memory gate with DedupCooldown.
	Dedup          DedupGate
	FailurePolicy  FailurePolicy
	RegistryMaxAge time.Duration
	Now            func() time.Time
	Logger         log.Logger
}

// Engine owns all detection state of one monitor: settings, per-vehicle
// history, dedup entries, the feed cursor (through its poller) and the
// registry cache.
type Engine struct {
	mu       sync.RWMutex
	settings domain.Settings
	store    SettingsStore

	registry *RegistryCache
	history  *HistoryStore
	dedup    DedupGate
	live     *Pipeline
	poller   *Poller
	analyzer *Analyzer
	log      log.Logger
}

// NewEngine builds the engine and loads persisted settings. Missing or
// unreadable settings fall back to the defaults.
func NewEngine(ctx context.Context, o EngineOptions) *Engine {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		settings: domain.DefaultSettings(),
		store:    o.Settings,
		log:      logger.WithName("engine"),
	}
	e.loadSettings(ctx)

	e.registry = NewRegistryCache(o.Source)
	e.registry.now = now
	e.history = NewHistoryStore(LiveRetention, WindowCapacity, now)
	e.dedup = o.Dedup
	if e.dedup == nil {
		e.dedup = NewMemoryDedup(DedupCooldown)
	}

	e.registry.OnLoad(e.history.Retain)
	if r, ok := e.dedup.(interface {
		Retain(map[string]domain.Vehicle)
	}); ok {
		e.registry.OnLoad(r.Retain)
	}

	verifier := NewStationaryVerifier(o.Source, o.FailurePolicy, logger)
	classifier := NewClassifier(nil)

	e.live = NewPipeline(ModeLive, Stages{
		History:    e.history,
		Settings:   e.Settings,
		Verifier:   verifier,
		Classifier: classifier,
		Dedup:      e.dedup,
		Sink:       o.Sink,
		Vehicles:   e.registry.Lookup,
		Now:        now,
		Logger:     logger.WithName("live"),
	})

	e.poller = NewPoller(PollerOptions{
		Feed:           o.Source,
		Registry:       e.registry,
		Pipeline:       e.live,
		Cursors:        o.Cursors,
		Interval:       func() time.Duration { return e.Settings().PollInterval() },
		RegistryMaxAge: o.RegistryMaxAge,
		Logger:         logger,
	})
	e.poller.now = now

	e.analyzer = NewAnalyzer(AnalyzerOptions{
		Registry:   e.registry,
		Source:     o.Source,
		Verifier:   verifier,
		Classifier: classifier,
		Sink:       o.Sink,
		Settings:   e.Settings,
		Logger:     logger,
	})
	return e
}

func (e *Engine) loadSettings(ctx context.Context) {
	if e.store == nil {
		return
	}
	data, err := e.store.LoadSettings(ctx)
	if err != nil {
		e.log.Warn("could not load settings, using defaults", "error", err)
		return
	}
	e.settings = domain.ParseSettings(data)
	e.log.Info("settings loaded",
		"threshold", e.settings.DropThresholdPercent,
		"window_minutes", e.settings.TimeWindowMinutes,
		"poll_seconds", e.settings.PollIntervalSeconds)
}

// Settings returns the settings in effect.
func (e *Engine) Settings() domain.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings validates, persists and applies s as one step. On any error
// the previous settings stay in effect. A changed poll interval reschedules
// the running poller.
func (e *Engine) UpdateSettings(ctx context.Context, s domain.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveSettings(ctx, data); err != nil {
			return fmt.Errorf("persist settings: %w", err)
		}
	}
	prev := e.settings
	e.settings = s
	if prev.PollIntervalSeconds != s.PollIntervalSeconds && e.poller.Running() {
		e.poller.Reschedule(s.PollInterval())
	}
	e.log.Info("settings updated",
		"threshold", s.DropThresholdPercent,
		"window_minutes", s.TimeWindowMinutes,
		"poll_seconds", s.PollIntervalSeconds)
	return nil
}

// Start begins continuous monitoring.
func (e *Engine) Start(ctx context.Context) error {
	return e.poller.Start(ctx)
}

// Stop ends continuous monitoring. Safe to call repeatedly.
func (e *Engine) Stop() {
	e.poller.Stop()
}

func (e *Engine) Status() PollerStatus {
	return e.poller.Status()
}

// Analyze runs a historical scan; see Analyzer.Analyze.
func (e *Engine) Analyze(ctx context.Context, from, to time.Time, onProgress ProgressFunc) (int, error) {
	return e.analyzer.Analyze(ctx, from, to, onProgress)
}

func (e *Engine) Poller() *Poller {
	return e.poller
}

func (e *Engine) Registry() *RegistryCache {
	return e.registry
}
