package pipeline

import (
	"context"
	"fmt"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/metrics"
)

// AlertSink takes ownership of accepted alerts. The returned alert carries
// the id assigned by persistence.
type AlertSink interface {
	Emit(ctx context.Context, a domain.Alert) (domain.Alert, error)
}

type Mode string

const (
	ModeLive       Mode = "live"
	ModeHistorical Mode = "historical"
)

// Stages are the collaborators of one Pipeline.
type Stages struct {
	History    *HistoryStore
	Settings   func() domain.Settings
	Verifier   Verifier
	Classifier *Classifier
	Dedup      DedupGate
	Sink       AlertSink
	Vehicles   func(id string) domain.Vehicle
	// Now stamps live alerts. Historical alerts use the drop's timestamp.
	Now    func() time.Time
	Logger log.Logger
}

// Pipeline runs one reading through history, detection, stationary
// verification, classification and deduplication, and emits the alert.
type Pipeline struct {
	mode Mode
	Stages
}

func NewPipeline(mode Mode, s Stages) *Pipeline {
	if s.Classifier == nil {
		s.Classifier = NewClassifier(nil)
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Vehicles == nil {
		s.Vehicles = func(id string) domain.Vehicle { return domain.Vehicle{ID: id} }
	}
	if s.Logger == nil {
		s.Logger = log.NewNop()
	}
	return &Pipeline{mode: mode, Stages: s}
}

// Process handles one reading. It returns the emitted alert, nil when the
// reading raised none, or an error when the sink rejected the alert.
func (p *Pipeline) Process(ctx context.Context, r domain.Reading) (*domain.Alert, error) {
	settings := p.Settings()
	mode := string(p.mode)

	window := p.History.Append(r)
	metrics.ReadingsProcessed.WithLabelValues(mode).Inc()

	ev, ok := Detect(window, r, settings)
	if !ok {
		return nil, nil
	}
	metrics.DropsDetected.WithLabelValues(mode).Inc()

	if !p.Verifier.IsStationary(ctx, r.VehicleID, r.Timestamp) {
		metrics.AlertsSuppressed.WithLabelValues("moving").Inc()
		p.Logger.Debug("drop ignored, vehicle moving",
			"vehicle", r.VehicleID, "drop", ev.DropPercent, "minutes", ev.DurationMinutes)
		return nil, nil
	}

	severity := p.Classifier.Classify(ev.DropPercent, ev.DurationMinutes)

	at := p.Now()
	if p.mode == ModeHistorical {
		at = ev.Current.Timestamp
	}

	accepted, err := p.Dedup.Accept(ctx, r.VehicleID, at)
	if err != nil {
		// Gate errors accept the alert.
		p.Logger.Warn("dedup gate failed, accepting alert", "vehicle", r.VehicleID, "error", err)
		accepted = true
	}
	if !accepted {
		metrics.AlertsSuppressed.WithLabelValues("cooldown").Inc()
		p.Logger.Debug("drop suppressed by cooldown", "vehicle", r.VehicleID)
		return nil, nil
	}

	alert := domain.NewAlert(p.Vehicles(r.VehicleID), ev, severity, at, p.mode == ModeHistorical)
	stored, err := p.Sink.Emit(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("emit alert for vehicle %s: %w", r.VehicleID, err)
	}

	metrics.AlertsEmitted.WithLabelValues(mode, string(severity)).Inc()
	p.Logger.Info("fuel theft alert",
		"id", stored.ID,
		"vehicle", stored.VehicleID,
		"severity", string(stored.Severity),
		"drop", stored.FuelDropPercent,
		"minutes", stored.DurationMinutes,
		"historical", stored.Historical)
	return &stored, nil
}
