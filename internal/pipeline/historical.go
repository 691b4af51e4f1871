package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/telemetry"
)

// Progress is reported after each vehicle of a historical scan.
type Progress struct {
	Percent   int    `json:"percent"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

type ProgressFunc func(Progress)

// Analyzer replays past fuel readings through the detection rules, one
// vehicle at a time.
type Analyzer struct {
	registry   *RegistryCache
	source     telemetry.RangeQuerier
	verifier   Verifier
	classifier *Classifier
	sink       AlertSink
	settings   func() domain.Settings
	log        log.Logger
}

// AnalyzerOptions configures NewAnalyzer.
type AnalyzerOptions struct {
	Registry   *RegistryCache
	Source     telemetry.RangeQuerier
	Verifier   Verifier
	Classifier *Classifier
	Sink       AlertSink
	Settings   func() domain.Settings
	Logger     log.Logger
}

func NewAnalyzer(o AnalyzerOptions) *Analyzer {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	if o.Classifier == nil {
		o.Classifier = NewClassifier(nil)
	}
	return &Analyzer{
		registry:   o.Registry,
		source:     o.Source,
		verifier:   o.Verifier,
		classifier: o.Classifier,
		sink:       o.Sink,
		settings:   o.Settings,
		log:        logger.WithName("historical"),
	}
}

// Analyze scans [from, to] for every registered vehicle and returns the
// number of alerts emitted. Only a registry failure fails the scan; a vehicle
// whose readings cannot be fetched is logged and skipped.
//
// The scan cannot be cancelled once started: ctx cancellation is not
// propagated to the per-vehicle work. Callers bound the span of the range.
func (a *Analyzer) Analyze(ctx context.Context, from, to time.Time, onProgress ProgressFunc) (int, error) {
	ctx = context.WithoutCancel(ctx)

	vehicles, err := a.registry.Ensure(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(vehicles))
	for id := range vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Settings are fixed for the whole run.
	settings := a.settings()
	total := len(ids)
	alerts := 0

	a.log.Info("historical analysis started", "from", from, "to", to, "vehicles", total)
	for i, id := range ids {
		v := a.registry.Lookup(id)
		n, status := a.analyzeVehicle(ctx, v, from, to, settings)
		alerts += n

		if onProgress != nil {
			processed := i + 1
			onProgress(Progress{
				Percent:   int(math.Round(float64(processed) * 100 / float64(total))),
				Processed: processed,
				Total:     total,
				Message:   fmt.Sprintf("%s: %s (%d/%d)", displayName(v), status, processed, total),
			})
		}
	}
	a.log.Info("historical analysis finished", "vehicles", total, "alerts", alerts)
	return alerts, nil
}

func (a *Analyzer) analyzeVehicle(ctx context.Context, v domain.Vehicle, from, to time.Time, settings domain.Settings) (int, string) {
	raw, err := a.source.Diagnostics(ctx, v.ID, domain.DiagnosticFuelLevel, from, to)
	if err != nil {
		a.log.Error(err, "fetch fuel history failed, vehicle skipped", "vehicle", v.ID)
		return 0, "skipped, fetch failed"
	}
	if len(raw) < 2 {
		return 0, "not enough readings"
	}

	readings := make([]domain.Reading, len(raw))
	for i, r := range raw {
		readings[i] = domain.FuelReading(r)
	}
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	p := NewPipeline(ModeHistorical, Stages{
		History:    NewHistoryStore(2*settings.TimeWindow(), WindowCapacity, nil),
		Settings:   func() domain.Settings { return settings },
		Verifier:   a.verifier,
		Classifier: a.classifier,
		Dedup:      NewMemoryDedup(DedupCooldown),
		Sink:       a.sink,
		Vehicles:   func(string) domain.Vehicle { return v },
		Logger:     a.log.WithValues("vehicle", v.ID),
	})

	res := Dispatch(ctx, p, []Batch{{VehicleID: v.ID, Readings: readings}})
	return len(res.Alerts), fmt.Sprintf("%d readings, %d alerts", res.Readings, len(res.Alerts))
}

func displayName(v domain.Vehicle) string {
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}
