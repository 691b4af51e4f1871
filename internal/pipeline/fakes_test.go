package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/telemetry"
)

var t0 = time.Date(2025, time.March, 3, 2, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func reading(vehicle string, minutes int, level float64) domain.Reading {
	return domain.Reading{VehicleID: vehicle, Timestamp: at(minutes), LevelPercent: level}
}

func raw(vehicle string, minutes int, fraction float64) domain.RawReading {
	return domain.RawReading{VehicleID: vehicle, Timestamp: at(minutes), Value: fraction}
}

// fakeSource is a scriptable telemetry.Source.
type fakeSource struct {
	mu sync.Mutex

	vehicles    map[string]domain.Vehicle
	vehiclesErr error

	// feed is called with the cursor of each FetchFeed call.
	feed    func(cursor string) (telemetry.FeedPage, error)
	cursors []string

	fuel        map[string][]domain.RawReading
	fuelErr     map[string]error
	ignition    []domain.RawReading
	ignitionErr error
	trips       []domain.Trip
	tripsErr    error

	// ctxAware makes range queries fail once their context is done.
	ctxAware bool
}

func (f *fakeSource) Vehicles(context.Context) (map[string]domain.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vehiclesErr != nil {
		return nil, f.vehiclesErr
	}
	out := make(map[string]domain.Vehicle, len(f.vehicles))
	for k, v := range f.vehicles {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) FetchFeed(_ context.Context, cursor string) (telemetry.FeedPage, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	fn := f.feed
	f.mu.Unlock()
	if fn == nil {
		return telemetry.FeedPage{Cursor: cursor}, nil
	}
	return fn(cursor)
}

func (f *fakeSource) seenCursors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}

func (f *fakeSource) Diagnostics(ctx context.Context, vehicleID string, kind domain.DiagnosticKind, from, to time.Time) ([]domain.RawReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctxAware && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	switch kind {
	case domain.DiagnosticIgnition:
		if f.ignitionErr != nil {
			return nil, f.ignitionErr
		}
		return inRange(f.ignition, vehicleID, from, to), nil
	case domain.DiagnosticFuelLevel:
		if err := f.fuelErr[vehicleID]; err != nil {
			return nil, err
		}
		return inRange(f.fuel[vehicleID], vehicleID, from, to), nil
	}
	return nil, errors.New("unknown diagnostic")
}

func (f *fakeSource) Trips(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctxAware && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.tripsErr != nil {
		return nil, f.tripsErr
	}
	var out []domain.Trip
	for _, t := range f.trips {
		if t.VehicleID == vehicleID && !t.Start.After(to) && !t.Stop.Before(from) {
			out = append(out, t)
		}
	}
	return out, nil
}

func inRange(rs []domain.RawReading, vehicleID string, from, to time.Time) []domain.RawReading {
	var out []domain.RawReading
	for _, r := range rs {
		if r.VehicleID == vehicleID && !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out
}

// recordingSink stores emitted alerts and assigns increasing ids.
type recordingSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
	err    error
}

func (s *recordingSink) Emit(_ context.Context, a domain.Alert) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Alert{}, s.err
	}
	a.ID = int64(len(s.alerts) + 1)
	s.alerts = append(s.alerts, a)
	return a, nil
}

func (s *recordingSink) snapshot() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Alert(nil), s.alerts...)
}

type stationary bool

func (s stationary) IsStationary(context.Context, string, time.Time) bool { return bool(s) }

type memSettingsStore struct {
	data    []byte
	loadErr error
	saveErr error
	saves   int
}

func (m *memSettingsStore) LoadSettings(context.Context) ([]byte, error) {
	return m.data, m.loadErr
}

func (m *memSettingsStore) SaveSettings(_ context.Context, data []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data = data
	return nil
}

type memCursorStore struct {
	mu     sync.Mutex
	cursor string
}

func (m *memCursorStore) LoadCursor(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *memCursorStore) SaveCursor(_ context.Context, c string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = c
	return nil
}
