package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
)

func TestEngineLoadsPersistedSettings(t *testing.T) {
	tests := []struct {
		name  string
		store *memSettingsStore
		want  domain.Settings
	}{
		{
			name:  "stored values",
			store: &memSettingsStore{data: []byte(`{"drop_threshold_percent":15,"time_window_minutes":45,"poll_interval_seconds":60}`)},
			want:  domain.Settings{DropThresholdPercent: 15, TimeWindowMinutes: 45, PollIntervalSeconds: 60},
		},
		{
			name:  "malformed blob",
			store: &memSettingsStore{data: []byte(`{not json`)},
			want:  domain.DefaultSettings(),
		},
		{
			name:  "store error",
			store: &memSettingsStore{loadErr: errors.New("redis down")},
			want:  domain.DefaultSettings(),
		},
		{
			name:  "partially valid",
			store: &memSettingsStore{data: []byte(`{"drop_threshold_percent":99,"time_window_minutes":60}`)},
			want:  domain.Settings{DropThresholdPercent: 10, TimeWindowMinutes: 60, PollIntervalSeconds: 30},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(context.Background(), EngineOptions{
				Source:   &fakeSource{},
				Sink:     &recordingSink{},
				Settings: tt.store,
			})
			if got := e.Settings(); got != tt.want {
				t.Fatalf("Settings() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEngineUpdateSettings(t *testing.T) {
	ctx := context.Background()
	store := &memSettingsStore{}
	e := NewEngine(ctx, EngineOptions{Source: &fakeSource{}, Sink: &recordingSink{}, Settings: store})

	bad := domain.Settings{DropThresholdPercent: 0, TimeWindowMinutes: 30, PollIntervalSeconds: 30}
	if err := e.UpdateSettings(ctx, bad); !errors.Is(err, domain.ErrInvalidSettings) {
		t.Fatalf("UpdateSettings(invalid) = %v, want ErrInvalidSettings", err)
	}
	if e.Settings() != domain.DefaultSettings() || store.saves != 0 {
		t.Fatal("rejected settings must leave state and store untouched")
	}

	good := domain.Settings{DropThresholdPercent: 20, TimeWindowMinutes: 60, PollIntervalSeconds: 120}
	if err := e.UpdateSettings(ctx, good); err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	if e.Settings() != good {
		t.Fatalf("settings not applied: %+v", e.Settings())
	}
	var persisted domain.Settings
	if err := json.Unmarshal(store.data, &persisted); err != nil || persisted != good {
		t.Fatalf("persisted %s (%v)", store.data, err)
	}

	store.saveErr = errors.New("write failed")
	if err := e.UpdateSettings(ctx, domain.DefaultSettings()); err == nil {
		t.Fatal("expected persistence error")
	}
	if e.Settings() != good {
		t.Fatal("failed save must not apply the new settings")
	}
}

func TestEngineReschedulesOnIntervalChange(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(ctx, EngineOptions{
		Source: &fakeSource{vehicles: fleet("v1")},
		Sink:   &recordingSink{},
	})
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer e.Stop()

	s := e.Settings()
	s.PollIntervalSeconds = 90
	if err := e.UpdateSettings(ctx, s); err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for e.Status().Interval != 90*time.Second {
		select {
		case <-deadline:
			t.Fatalf("interval = %v, want 90s", e.Status().Interval)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngineLiveDetection(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	src := &fakeSource{
		vehicles: fleet("v1"),
		feed: scripted(page("c1",
			raw("v1", 0, 0.8), raw("v1", 10, 0.55),
		)),
	}
	e := NewEngine(ctx, EngineOptions{
		Source: src,
		Sink:   sink,
		Now:    func() time.Time { return at(12) },
	})
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer e.Stop()

	alerts := sink.snapshot()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.FuelDropPercent != 25 || a.Severity != domain.SeverityHigh {
		t.Fatalf("unexpected alert %+v", a)
	}
	if !a.Timestamp.Equal(at(12)) || a.Historical {
		t.Fatalf("live alert stamped %v historical=%v", a.Timestamp, a.Historical)
	}
	if a.Location != "unknown" {
		t.Fatalf("location = %q", a.Location)
	}
}

func TestEngineRegistryReloadEvictsState(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{vehicles: fleet("v1", "v2")}
	e := NewEngine(ctx, EngineOptions{Source: src, Sink: &recordingSink{}, Now: func() time.Time { return at(0) }})

	e.history.Append(reading("v1", 0, 50))
	e.history.Append(reading("v2", 0, 50))
	e.dedup.Accept(ctx, "v2", at(0))

	src.vehicles = fleet("v1")
	if _, err := e.Registry().Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if e.history.Len("v2") != 0 || e.history.Len("v1") != 1 {
		t.Fatal("history not pruned to the registry")
	}
	if e.dedup.(*MemoryDedup).Len() != 0 {
		t.Fatal("dedup not pruned to the registry")
	}
}
