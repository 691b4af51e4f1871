package telemetry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
)

func TestIsVersionMismatch(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrVersionMismatch, true},
		{"wrapped sentinel", fmt.Errorf("fetch feed: %w", ErrVersionMismatch), true},
		{"remote message", errors.New("InvalidArgument: fromVersion conflict with current feed version"), true},
		{"generic", errors.New("connection reset by peer"), false},
		{"version without conflict", errors.New("server version 2.1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionMismatch(tt.err); got != tt.want {
				t.Fatalf("IsVersionMismatch(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type countingSource struct {
	calls int
}

func (c *countingSource) Vehicles(context.Context) (map[string]domain.Vehicle, error) {
	c.calls++
	return map[string]domain.Vehicle{}, nil
}

func (c *countingSource) FetchFeed(context.Context, string) (FeedPage, error) {
	c.calls++
	return FeedPage{}, nil
}

func (c *countingSource) Diagnostics(context.Context, string, domain.DiagnosticKind, time.Time, time.Time) ([]domain.RawReading, error) {
	c.calls++
	return nil, nil
}

func (c *countingSource) Trips(context.Context, string, time.Time, time.Time) ([]domain.Trip, error) {
	c.calls++
	return nil, nil
}

func TestNewLimitedDisabledReturnsSource(t *testing.T) {
	src := &countingSource{}
	if got := NewLimited(src, 0, 0); got != Source(src) {
		t.Fatalf("expected the source itself when qps <= 0")
	}
}

func TestLimitedHonoursContext(t *testing.T) {
	src := &countingSource{}
	l := NewLimited(src, 0.001, 1)

	ctx := context.Background()
	if _, err := l.Vehicles(ctx); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := l.FetchFeed(cancelled, ""); err == nil {
		t.Fatal("expected rate limit wait to fail on cancelled context")
	}
	if src.calls != 1 {
		t.Fatalf("expected 1 delegated call, got %d", src.calls)
	}
}
