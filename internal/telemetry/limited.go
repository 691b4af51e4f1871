package telemetry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"fleet-monitor/fueltheft/internal/domain"
)

// limited paces every call to the wrapped Source through a shared limiter so
// historical scans and stationary checks cannot flood the provider.
type limited struct {
	src     Source
	limiter *rate.Limiter
}

// NewLimited wraps src. A non-positive qps disables pacing and returns src.
func NewLimited(src Source, qps float64, burst int) Source {
	if qps <= 0 {
		return src
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{src: src, limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

func (l *limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telemetry rate limit: %w", err)
	}
	return nil
}

func (l *limited) Vehicles(ctx context.Context) (map[string]domain.Vehicle, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.src.Vehicles(ctx)
}

func (l *limited) FetchFeed(ctx context.Context, cursor string) (FeedPage, error) {
	if err := l.wait(ctx); err != nil {
		return FeedPage{}, err
	}
	return l.src.FetchFeed(ctx, cursor)
}

func (l *limited) Diagnostics(ctx context.Context, vehicleID string, kind domain.DiagnosticKind, from, to time.Time) ([]domain.RawReading, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.src.Diagnostics(ctx, vehicleID, kind, from, to)
}

func (l *limited) Trips(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.Trip, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.src.Trips(ctx, vehicleID, from, to)
}
