// Package telemetry defines what fueltheft needs from a telemetry provider.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
)

// ErrVersionMismatch is returned by a Feed that no longer recognises the
// cursor it was given. Callers must drop the cursor and resync.
var ErrVersionMismatch = errors.New("feed version mismatch")

// IsVersionMismatch reports whether err means the feed cursor is stale. Remote
// providers often only signal this in the message text, so that is checked too.
func IsVersionMismatch(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionMismatch) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "version") &&
		(strings.Contains(msg, "mismatch") || strings.Contains(msg, "conflict") || strings.Contains(msg, "invalid"))
}

// Registry lists the fleet.
type Registry interface {
	Vehicles(ctx context.Context) (map[string]domain.Vehicle, error)
}

// FeedPage is one incremental pull. Cursor resumes after the last reading.
type FeedPage struct {
	Cursor   string
	Readings []domain.RawReading
}

// Feed delivers fuel-level readings incrementally. An empty cursor asks for
// a full resync.
type Feed interface {
	FetchFeed(ctx context.Context, cursor string) (FeedPage, error)
}

// RangeQuerier answers point-in-time range queries over [from, to].
// Results are ordered by timestamp ascending.
type RangeQuerier interface {
	Diagnostics(ctx context.Context, vehicleID string, kind domain.DiagnosticKind, from, to time.Time) ([]domain.RawReading, error)
	Trips(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.Trip, error)
}

// Source is a provider offering every capability.
type Source interface {
	Registry
	Feed
	RangeQuerier
}
