package pipeline

import (
	"context"
	"fmt"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/metrics"
	"fleet-monitor/fueltheft/internal/telemetry"
)

// FailurePolicy decides the stationary verdict when telemetry cannot be queried.
type FailurePolicy int

const (
	// FailOpen treats the vehicle as stationary so a telemetry gap cannot
	// hide a theft. Costs false positives.
	FailOpen FailurePolicy = iota
	// FailClosed treats the vehicle as moving and suppresses the alert.
	FailClosed
)

// DefaultFailurePolicy is the verifier's policy unless overridden.
const DefaultFailurePolicy = FailOpen

// StationaryLookback is how far before a drop the verifier looks for motion.
const StationaryLookback = 5 * time.Minute

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Verifier confirms a vehicle was parked at a given instant.
type Verifier interface {
	IsStationary(ctx context.Context, vehicleID string, at time.Time) bool
}

// StationaryVerifier checks ignition state and trip records in the minutes
// before a drop.
type StationaryVerifier struct {
	q        telemetry.RangeQuerier
	lookback time.Duration
	policy   FailurePolicy
	log      log.Logger
}

func NewStationaryVerifier(q telemetry.RangeQuerier, policy FailurePolicy, logger log.Logger) *StationaryVerifier {
	if logger == nil {
		logger = log.NewNop()
	}
	return &StationaryVerifier{
		q:        q,
		lookback: StationaryLookback,
		policy:   policy,
		log:      logger.WithName("verifier"),
	}
}

// IsStationary is false when the latest ignition sample in [at-5m, at] is
// on or any trip overlaps that range. Query failures follow the policy,
// except when ctx itself is done: then the check is abandoned and the
// vehicle is not treated as stationary.
func (v *StationaryVerifier) IsStationary(ctx context.Context, vehicleID string, at time.Time) bool {
	moving, err := v.moving(ctx, vehicleID, at.Add(-v.lookback), at)
	if err != nil && ctx.Err() != nil {
		// A cancelled caller says nothing about the telemetry backend.
		v.log.Debug("stationary check abandoned", "vehicle", vehicleID, "at", at, "error", err)
		return false
	}
	if err != nil {
		verdict := v.policy == FailOpen
		if verdict {
			metrics.VerifierFailOpen.Inc()
		}
		v.log.Warn("stationary check failed, applying policy",
			"vehicle", vehicleID, "at", at, "policy", v.policy.String(), "stationary", verdict, "error", err)
		return verdict
	}
	return !moving
}

func (v *StationaryVerifier) moving(ctx context.Context, vehicleID string, from, to time.Time) (bool, error) {
	ignition, err := v.q.Diagnostics(ctx, vehicleID, domain.DiagnosticIgnition, from, to)
	if err != nil {
		return false, fmt.Errorf("query ignition: %w", err)
	}
	if n := len(ignition); n > 0 && ignition[n-1].Value != 0 {
		return true, nil
	}

	trips, err := v.q.Trips(ctx, vehicleID, from, to)
	if err != nil {
		return false, fmt.Errorf("query trips: %w", err)
	}
	return len(trips) > 0, nil
}
