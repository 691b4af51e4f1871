// Package notify stores accepted alerts and delivers them to subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/metrics"
)

// Repository assigns ids to alerts by storing them.
type Repository interface {
	InsertAlert(ctx context.Context, a domain.Alert) (int64, error)
}

// Publisher delivers a stored alert to one downstream channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, a domain.Alert) error
}

// Fanout is the alert sink: it stores every alert, retrying once, and then
// queues it for the broadcaster. Delivery never fails Emit.
type Fanout struct {
	repo        Repository
	broadcaster *Broadcaster
	retryDelay  time.Duration
	log         log.Logger
}

// NewFanout accepts a nil broadcaster for store-only sinks.
func NewFanout(repo Repository, b *Broadcaster, logger log.Logger) *Fanout {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Fanout{
		repo:        repo,
		broadcaster: b,
		retryDelay:  500 * time.Millisecond,
		log:         logger.WithName("fanout"),
	}
}

func (f *Fanout) Emit(ctx context.Context, a domain.Alert) (domain.Alert, error) {
	id, err := f.repo.InsertAlert(ctx, a)
	if err != nil {
		f.log.Warn("alert store failed, retrying", "vehicle", a.VehicleID, "error", err)
		select {
		case <-ctx.Done():
			return domain.Alert{}, ctx.Err()
		case <-time.After(f.retryDelay):
		}
		id, err = f.repo.InsertAlert(ctx, a)
		if err != nil {
			metrics.AlertPersistFailures.Inc()
			return domain.Alert{}, fmt.Errorf("store alert: %w", err)
		}
	}
	a.ID = id

	if f.broadcaster != nil {
		f.broadcaster.Enqueue(a)
	}
	return a, nil
}

// encode is the wire form shared by every publisher.
func encode(a domain.Alert) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}
	return data, nil
}
