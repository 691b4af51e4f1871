package pipeline

import (
	"context"
	"sync"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
)

// DedupCooldown is the minimum spacing between accepted alerts of one vehicle.
const DedupCooldown = 5 * time.Minute

// DedupGate suppresses repeat alerts. Accept records at as the vehicle's last
// accepted alert only when it returns true.
type DedupGate interface {
	Accept(ctx context.Context, vehicleID string, at time.Time) (bool, error)
}

// MemoryDedup is the in-process DedupGate.
type MemoryDedup struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
}

func NewMemoryDedup(cooldown time.Duration) *MemoryDedup {
	if cooldown <= 0 {
		cooldown = DedupCooldown
	}
	return &MemoryDedup{cooldown: cooldown, last: make(map[string]time.Time)}
}

func (d *MemoryDedup) Accept(_ context.Context, vehicleID string, at time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.last[vehicleID]; ok && at.Sub(prev) < d.cooldown {
		return false, nil
	}
	d.last[vehicleID] = at
	return true, nil
}

// Retain forgets vehicles that left the registry.
func (d *MemoryDedup) Retain(keep map[string]domain.Vehicle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.last {
		if _, ok := keep[id]; !ok {
			delete(d.last, id)
		}
	}
}

func (d *MemoryDedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}
