package pipeline

import (
	"sync"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
)

const (
	// LiveRetention is the continuous-mode history horizon.
	LiveRetention = 2 * time.Hour
	// WindowCapacity caps every per-vehicle window.
	WindowCapacity = 500
)

// HistoryStore keeps a bounded, time-ordered window of readings per vehicle.
// A window never holds more than capacity entries nor entries older than
// retention; the oldest go first.
type HistoryStore struct {
	mu        sync.Mutex
	retention time.Duration
	capacity  int
	// The retention horizon is measured back from the newest reading. now,
	// when set, caps that anchor so a reading stamped in the future cannot
	// flush the window. A late backlog is kept.
	now     func() time.Time
	windows map[string][]domain.Reading
}

// NewHistoryStore creates a store. Pass the clock as now for live data and
// nil for historical replays.
func NewHistoryStore(retention time.Duration, capacity int, now func() time.Time) *HistoryStore {
	if capacity <= 0 {
		capacity = WindowCapacity
	}
	return &HistoryStore{
		retention: retention,
		capacity:  capacity,
		now:       now,
		windows:   make(map[string][]domain.Reading),
	}
}

// Append adds r to its vehicle's window, applies eviction and returns a copy
// of the resulting window. Callers deliver readings in timestamp order.
func (h *HistoryStore) Append(r domain.Reading) []domain.Reading {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := append(h.windows[r.VehicleID], r)

	anchor := r.Timestamp
	if h.now != nil {
		if now := h.now(); now.Before(anchor) {
			anchor = now
		}
	}
	cutoff := anchor.Add(-h.retention)

	drop := 0
	for drop < len(w) && w[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(w) - drop - h.capacity; over > 0 {
		drop += over
	}
	if drop > 0 {
		// Copy down so the backing array does not keep evicted readings alive.
		n := copy(w, w[drop:])
		clear(w[n:])
		w = w[:n]
	}
	h.windows[r.VehicleID] = w

	out := make([]domain.Reading, len(w))
	copy(out, w)
	return out
}

// Window returns a copy of a vehicle's window.
func (h *HistoryStore) Window(vehicleID string) []domain.Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := h.windows[vehicleID]
	out := make([]domain.Reading, len(w))
	copy(out, w)
	return out
}

// Len reports the number of readings held for a vehicle.
func (h *HistoryStore) Len(vehicleID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows[vehicleID])
}

// Retain drops the windows of vehicles absent from keep.
func (h *HistoryStore) Retain(keep map[string]domain.Vehicle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.windows {
		if _, ok := keep[id]; !ok {
			delete(h.windows, id)
		}
	}
}

// Vehicles reports how many vehicles currently have a window.
func (h *HistoryStore) Vehicles() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}
