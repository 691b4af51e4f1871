package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/telemetry"
)

// RegistryCache holds the last successfully loaded vehicle registry.
type RegistryCache struct {
	reg telemetry.Registry
	now func() time.Time

	mu       sync.RWMutex
	vehicles map[string]domain.Vehicle
	loadedAt time.Time
	// onLoad runs after every successful load, outside the lock.
	onLoad []func(map[string]domain.Vehicle)
}

func NewRegistryCache(reg telemetry.Registry) *RegistryCache {
	return &RegistryCache{reg: reg, now: time.Now}
}

// OnLoad registers fn to observe each freshly loaded registry.
func (c *RegistryCache) OnLoad(fn func(map[string]domain.Vehicle)) {
	c.mu.Lock()
	c.onLoad = append(c.onLoad, fn)
	c.mu.Unlock()
}

// Load queries the registry and replaces the cache. On failure the previous
// cache is kept.
func (c *RegistryCache) Load(ctx context.Context) (map[string]domain.Vehicle, error) {
	vehicles, err := c.reg.Vehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vehicle registry: %w", err)
	}
	if vehicles == nil {
		vehicles = map[string]domain.Vehicle{}
	}

	c.mu.Lock()
	c.vehicles = vehicles
	c.loadedAt = c.now()
	hooks := append([]func(map[string]domain.Vehicle){}, c.onLoad...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(vehicles)
	}
	return vehicles, nil
}

// Ensure returns the cached registry, loading it first if it was never loaded.
func (c *RegistryCache) Ensure(ctx context.Context) (map[string]domain.Vehicle, error) {
	c.mu.RLock()
	vehicles := c.vehicles
	c.mu.RUnlock()
	if vehicles != nil {
		return vehicles, nil
	}
	return c.Load(ctx)
}

// Stale reports whether the cache is older than maxAge. A non-positive
// maxAge never goes stale.
func (c *RegistryCache) Stale(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vehicles == nil || c.now().Sub(c.loadedAt) > maxAge
}

// Lookup returns the registry entry or a bare entry carrying only the id.
func (c *RegistryCache) Lookup(id string) domain.Vehicle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.vehicles[id]; ok {
		if v.ID == "" {
			v.ID = id
		}
		return v
	}
	return domain.Vehicle{ID: id}
}

func (c *RegistryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vehicles)
}
