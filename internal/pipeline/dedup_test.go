package pipeline

import (
	"context"
	"testing"

	"fleet-monitor/fueltheft/internal/domain"
)

func TestMemoryDedup(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		gapMinutes int
		wantSecond bool
	}{
		{"within cooldown", 2, false},
		{"at cooldown boundary", 5, true},
		{"after cooldown", 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewMemoryDedup(DedupCooldown)
			first, err := d.Accept(ctx, "v1", at(0))
			if err != nil || !first {
				t.Fatalf("first alert must be accepted, got %v %v", first, err)
			}
			second, _ := d.Accept(ctx, "v1", at(tt.gapMinutes))
			if second != tt.wantSecond {
				t.Fatalf("second alert after %dm accepted=%v, want %v", tt.gapMinutes, second, tt.wantSecond)
			}
		})
	}
}

func TestMemoryDedupRejectDoesNotExtendCooldown(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDedup(DedupCooldown)

	d.Accept(ctx, "v1", at(0))
	if ok, _ := d.Accept(ctx, "v1", at(4)); ok {
		t.Fatal("expected rejection at +4m")
	}
	// Measured from +0, not from the rejected +4.
	if ok, _ := d.Accept(ctx, "v1", at(6)); !ok {
		t.Fatal("expected acceptance at +6m")
	}
}

func TestMemoryDedupIsPerVehicleAndRetains(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDedup(0)

	d.Accept(ctx, "v1", at(0))
	if ok, _ := d.Accept(ctx, "v2", at(1)); !ok {
		t.Fatal("other vehicle must not be suppressed")
	}

	d.Retain(map[string]domain.Vehicle{"v2": {ID: "v2"}})
	if d.Len() != 1 {
		t.Fatalf("expected 1 entry after Retain, got %d", d.Len())
	}
	if ok, _ := d.Accept(ctx, "v1", at(2)); !ok {
		t.Fatal("evicted vehicle should start fresh")
	}
}
