package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"fleet-monitor/fueltheft/internal/config"
	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rs.Close()
	fmt.Println("✓ Connected")

	step1APIKeys(ctx, rs)
	step2Settings(ctx, rs)
	step3Verify(ctx, rs)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/fueltheft serve")
}

// Key pattern: fueltheft:auth:{api_key} -> owner. Keys never expire.
func step1APIKeys(ctx context.Context, rs *store.RedisStore) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	apiKeys := map[string]string{
		"ops_dashboard_key": "ops_dashboard",
		"fleet_manager_key": "fleet_manager",
		"test_key":          "test",
	}
	for key, owner := range apiKeys {
		if err := rs.SetAPIKey(ctx, key, owner); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-25s → %s\n", key, owner)
	}
}

// Existing settings are left alone so operator changes survive a reseed.
func step2Settings(ctx context.Context, rs *store.RedisStore) {
	fmt.Println("\n── Step 2: Detection settings ──────────────────")

	data, err := rs.LoadSettings(ctx)
	if err != nil {
		log.Fatalf("Failed to read settings: %v", err)
	}
	if len(data) > 0 {
		fmt.Printf("  ✓ kept existing settings: %s\n", data)
		return
	}

	data, err = json.Marshal(domain.DefaultSettings())
	if err != nil {
		log.Fatalf("Failed to encode settings: %v", err)
	}
	if err := rs.SaveSettings(ctx, data); err != nil {
		log.Fatalf("Failed to save settings: %v", err)
	}
	fmt.Printf("  ✓ default settings: %s\n", data)
}

func step3Verify(ctx context.Context, rs *store.RedisStore) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	keys, err := rs.Client().Keys(ctx, store.APIKeyPattern()).Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	owner, err := rs.GetAPIKey(ctx, "test_key")
	if err != nil || owner == "" {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: test_key → %s\n", owner)
}
