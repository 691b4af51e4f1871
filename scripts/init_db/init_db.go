package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/fueltheft/internal/config"
	"fleet-monitor/fueltheft/internal/store"
)

func main() {
	demo := flag.Bool("demo", false, "also load a demo fleet with one overnight siphoning event")
	flag.Parse()

	cfg := config.Load()
	dsn := cfg.DatabaseURL()
	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1Migrations(ctx, dsn)
	step2Verify(ctx, conn)
	if *demo {
		step3DemoFleet(ctx, conn)
	}

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func step1Migrations(ctx context.Context, dsn string) {
	fmt.Println("\n── Step 1: Migrations ──────────────────────────")

	if err := store.MigrateTimescale(ctx, dsn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	version, err := store.MigrationVersion(ctx, dsn)
	if err != nil {
		log.Fatalf("Could not read schema version: %v", err)
	}
	fmt.Printf("  ✓ schema at version %d\n", version)
}

func step2Verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	tables := []string{"vehicles", "diagnostic_readings", "vehicle_trips", "fuel_alerts"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertable string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'diagnostic_readings'
	`).Scan(&hypertable)
	if err != nil {
		log.Fatalf("diagnostic_readings is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertable)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('diagnostic_readings', 'vehicle_trips', 'fuel_alerts')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// step3DemoFleet loads three vehicles and the last 6 hours of fuel readings.
// truck_02 loses 30 points over 10 minutes while parked with the ignition off.
func step3DemoFleet(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Demo fleet ──────────────────────────")

	vehicles := []struct{ id, name, serial string }{
		{"truck_01", "Delhi-Jaipur 01", "SN-1001"},
		{"truck_02", "Delhi-Jaipur 02", "SN-1002"},
		{"van_07", "Mumbai-Pune 07", "SN-2007"},
	}
	for _, v := range vehicles {
		_, err := conn.Exec(ctx, `
			INSERT INTO vehicles (vehicle_id, name, serial_number)
			VALUES ($1, $2, $3)
			ON CONFLICT (vehicle_id) DO UPDATE SET name = EXCLUDED.name
		`, v.id, v.name, v.serial)
		if err != nil {
			log.Fatalf("Insert vehicle %s failed: %v", v.id, err)
		}
		fmt.Printf("  ✓ vehicle: %-10s %s\n", v.id, v.name)
	}

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.Add(-6 * time.Hour)
	theftAt := end.Add(-3 * time.Hour)

	rows := make([][]any, 0, 3*6*12+2)
	for _, v := range vehicles {
		level := 80.0
		for ts := start; !ts.After(end); ts = ts.Add(5 * time.Minute) {
			if v.id == "truck_02" && !ts.Before(theftAt) && ts.Before(theftAt.Add(10*time.Minute)) {
				level -= 15
			}
			rows = append(rows, []any{ts, v.id, "fuel_level", level, 28.6139, 77.2090})
		}
	}
	rows = append(rows,
		[]any{start, "truck_02", "ignition", 0.0, nil, nil},
		[]any{start, "van_07", "ignition", 1.0, nil, nil},
	)

	n, err := conn.CopyFrom(ctx,
		pgx.Identifier{"diagnostic_readings"},
		[]string{"ts", "vehicle_id", "diagnostic", "value", "latitude", "longitude"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		log.Fatalf("Load readings failed: %v", err)
	}
	fmt.Printf("  ✓ readings loaded: %d\n", n)
	fmt.Printf("  ✓ truck_02 drops 80 -> 50 at %s\n", theftAt.Format(time.RFC3339))
}
