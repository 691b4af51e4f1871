package app

import (
	"context"
	"fmt"

	"fleet-monitor/fueltheft/internal/config"
	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/notify"
	"fleet-monitor/fueltheft/internal/pipeline"
	"fleet-monitor/fueltheft/internal/store"
	"fleet-monitor/fueltheft/internal/telemetry"
)

// alertStore persists and lists alerts.
type alertStore interface {
	notify.Repository
	ListAlerts(ctx context.Context, f store.AlertFilter) ([]domain.Alert, error)
}

// stateStore keeps the settings blob and the feed cursor.
type stateStore interface {
	pipeline.SettingsStore
	pipeline.CursorStore
}

// backends is every external resource one command needs.
type backends struct {
	timescale *store.TimescaleStore
	sqlite    *store.SQLiteStore
	redis     *store.RedisStore

	source telemetry.Source
	alerts alertStore
	state  stateStore
	dedup  pipeline.DedupGate

	closers []func()
}

type need struct {
	telemetry bool
	alerts    bool
	state     bool
	dedup     bool
	// redis connects Redis when configured even if nothing requires it.
	redis bool
}

// open connects what n asks for according to the configured backends.
//
// Timescale is the only telemetry source. Alert history lives in Timescale or
// SQLite. Settings and the feed cursor live in Redis next to Timescale, or in
// SQLite when running standalone. Redis is optional otherwise.
func open(ctx context.Context, cfg *config.Config, n need) (*backends, error) {
	b := &backends{}
	sqliteMode := cfg.StoreBackend == config.StoreSQLite

	if n.telemetry || (n.alerts && !sqliteMode) {
		ts, err := store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.timescale = ts
		b.closers = append(b.closers, ts.Close)
		b.source = telemetry.NewLimited(ts, cfg.TelemetryQPS, cfg.TelemetryBurst)
	}

	if sqliteMode && (n.alerts || n.state) {
		sq, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sqlite = sq
		b.closers = append(b.closers, func() { _ = sq.Close() })
	}

	redisRequired := (n.state && !sqliteMode) || (n.dedup && cfg.DedupBackend == config.DedupRedis)
	if cfg.RedisAddr != "" && (redisRequired || n.redis) {
		rs, err := store.NewRedisStore(ctx, cfg)
		switch {
		case err == nil:
			b.redis = rs.WithCooldown(pipeline.DedupCooldown)
			b.closers = append(b.closers, func() { _ = rs.Close() })
		case redisRequired:
			b.Close()
			return nil, err
		default:
			log.Warn("redis unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
		}
	}
	if redisRequired && b.redis == nil {
		b.Close()
		return nil, fmt.Errorf("redis is required but REDIS_ADDR is empty")
	}

	if sqliteMode {
		if b.sqlite != nil {
			b.alerts = b.sqlite
			b.state = b.sqlite
		}
	} else {
		if b.timescale != nil {
			b.alerts = b.timescale
		}
		if b.redis != nil {
			b.state = b.redis
		}
	}

	if n.dedup && cfg.DedupBackend == config.DedupRedis {
		b.dedup = b.redis
	}
	return b, nil
}

// Close releases resources in reverse order of acquisition.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
