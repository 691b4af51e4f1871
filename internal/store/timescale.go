package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/fueltheft/internal/config"
	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/telemetry"
)

// TimescaleStore reads fleet telemetry from TimescaleDB and keeps the alert
// history there. It implements telemetry.Source.
type TimescaleStore struct {
	pool           *pgxpool.Pool
	feedLimit      int
	resyncLookback time.Duration
	now            func() time.Time
}

var _ telemetry.Source = (*TimescaleStore)(nil)

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{
		pool:           pool,
		feedLimit:      cfg.FeedBatchLimit,
		resyncLookback: cfg.ResyncLookback(),
		now:            time.Now,
	}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *TimescaleStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *TimescaleStore) Vehicles(ctx context.Context) (map[string]domain.Vehicle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vehicle_id, name, serial_number
		FROM vehicles
		WHERE active
	`)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Vehicle)
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.SerialNumber); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

// FetchFeed returns fuel readings with a sequence number above cursor. The
// cursor is the decimal sequence of the last reading handed out. An empty
// cursor resyncs from the lookback horizon; a cursor the table cannot have
// issued fails with telemetry.ErrVersionMismatch.
func (s *TimescaleStore) FetchFeed(ctx context.Context, cursor string) (telemetry.FeedPage, error) {
	var head int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM diagnostic_readings`,
	).Scan(&head); err != nil {
		return telemetry.FeedPage{}, fmt.Errorf("read feed head: %w", err)
	}

	var (
		rows pgx.Rows
		err  error
		last int64
	)
	if cursor == "" {
		last = head
		rows, err = s.pool.Query(ctx, `
			SELECT seq, vehicle_id, ts, value, latitude, longitude
			FROM diagnostic_readings
			WHERE diagnostic = $1 AND ts >= $2
			ORDER BY seq
			LIMIT $3
		`, string(domain.DiagnosticFuelLevel), s.now().Add(-s.resyncLookback), s.feedLimit)
	} else {
		last, err = strconv.ParseInt(cursor, 10, 64)
		if err != nil || last < 0 || last > head {
			return telemetry.FeedPage{}, fmt.Errorf("cursor %q against head %d: %w", cursor, head, telemetry.ErrVersionMismatch)
		}
		rows, err = s.pool.Query(ctx, `
			SELECT seq, vehicle_id, ts, value, latitude, longitude
			FROM diagnostic_readings
			WHERE diagnostic = $1 AND seq > $2
			ORDER BY seq
			LIMIT $3
		`, string(domain.DiagnosticFuelLevel), last, s.feedLimit)
	}
	if err != nil {
		return telemetry.FeedPage{}, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var (
		page    telemetry.FeedPage
		lastSeq int64
		seen    bool
	)
	for rows.Next() {
		var (
			seq      int64
			r        domain.RawReading
			lat, lng *float64
		)
		if err := rows.Scan(&seq, &r.VehicleID, &r.Timestamp, &r.Value, &lat, &lng); err != nil {
			return telemetry.FeedPage{}, fmt.Errorf("scan feed reading: %w", err)
		}
		r.Position = position(lat, lng)
		page.Readings = append(page.Readings, r)
		lastSeq, seen = seq, true
	}
	if err := rows.Err(); err != nil {
		return telemetry.FeedPage{}, fmt.Errorf("read feed: %w", err)
	}

	if seen {
		last = lastSeq
		// A short resync page saw everything up to head, including
		// non-fuel rows past its last reading.
		if cursor == "" && len(page.Readings) < s.feedLimit {
			last = max(lastSeq, head)
		}
	}
	page.Cursor = strconv.FormatInt(last, 10)
	return page, nil
}

func (s *TimescaleStore) Diagnostics(ctx context.Context, vehicleID string, kind domain.DiagnosticKind, from, to time.Time) ([]domain.RawReading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vehicle_id, ts, value, latitude, longitude
		FROM diagnostic_readings
		WHERE vehicle_id = $1 AND diagnostic = $2 AND ts BETWEEN $3 AND $4
		ORDER BY ts
	`, vehicleID, string(kind), from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s for %s: %w", kind, vehicleID, err)
	}
	defer rows.Close()

	var out []domain.RawReading
	for rows.Next() {
		var (
			r        domain.RawReading
			lat, lng *float64
		)
		if err := rows.Scan(&r.VehicleID, &r.Timestamp, &r.Value, &lat, &lng); err != nil {
			return nil, fmt.Errorf("scan %s reading: %w", kind, err)
		}
		r.Position = position(lat, lng)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trips returns trips overlapping [from, to]. A trip still in progress has
// no stop time and is treated as ending now.
func (s *TimescaleStore) Trips(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.Trip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vehicle_id, started_at, COALESCE(stopped_at, NOW())
		FROM vehicle_trips
		WHERE vehicle_id = $1
		  AND started_at <= $3
		  AND (stopped_at IS NULL OR stopped_at >= $2)
		ORDER BY started_at
	`, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query trips for %s: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []domain.Trip
	for rows.Next() {
		var t domain.Trip
		if err := rows.Scan(&t.VehicleID, &t.Start, &t.Stop); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertAlert stores a and returns its id.
func (s *TimescaleStore) InsertAlert(ctx context.Context, a domain.Alert) (int64, error) {
	query := `
		INSERT INTO fuel_alerts
			(vehicle_id, vehicle_name, severity, fuel_drop_percent, previous_level,
			 current_level, duration_minutes, alert_at, location, historical)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	var id int64
	err := s.pool.QueryRow(
		ctx,
		query,
		a.VehicleID,
		a.VehicleName,
		string(a.Severity),
		a.FuelDropPercent,
		a.PreviousLevel,
		a.CurrentLevel,
		a.DurationMinutes,
		a.Timestamp,
		a.Location,
		a.Historical,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

// ListAlerts returns the newest alerts first.
func (s *TimescaleStore) ListAlerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, vehicle_id, vehicle_name, severity, fuel_drop_percent, previous_level,
		       current_level, duration_minutes, alert_at, location, historical
		FROM fuel_alerts
		WHERE $1::boolean IS NULL OR historical = $1
		ORDER BY id DESC
		LIMIT $2
	`, f.Historical, f.limit())
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Alert, error) {
		var (
			a        domain.Alert
			severity string
		)
		err := row.Scan(&a.ID, &a.VehicleID, &a.VehicleName, &severity, &a.FuelDropPercent,
			&a.PreviousLevel, &a.CurrentLevel, &a.DurationMinutes, &a.Timestamp, &a.Location, &a.Historical)
		a.Severity = domain.Severity(severity)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan alerts: %w", err)
	}
	return alerts, nil
}

func position(lat, lng *float64) *domain.Position {
	if lat == nil || lng == nil {
		return nil
	}
	return &domain.Position{Latitude: *lat, Longitude: *lng}
}
