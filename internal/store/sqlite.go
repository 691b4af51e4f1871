package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"fleet-monitor/fueltheft/internal/domain"
)

const (
	settingsKey = "settings"
	cursorKey   = "feed_cursor"
)

// SQLiteStore keeps alert history, settings and the feed cursor in a single
// SQLite file. It backs deployments without TimescaleDB for persistence.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY and keeps
	// an in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if err := migrate(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, a domain.Alert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fuel_alerts (
			vehicle_id, vehicle_name, severity, fuel_drop_percent, previous_level,
			current_level, duration_minutes, alert_at, location, historical, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.VehicleID,
		a.VehicleName,
		string(a.Severity),
		a.FuelDropPercent,
		a.PreviousLevel,
		a.CurrentLevel,
		a.DurationMinutes,
		a.Timestamp.UnixMilli(),
		a.Location,
		boolToInt(a.Historical),
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read alert id: %w", err)
	}
	return id, nil
}

// ListAlerts returns the newest alerts first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, vehicle_id, vehicle_name, severity, fuel_drop_percent, previous_level,
		       current_level, duration_minutes, alert_at, location, historical
		FROM fuel_alerts`
	var args []any
	if f.Historical != nil {
		query += ` WHERE historical = ?`
		args = append(args, boolToInt(*f.Historical))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			a          domain.Alert
			severity   string
			alertAt    int64
			historical int
		)
		if err := rows.Scan(&a.ID, &a.VehicleID, &a.VehicleName, &severity, &a.FuelDropPercent,
			&a.PreviousLevel, &a.CurrentLevel, &a.DurationMinutes, &alertAt, &a.Location, &historical); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = domain.Severity(severity)
		a.Timestamp = time.UnixMilli(alertAt).UTC()
		a.Historical = historical != 0
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// LoadSettings returns the stored settings blob, or nil when none was saved.
func (s *SQLiteStore) LoadSettings(ctx context.Context) ([]byte, error) {
	v, err := s.get(ctx, settingsKey)
	if err != nil || v == "" {
		return nil, err
	}
	return []byte(v), nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, data []byte) error {
	return s.put(ctx, settingsKey, string(data))
}

func (s *SQLiteStore) LoadCursor(ctx context.Context) (string, error) {
	return s.get(ctx, cursorKey)
}

// SaveCursor stores cursor; an empty cursor removes it.
func (s *SQLiteStore) SaveCursor(ctx context.Context, cursor string) error {
	if cursor == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, cursorKey); err != nil {
			return fmt.Errorf("clear cursor: %w", err)
		}
		return nil
	}
	return s.put(ctx, cursorKey, cursor)
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
