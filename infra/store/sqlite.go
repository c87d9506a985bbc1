package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/core/override"
)

// SQLiteStore persists the override audit trail and a regenerable forecast
// cache in a SQLite database. Audit rows are insert-only; there is no
// update or delete path.
type SQLiteStore struct {
	db *sql.DB
}

// AuditQuery filters audit trail reads.
type AuditQuery struct {
	ZoneID string
	Start  time.Time
	End    time.Time
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS override_audit (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER,
        zone_id TEXT,
        action TEXT,
        record TEXT
    );
    CREATE TABLE IF NOT EXISTS forecast_cache (
        zone_id TEXT,
        target_hour INTEGER,
        record TEXT,
        PRIMARY KEY (zone_id, target_hour)
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes one audit entry.
func (s *SQLiteStore) Append(ctx context.Context, e override.AuditEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO override_audit (ts, zone_id, action, record) VALUES (?, ?, ?, ?)`,
		e.At.Unix(), e.ZoneID, e.Action, string(b))
	return err
}

// QueryAudit returns audit entries matching q in chronological order.
func (s *SQLiteStore) QueryAudit(ctx context.Context, q AuditQuery) ([]override.AuditEntry, error) {
	var args []any
	query := `SELECT record FROM override_audit WHERE 1=1`
	if q.ZoneID != "" {
		query += ` AND zone_id = ?`
		args = append(args, q.ZoneID)
	}
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.Unix())
	}
	query += ` ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []override.AuditEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e override.AuditEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// SaveForecasts upserts a batch of forecast points. The cache only speeds
// up dashboard reads after a restart; it can be regenerated at any time.
func (s *SQLiteStore) SaveForecasts(ctx context.Context, points []model.ForecastPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, p := range points {
		b, err := json.Marshal(p)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO forecast_cache (zone_id, target_hour, record) VALUES (?, ?, ?)
             ON CONFLICT(zone_id, target_hour) DO UPDATE SET record = excluded.record`,
			p.ZoneID, p.TargetHour.Unix(), b); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadForecasts returns the cached points for a zone from the given hour on.
func (s *SQLiteStore) LoadForecasts(ctx context.Context, zoneID string, from time.Time) ([]model.ForecastPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM forecast_cache WHERE zone_id = ? AND target_hour >= ? ORDER BY target_hour`,
		zoneID, from.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.ForecastPoint
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p model.ForecastPoint
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal point: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
