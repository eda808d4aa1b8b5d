package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/splitgate/splitgate/internal/experiment"
)

// SQLiteStore is the server-side Store backend. Assignments carry an
// explicit expiry so the 1-year cookie TTL has a server-side equivalent.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
}

// NewSQLiteStore opens (or creates) the database at path. Retention
// bounds how long event-log rows are kept by PruneExpired; a non-positive
// value defaults to 90 days.
func NewSQLiteStore(path string, retention time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &SQLiteStore{db: db, retention: retention}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assignments (
		user_id        TEXT NOT NULL,
		experiment_id  TEXT NOT NULL,
		variant_id     TEXT NOT NULL,
		assigned_at    DATETIME NOT NULL,
		expires_at     DATETIME NOT NULL,
		PRIMARY KEY (user_id, experiment_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id             TEXT PRIMARY KEY,
		kind           TEXT NOT NULL,
		experiment_id  TEXT NOT NULL,
		variant_id     TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		path           TEXT,
		value          REAL DEFAULT 0,
		timestamp      DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_user ON assignments(user_id);
	CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment_id, kind);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(userID, experimentID string) (string, error) {
	var variantID string
	err := s.db.QueryRow(
		`SELECT variant_id FROM assignments
		 WHERE user_id = ? AND experiment_id = ? AND expires_at > ?`,
		userID, experimentID, time.Now().UTC(),
	).Scan(&variantID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read assignment: %w", err)
	}
	return variantID, nil
}

func (s *SQLiteStore) Set(userID, experimentID, variantID string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO assignments (user_id, experiment_id, variant_id, assigned_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, experiment_id) DO UPDATE SET
		   variant_id = excluded.variant_id,
		   expires_at = excluded.expires_at`,
		userID, experimentID, variantID, now, now.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to store assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAssignments(userID string) ([]*experiment.Assignment, error) {
	rows, err := s.db.Query(
		`SELECT experiment_id, variant_id, assigned_at FROM assignments
		 WHERE user_id = ? AND expires_at > ?
		 ORDER BY assigned_at`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*experiment.Assignment
	for rows.Next() {
		a := &experiment.Assignment{UserID: userID}
		if err := rows.Scan(&a.ExperimentID, &a.VariantID, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertEvent(e *Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (id, kind, experiment_id, variant_id, user_id, path, value, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.ExperimentID, e.VariantID, e.UserID, e.Path, e.Value, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(experimentID string, kind EventKind, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, kind, experiment_id, variant_id, user_id, path, value, timestamp
		 FROM events WHERE experiment_id = ? AND kind = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		experimentID, string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var k string
		if err := rows.Scan(&e.ID, &k, &e.ExperimentID, &e.VariantID, &e.UserID, &e.Path, &e.Value, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = EventKind(k)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns per-variant event counts for an experiment, the
// raw material for downstream results analysis.
func (s *SQLiteStore) CountEvents(experimentID string, kind EventKind) (map[string]int64, error) {
	rows, err := s.db.Query(
		`SELECT variant_id, COUNT(*) FROM events
		 WHERE experiment_id = ? AND kind = ?
		 GROUP BY variant_id`,
		experimentID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var variantID string
		var count int64
		if err := rows.Scan(&variantID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[variantID] = count
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneExpired() (int64, error) {
	now := time.Now().UTC()
	var removed int64

	res, err := s.db.Exec(`DELETE FROM assignments WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to prune assignments: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = s.db.Exec(`DELETE FROM events WHERE timestamp <= ?`, now.Add(-s.retention))
	if err != nil {
		return removed, fmt.Errorf("failed to prune events: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}
	return removed, nil
}

func (s *SQLiteStore) GetStats() (*Stats, error) {
	stats := &Stats{}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM assignments`).Scan(&stats.Assignments); err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = 'exposure'`).Scan(&stats.Exposures); err != nil {
		return nil, fmt.Errorf("failed to count exposures: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = 'conversion'`).Scan(&stats.Conversions); err != nil {
		return nil, fmt.Errorf("failed to count conversions: %w", err)
	}
	return stats, nil
}
