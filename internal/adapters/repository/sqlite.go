package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/calmmind/internal/domain/model"
)

const (
	backendSQLite = "sqlite"
	memoryDSN     = ":memory:"
)

type migration struct {
	version     int
	description string
	up          string
}

// migrations are applied in order; append new ones with the next version.
var migrations = []migration{
	{
		version:     1,
		description: "cohort stats and submissions",
		up: `
CREATE TABLE IF NOT EXISTS cohort_stats (
    cohort_id TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    count INTEGER NOT NULL,
    avg_screen_minutes REAL NOT NULL,
    avg_longest_session REAL NOT NULL,
    avg_pressure_drop REAL NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS submissions (
    id TEXT PRIMARY KEY,
    cohort_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    response TEXT NOT NULL,
    received_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_cohort ON submissions(cohort_id);`,
	},
}

// SQLiteStore is a file-backed CohortStore and AuditSink. The version
// column guards every update.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite creates or opens the database at path and migrates it.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// pointing at one database.
	conn.SetMaxOpenConns(1)

	if path != memoryDSN {
		if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}
	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &SQLiteStore{conn: conn, path: path}, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	var current int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("stamping version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Read returns the stats and version of cohortID.
func (s *SQLiteStore) Read(ctx context.Context, cohortID string) (model.CohortStats, int64, bool, error) {
	defer observe(backendSQLite, "read", time.Now())

	var (
		st      model.CohortStats
		version int64
	)
	err := s.conn.QueryRowContext(ctx, `
SELECT version, count, avg_screen_minutes, avg_longest_session, avg_pressure_drop
FROM cohort_stats WHERE cohort_id = ?`, cohortID).
		Scan(&version, &st.Count, &st.AvgScreenMinutes, &st.AvgLongestSession, &st.AvgPressureDrop)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CohortStats{}, 0, false, nil
	}
	if err != nil {
		return model.CohortStats{}, 0, false, fmt.Errorf("sqlite read %s: %w", cohortID, err)
	}
	return st, version, true, nil
}

// Commit inserts the first version of a cohort or updates the row whose
// version still equals expectedVersion.
func (s *SQLiteStore) Commit(ctx context.Context, cohortID string, expectedVersion int64, next model.CohortStats) error {
	defer observe(backendSQLite, "commit", time.Now())

	now := time.Now().UTC().Format(time.RFC3339)
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.conn.ExecContext(ctx, `
INSERT INTO cohort_stats (cohort_id, version, count, avg_screen_minutes, avg_longest_session, avg_pressure_drop, updated_at)
VALUES (?, 1, ?, ?, ?, ?, ?)
ON CONFLICT(cohort_id) DO NOTHING`,
			cohortID, next.Count, next.AvgScreenMinutes, next.AvgLongestSession, next.AvgPressureDrop, now)
	} else {
		res, err = s.conn.ExecContext(ctx, `
UPDATE cohort_stats
SET version = ?, count = ?, avg_screen_minutes = ?, avg_longest_session = ?, avg_pressure_drop = ?, updated_at = ?
WHERE cohort_id = ? AND version = ?`,
			expectedVersion+1, next.Count, next.AvgScreenMinutes, next.AvgLongestSession, next.AvgPressureDrop, now,
			cohortID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("sqlite commit %s: %w", cohortID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite commit %s: %w", cohortID, err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Snapshot returns every stored cohort.
func (s *SQLiteStore) Snapshot(ctx context.Context) (map[string]model.CohortStats, error) {
	defer observe(backendSQLite, "snapshot", time.Now())

	rows, err := s.conn.QueryContext(ctx, `
SELECT cohort_id, count, avg_screen_minutes, avg_longest_session, avg_pressure_drop FROM cohort_stats`)
	if err != nil {
		return nil, fmt.Errorf("sqlite snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.CohortStats)
	for rows.Next() {
		var (
			id string
			st model.CohortStats
		)
		if err := rows.Scan(&id, &st.Count, &st.AvgScreenMinutes, &st.AvgLongestSession, &st.AvgPressureDrop); err != nil {
			return nil, fmt.Errorf("sqlite snapshot: %w", err)
		}
		out[id] = st
	}
	return out, rows.Err()
}

// WriteSubmission stores rec with its payload and response as JSON.
func (s *SQLiteStore) WriteSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	defer observe(backendSQLite, "audit", time.Now())

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	response, err := json.Marshal(rec.Response)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
INSERT INTO submissions (id, cohort_id, payload, response, received_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Payload.CohortID, string(payload), string(response), rec.ReceivedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite audit %s: %w", rec.ID, err)
	}
	return nil
}

// Submissions returns the audit records for cohortID, oldest first.
func (s *SQLiteStore) Submissions(ctx context.Context, cohortID string) ([]model.SubmissionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, payload, response, received_at FROM submissions WHERE cohort_id = ? ORDER BY received_at, id`, cohortID)
	if err != nil {
		return nil, fmt.Errorf("sqlite submissions: %w", err)
	}
	defer rows.Close()

	var out []model.SubmissionRecord
	for rows.Next() {
		var (
			rec                         model.SubmissionRecord
			payload, response, received string
		)
		if err := rows.Scan(&rec.ID, &payload, &response, &received); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(response), &rec.Response); err != nil {
			return nil, err
		}
		if rec.ReceivedAt, err = time.Parse(time.RFC3339Nano, received); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
