package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/step_computer/internal/calibration"
	"github.com/relabs-tech/step_computer/internal/session"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNoCalibration is returned when the calibrations table is empty.
var ErrNoCalibration = errors.New("store: no calibration")

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	SavedAt    time.Time `json:"saved_at"`
	TotalSteps int       `json:"total_steps"`
	EventCount int       `json:"event_count"`
	Duration   float64   `json:"duration"` // seconds
	Phase      string    `json:"phase"`
	Path       string    `json:"path"`
}

// CalibrationRecord is one stored calibration run.
type CalibrationRecord struct {
	ID     int64
	RunAt  time.Time
	Report calibration.Report
}

// SQLiteStore keeps saved-session history and calibration runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			total_steps INTEGER NOT NULL,
			event_count INTEGER NOT NULL,
			duration_s REAL NOT NULL,
			phase TEXT NOT NULL,
			path TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS calibrations (
			id INTEGER PRIMARY KEY,
			run_at TEXT NOT NULL,
			best_threshold REAL NOT NULL,
			best_score REAL NOT NULL,
			results_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_saved_at ON sessions(saved_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertSession records a saved snapshot and the file it was written to.
func (s *SQLiteStore) InsertSession(ctx context.Context, f session.File, path string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, saved_at, total_steps, event_count, duration_s, phase, path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.SessionID,
		f.SavedAt.UTC().Format(time.RFC3339Nano),
		f.Summary.TotalSteps,
		f.Summary.EventCount,
		f.Summary.Duration,
		f.Summary.CurrentPhase.String(),
		path,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListSessions returns the most recently saved sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, saved_at, total_steps, event_count, duration_s, phase, path
		 FROM sessions ORDER BY saved_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var savedAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &savedAt, &r.TotalSteps, &r.EventCount, &r.Duration, &r.Phase, &r.Path); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			return nil, fmt.Errorf("parse saved_at %q: %w", savedAt, err)
		}
		r.SavedAt = t
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertCalibration stores a calibration report.
func (s *SQLiteStore) InsertCalibration(ctx context.Context, at time.Time, r calibration.Report) (int64, error) {
	results, err := json.Marshal(r.Results)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO calibrations (run_at, best_threshold, best_score, results_json) VALUES (?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339Nano), r.BestThreshold, r.BestScore, string(results))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestCalibration returns the most recent run or ErrNoCalibration.
func (s *SQLiteStore) LatestCalibration(ctx context.Context) (*CalibrationRecord, error) {
	var (
		rec     CalibrationRecord
		runAt   string
		results string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_at, best_threshold, best_score, results_json
		 FROM calibrations ORDER BY run_at DESC, id DESC LIMIT 1`,
	).Scan(&rec.ID, &runAt, &rec.Report.BestThreshold, &rec.Report.BestScore, &results)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCalibration
	}
	if err != nil {
		return nil, err
	}
	if rec.RunAt, err = time.Parse(time.RFC3339Nano, runAt); err != nil {
		return nil, fmt.Errorf("parse run_at %q: %w", runAt, err)
	}
	if err := json.Unmarshal([]byte(results), &rec.Report.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return &rec, nil
}
