package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openbagtwo/fbsync/pkg/models"
)

// DB wraps the deployment history journal. The journal is host-side
// bookkeeping only: the deployer never reads it, and a journal failure
// must never fail a deployment.
type DB struct {
	*sql.DB
}

// New opens (creating if necessary) the journal at the given path
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			port TEXT,
			package TEXT,
			project TEXT,
			status TEXT,
			error TEXT,
			files_pushed INTEGER,
			bytes_pushed INTEGER,
			started_at DATETIME,
			duration_ms INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`)
	return err
}

// RecordRun appends one run outcome to the journal
func (db *DB) RecordRun(rec *models.RunRecord) error {
	_, err := db.Exec(`
		INSERT INTO runs (port, package, project, status, error, files_pushed, bytes_pushed, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Port,
		rec.Package,
		rec.Project,
		rec.Status,
		rec.Error,
		rec.FilesPushed,
		rec.BytesPushed,
		rec.StartedAt,
		rec.Duration.Milliseconds(),
	)
	return err
}

// RecentRuns returns the most recent runs, newest first
func (db *DB) RecentRuns(limit int) ([]models.RunRecord, error) {
	rows, err := db.Query(`
		SELECT id, port, package, project, status, error, files_pushed, bytes_pushed, started_at, duration_ms
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var rec models.RunRecord
		var durationMS int64
		err = rows.Scan(
			&rec.ID,
			&rec.Port,
			&rec.Package,
			&rec.Project,
			&rec.Status,
			&rec.Error,
			&rec.FilesPushed,
			&rec.BytesPushed,
			&rec.StartedAt,
			&durationMS,
		)
		if err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate statistics over the whole journal
func (db *DB) GetStats() (*models.RunStats, error) {
	var stats models.RunStats
	err := db.QueryRow(`
		SELECT
			COUNT(*) as total_runs,
			COUNT(CASE WHEN status = ? THEN 1 END) as ok_runs,
			COUNT(CASE WHEN status = ? THEN 1 END) as failed_runs,
			COALESCE(SUM(files_pushed), 0) as total_files,
			COALESCE(SUM(bytes_pushed), 0) as total_bytes
		FROM runs
	`, models.RunStatusOK, models.RunStatusFailed).Scan(
		&stats.TotalRuns,
		&stats.OKRuns,
		&stats.FailedRuns,
		&stats.TotalFiles,
		&stats.TotalBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %v", err)
	}
	return &stats, nil
}
