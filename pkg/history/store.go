// Package history persists playback sessions and pipeline metrics
// snapshots to SQLite, with scheduled retention sweeping.
package history

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/latoulicious/Kanade/pkg/pipeline"
)

// PlaybackRecord is one finished (or aborted) playback session.
type PlaybackRecord struct {
	ID         int64
	URL        string
	Title      string
	Artist     string
	StartedAt  time.Time
	FinishedAt time.Time
	Skipped    bool
	ErrorText  string
}

// Store is the SQLite-backed history store.
type Store struct {
	db     *sql.DB
	logger pipeline.Logger
}

// Open opens (creating if necessary) the history database at path.
func Open(path string, logger pipeline.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path must not be empty")
	}
	if logger == nil {
		logger = pipeline.NullLogger()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "opening history database")
	}

	s := &Store{db: db, logger: logger.With(pipeline.String("component", "history"))}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating history database")
	}
	return s, nil
}

// migrate creates the schema.
func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS playback_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			artist TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			skipped INTEGER NOT NULL DEFAULT 0,
			error_text TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_playback_history_started
			ON playback_history(started_at);`,
		`CREATE TABLE IF NOT EXISTS metrics_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			value REAL NOT NULL,
			tags TEXT NOT NULL DEFAULT '{}',
			recorded_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_snapshots_recorded
			ON metrics_snapshots(recorded_at);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_snapshots_pipeline
			ON metrics_snapshots(pipeline_id);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "executing migration")
		}
	}
	return nil
}

// RecordPlayback inserts one playback session.
func (s *Store) RecordPlayback(rec *PlaybackRecord) error {
	if rec == nil {
		return errors.New("nil playback record")
	}

	result, err := s.db.Exec(
		`INSERT INTO playback_history
			(url, title, artist, started_at, finished_at, skipped, error_text)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.URL, rec.Title, rec.Artist,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		boolToInt(rec.Skipped), rec.ErrorText,
	)
	if err != nil {
		return errors.Wrap(err, "inserting playback record")
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// RecentPlaybacks returns the latest sessions, newest first.
func (s *Store) RecentPlaybacks(limit int) ([]*PlaybackRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, url, title, artist, started_at, finished_at, skipped, error_text
			FROM playback_history
			ORDER BY started_at DESC
			LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying playback history")
	}
	defer rows.Close()

	var records []*PlaybackRecord
	for rows.Next() {
		rec := &PlaybackRecord{}
		var skipped int
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Artist,
			&rec.StartedAt, &rec.FinishedAt, &skipped, &rec.ErrorText); err != nil {
			return nil, errors.Wrap(err, "scanning playback record")
		}
		rec.Skipped = skipped != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordMetrics persists one pipeline metrics snapshot.
func (s *Store) RecordMetrics(pipelineID string, snapshot map[string]pipeline.Metric) error {
	if len(snapshot) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning metrics transaction")
	}

	stmt, err := tx.Prepare(
		`INSERT INTO metrics_snapshots
			(pipeline_id, metric_name, metric_type, value, tags, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "preparing metrics insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, m := range snapshot {
		tags := "{}"
		if len(m.Tags) > 0 {
			if data, err := json.Marshal(m.Tags); err == nil {
				tags = string(data)
			}
		}
		if _, err := stmt.Exec(pipelineID, m.Name, m.Type.String(), m.Value, tags, now); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "inserting metric")
		}
	}
	return errors.Wrap(tx.Commit(), "committing metrics snapshot")
}

// MetricCount returns the number of stored metric rows, for
// introspection and tests.
func (s *Store) MetricCount() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM metrics_snapshots`).Scan(&n)
	return n, errors.Wrap(err, "counting metrics")
}

// DeleteOlderThan drops playback and metric rows older than the cutoff
// and returns how many rows went away.
func (s *Store) DeleteOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC()

	var total int64
	res, err := s.db.Exec(`DELETE FROM playback_history WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "deleting old playback rows")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.Exec(`DELETE FROM metrics_snapshots WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return total, errors.Wrap(err, "deleting old metric rows")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
