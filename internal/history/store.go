// Package history keeps a local SQLite log of transcription runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	FileName = "transcribe.db"

	StatusOK     = "ok"
	StatusFailed = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	audio_path         TEXT NOT NULL,
	model              TEXT NOT NULL,
	engine             TEXT NOT NULL,
	device             TEXT NOT NULL DEFAULT '',
	compute_type       TEXT NOT NULL DEFAULT '',
	language           TEXT NOT NULL DEFAULT '',
	duration_seconds   REAL NOT NULL DEFAULT 0,
	processing_seconds REAL NOT NULL DEFAULT 0,
	total_segments     INTEGER NOT NULL DEFAULT 0,
	accepted_segments  INTEGER NOT NULL DEFAULT 0,
	skipped_segments   INTEGER NOT NULL DEFAULT 0,
	output_path        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC);
`

type Run struct {
	ID               string
	AudioPath        string
	Model            string
	Engine           string
	Device           string
	ComputeType      string
	Language         string
	Duration         float64
	ProcessingTime   time.Duration
	TotalSegments    int
	AcceptedSegments int
	SkippedSegments  int
	OutputPath       string
	Status           string
	Error            string
	CreatedAt        time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and its parent directory when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=rwc&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores run, filling in ID, CreatedAt and Status when unset, and
// returns the stored ID.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusOK
		if run.Error != "" {
			run.Status = StatusFailed
		}
	}

	const insert = `INSERT INTO runs (
		id, audio_path, model, engine, device, compute_type, language,
		duration_seconds, processing_seconds, total_segments, accepted_segments,
		skipped_segments, output_path, status, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, insert,
		run.ID, run.AudioPath, run.Model, run.Engine, run.Device, run.ComputeType, run.Language,
		run.Duration, run.ProcessingTime.Seconds(), run.TotalSegments, run.AcceptedSegments,
		run.SkippedSegments, run.OutputPath, run.Status, run.Error, run.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert history run: %w", err)
	}
	return run.ID, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	const query = `SELECT
		id, audio_path, model, engine, device, compute_type, language,
		duration_seconds, processing_seconds, total_segments, accepted_segments,
		skipped_segments, output_path, status, error_message, created_at
	FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			processing float64
		)
		if err := rows.Scan(
			&run.ID, &run.AudioPath, &run.Model, &run.Engine, &run.Device, &run.ComputeType, &run.Language,
			&run.Duration, &processing, &run.TotalSegments, &run.AcceptedSegments,
			&run.SkippedSegments, &run.OutputPath, &run.Status, &run.Error, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		run.ProcessingTime = time.Duration(processing * float64(time.Second))
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history rows: %w", err)
	}
	return runs, nil
}
