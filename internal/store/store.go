// Package store is the desk's local sqlite database: the API session token,
// preferences, unsaved grade drafts and the question import log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS api_session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		api_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS desk_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grade_drafts (
		result_id INTEGER PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		exam_id INTEGER NOT NULL DEFAULT 0,
		questions INTEGER NOT NULL DEFAULT 0,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ImportRecord is the last import of one question file.
type ImportRecord struct {
	Path       string
	Hash       string
	ExamID     int64
	Questions  int
	ImportedAt time.Time
}

// GetImport returns the import record of path, or nil if it was never imported.
func (s *Store) GetImport(ctx context.Context, path string) (*ImportRecord, error) {
	var r ImportRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT path, hash, exam_id, questions, imported_at FROM imported_files WHERE path = ?`, path,
	).Scan(&r.Path, &r.Hash, &r.ExamID, &r.Questions, &r.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordImport upserts the import record of a question file.
func (s *Store) RecordImport(ctx context.Context, r ImportRecord) error {
	if r.ImportedAt.IsZero() {
		r.ImportedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, exam_id, questions, imported_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, exam_id = excluded.exam_id,
		 questions = excluded.questions, imported_at = excluded.imported_at`,
		r.Path, r.Hash, r.ExamID, r.Questions, r.ImportedAt,
	)
	return err
}
