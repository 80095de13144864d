package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bosla-edu/desk/internal/grading"
)

// SaveDraft stores the unsaved grades of one student exam result.
func (s *Store) SaveDraft(ctx context.Context, resultID int64, d grading.Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO grade_drafts (result_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(result_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		resultID, string(payload), time.Now().UTC(),
	)
	return err
}

// LoadDraft returns the stored draft of a result, if any.
func (s *Store) LoadDraft(ctx context.Context, resultID int64) (grading.Draft, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM grade_drafts WHERE result_id = ?`, resultID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return grading.Draft{}, false, nil
	}
	if err != nil {
		return grading.Draft{}, false, err
	}
	var d grading.Draft
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return grading.Draft{}, false, fmt.Errorf("decode draft %d: %w", resultID, err)
	}
	return d, true, nil
}

// DeleteDraft removes the draft of a result.
func (s *Store) DeleteDraft(ctx context.Context, resultID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM grade_drafts WHERE result_id = ?`, resultID)
	return err
}

// DraftCount returns how many unsaved grade drafts are stored.
func (s *Store) DraftCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM grade_drafts`).Scan(&n)
	return n, err
}
