package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

// Prefs are the desk preferences kept between runs.
type Prefs struct {
	Lang          string
	LectureID     int64
	PromptVariant string
}

// SetMetadata upserts a key-value pair in the desk_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO desk_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM desk_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetPrefs stores all Prefs fields as metadata rows.
func (s *Store) SetPrefs(ctx context.Context, p Prefs) error {
	pairs := []struct{ k, v string }{
		{"lang", p.Lang},
		{"lecture_id", strconv.FormatInt(p.LectureID, 10)},
		{"prompt_variant", p.PromptVariant},
	}
	for _, kv := range pairs {
		if err := s.SetMetadata(ctx, kv.k, kv.v); err != nil {
			return err
		}
	}
	return nil
}

// GetPrefs reads all Prefs fields from metadata.
func (s *Store) GetPrefs(ctx context.Context) (Prefs, error) {
	var p Prefs
	var err error

	if p.Lang, err = s.GetMetadata(ctx, "lang"); err != nil {
		return p, err
	}
	if p.PromptVariant, err = s.GetMetadata(ctx, "prompt_variant"); err != nil {
		return p, err
	}
	lid, err := s.GetMetadata(ctx, "lecture_id")
	if err != nil {
		return p, err
	}
	if lid != "" {
		p.LectureID, err = strconv.ParseInt(lid, 10, 64)
		if err != nil {
			return p, err
		}
	}
	return p, nil
}
