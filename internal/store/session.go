package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/bosla-edu/desk/internal/api"
)

// APISession is the stored sign-in of the desk against the remote API.
type APISession struct {
	Token     string
	APIURL    string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// SaveToken stores the API bearer token, replacing any previous one. A zero
// ttl keeps it until Logout.
func (s *Store) SaveToken(ctx context.Context, token, apiURL string, ttl time.Duration) error {
	now := time.Now().UTC()
	var expires *time.Time
	if ttl > 0 {
		e := now.Add(ttl)
		expires = &e
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_session (id, token, api_url, created_at, expires_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, api_url = excluded.api_url,
		 created_at = excluded.created_at, expires_at = excluded.expires_at`,
		token, apiURL, now, expires,
	)
	return err
}

// Session returns the stored sign-in, or nil when there is none or it expired.
func (s *Store) Session(ctx context.Context) (*APISession, error) {
	var sess APISession
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT token, api_url, created_at, expires_at FROM api_session WHERE id = 1`,
	).Scan(&sess.Token, &sess.APIURL, &sess.CreatedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		sess.ExpiresAt = &expires.Time
		if time.Now().After(expires.Time) {
			if err := s.Logout(ctx); err != nil {
				slog.Warn("failed to clear expired api token", "error", err)
			}
			return nil, nil
		}
	}
	return &sess, nil
}

// Token implements api.TokenSource. It is read on every API call so a new
// login takes effect without restarting the desk.
func (s *Store) Token(ctx context.Context) (string, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil || sess.Token == "" {
		return "", api.ErrNoToken
	}
	return sess.Token, nil
}

// Logout removes the stored token.
func (s *Store) Logout(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_session`)
	return err
}
