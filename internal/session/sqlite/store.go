// Package sqlite stores game sessions in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MJE43/arcade-scoregate/internal/session"
)

// Store implements session.Store on an already-migrated SQLite database.
// Timestamps are stored as Unix milliseconds.
type Store struct {
	db     *sql.DB
	policy session.Policy
}

// New creates a SQLite session store.
func New(db *sql.DB, policy session.Policy) *Store {
	return &Store{db: db, policy: policy.Normalize()}
}

// Create issues and persists a new session.
func (s *Store) Create(ctx context.Context, playerIdentity string) (session.Session, error) {
	sess, err := s.policy.Issue(playerIdentity)
	if err != nil {
		return session.Session{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO game_sessions (token, player_identity, seed, created_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.PlayerIdentity, sess.Seed, sess.CreatedAt.UnixMilli())
	if err != nil {
		return session.Session{}, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

// Resolve returns the live session for token, evicting it if it has expired.
func (s *Store) Resolve(ctx context.Context, token string) (session.Session, error) {
	var (
		sess      session.Session
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, player_identity, seed, created_at FROM game_sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.PlayerIdentity, &sess.Seed, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("querying session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdMs).UTC()
	sess.TTL = s.policy.TTL

	if !s.policy.Live(sess) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM game_sessions WHERE token = ?`, token); err != nil {
			return session.Session{}, fmt.Errorf("evicting session: %w", err)
		}
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

// Consume deletes the live session in a single statement so that only one
// caller can observe the row.
func (s *Store) Consume(ctx context.Context, token string) (session.Session, error) {
	var (
		sess      session.Session
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM game_sessions WHERE token = ? AND created_at > ?
		 RETURNING token, player_identity, seed, created_at`,
		token, s.policy.Cutoff().UnixMilli(),
	).Scan(&sess.Token, &sess.PlayerIdentity, &sess.Seed, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("consuming session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdMs).UTC()
	sess.TTL = s.policy.TTL
	return sess, nil
}

// Cleanup removes expired sessions.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM game_sessions WHERE created_at <= ?`, s.policy.Cutoff().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting removed sessions: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the caller owns the database handle.
func (s *Store) Close() error {
	return nil
}

var _ session.Store = (*Store)(nil)
