// Package postgres stores game sessions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MJE43/arcade-scoregate/internal/session"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var sessionColumns = []string{"token", "player_identity", "seed", "created_at"}

const returning = "RETURNING token, player_identity, seed, created_at"

// Store implements session.Store using PostgreSQL.
type Store struct {
	db     *sql.DB
	policy session.Policy
}

// New creates a PostgreSQL session store.
func New(db *sql.DB, policy session.Policy) *Store {
	return &Store{db: db, policy: policy.Normalize()}
}

// Create issues and persists a new session.
func (s *Store) Create(ctx context.Context, playerIdentity string) (session.Session, error) {
	sess, err := s.policy.Issue(playerIdentity)
	if err != nil {
		return session.Session{}, err
	}

	query, args, err := psq.Insert("game_sessions").
		Columns(sessionColumns...).
		Values(sess.Token, sess.PlayerIdentity, sess.Seed, sess.CreatedAt).
		ToSql()
	if err != nil {
		return session.Session{}, fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return session.Session{}, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

// Resolve returns the live session for token, evicting it if it has expired.
func (s *Store) Resolve(ctx context.Context, token string) (session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("game_sessions").
		Where(sq.Eq{"token": token}).
		ToSql()
	if err != nil {
		return session.Session{}, fmt.Errorf("building select: %w", err)
	}

	sess, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return session.Session{}, err
	}
	if !s.policy.Live(sess) {
		if err := s.delete(ctx, token); err != nil {
			return session.Session{}, err
		}
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

// Consume deletes the live session in a single statement so that only one
// caller can observe the row.
func (s *Store) Consume(ctx context.Context, token string) (session.Session, error) {
	query, args, err := psq.Delete("game_sessions").
		Where(sq.Eq{"token": token}).
		Where(sq.Gt{"created_at": s.policy.Cutoff()}).
		Suffix(returning).
		ToSql()
	if err != nil {
		return session.Session{}, fmt.Errorf("building consume: %w", err)
	}
	return s.scan(s.db.QueryRowContext(ctx, query, args...))
}

// Cleanup removes expired sessions.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	query, args, err := psq.Delete("game_sessions").
		Where(sq.LtOrEq{"created_at": s.policy.Cutoff()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building cleanup: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
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

func (s *Store) delete(ctx context.Context, token string) error {
	query, args, err := psq.Delete("game_sessions").Where(sq.Eq{"token": token}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("evicting session: %w", err)
	}
	return nil
}

func (s *Store) scan(row *sql.Row) (session.Session, error) {
	var sess session.Session
	err := row.Scan(&sess.Token, &sess.PlayerIdentity, &sess.Seed, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("scanning session: %w", err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.TTL = s.policy.TTL
	return sess, nil
}

var _ session.Store = (*Store)(nil)
