// Package postgres stores leaderboard records in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MJE43/arcade-scoregate/internal/leaderboard"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var recordColumns = []string{
	"player_identity", "player_device_id", "highest_score", "last_score", "created_at", "updated_at",
}

const upsertSuffix = `ON CONFLICT (player_identity) DO UPDATE SET
	player_device_id = EXCLUDED.player_device_id,
	highest_score = GREATEST(leaderboard_records.highest_score, EXCLUDED.highest_score),
	last_score = EXCLUDED.last_score,
	updated_at = EXCLUDED.updated_at`

// Store implements leaderboard.Store using PostgreSQL. Upserts for one
// player are serialized with a transaction-scoped advisory lock, which also
// covers the first insert when no row exists to lock yet.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a PostgreSQL leaderboard store. A nil clock uses time.Now.
func New(db *sql.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// Upsert folds sub into the player's record inside a transaction.
func (s *Store) Upsert(ctx context.Context, sub leaderboard.Submission) (res leaderboard.UpsertResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sub.PlayerIdentity); err != nil {
		return res, fmt.Errorf("locking player: %w", err)
	}

	query, args, err := psq.Select(recordColumns...).
		From("leaderboard_records").
		Where(sq.Eq{"player_identity": sub.PlayerIdentity}).
		ToSql()
	if err != nil {
		return res, fmt.Errorf("building select: %w", err)
	}
	prev, err := scanRecord(tx.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res = leaderboard.Apply(nil, sub, s.now().UTC())
	case err != nil:
		return res, fmt.Errorf("loading record: %w", err)
	default:
		res = leaderboard.Apply(&prev, sub, s.now().UTC())
	}

	r := res.Record
	query, args, err = psq.Insert("leaderboard_records").
		Columns(recordColumns...).
		Values(r.PlayerIdentity, r.PlayerDeviceID, r.HighestScore, r.LastScore, r.CreatedAt, r.UpdatedAt).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return res, fmt.Errorf("building upsert: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return res, fmt.Errorf("writing record: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("committing upsert: %w", err)
	}
	return res, nil
}

// TopN returns the best n records.
func (s *Store) TopN(ctx context.Context, n int) ([]leaderboard.Record, error) {
	out := []leaderboard.Record{}
	if n <= 0 {
		return out, nil
	}

	query, args, err := psq.Select(recordColumns...).
		From("leaderboard_records").
		OrderBy("highest_score DESC", "updated_at ASC", "player_identity ASC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building leaderboard query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetHighest returns the player's best score, or 0.
func (s *Store) GetHighest(ctx context.Context, playerIdentity string) (int, error) {
	query, args, err := psq.Select("highest_score").
		From("leaderboard_records").
		Where(sq.Eq{"player_identity": playerIdentity}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building select: %w", err)
	}

	var best int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&best)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying highest score: %w", err)
	}
	return best, nil
}

// Close is a no-op; the caller owns the database handle.
func (s *Store) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (leaderboard.Record, error) {
	var r leaderboard.Record
	if err := row.Scan(&r.PlayerIdentity, &r.PlayerDeviceID, &r.HighestScore, &r.LastScore, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return leaderboard.Record{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

var _ leaderboard.Store = (*Store)(nil)
