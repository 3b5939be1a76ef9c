// Package sqlite stores leaderboard records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MJE43/arcade-scoregate/internal/leaderboard"
)

const recordColumns = `player_identity, player_device_id, highest_score, last_score, created_at, updated_at`

// Store implements leaderboard.Store on an already-migrated SQLite database.
// Upserts run in an immediate transaction, which serializes writers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a SQLite leaderboard store. A nil clock uses time.Now.
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

	prev, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM leaderboard_records WHERE player_identity = ?`, sub.PlayerIdentity))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res = leaderboard.Apply(nil, sub, s.now().UTC())
	case err != nil:
		return res, fmt.Errorf("loading record: %w", err)
	default:
		res = leaderboard.Apply(&prev, sub, s.now().UTC())
	}

	r := res.Record
	_, err = tx.ExecContext(ctx, `
		INSERT INTO leaderboard_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_identity) DO UPDATE SET
			player_device_id = excluded.player_device_id,
			highest_score    = MAX(leaderboard_records.highest_score, excluded.highest_score),
			last_score       = excluded.last_score,
			updated_at       = excluded.updated_at`,
		r.PlayerIdentity, r.PlayerDeviceID, r.HighestScore, r.LastScore,
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
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

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM leaderboard_records
		ORDER BY highest_score DESC, updated_at ASC, player_identity ASC
		LIMIT ?`, n)
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
	var best int
	err := s.db.QueryRowContext(ctx,
		`SELECT highest_score FROM leaderboard_records WHERE player_identity = ?`, playerIdentity).Scan(&best)
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
	var (
		r                  leaderboard.Record
		createdMs, updated int64
	)
	if err := row.Scan(&r.PlayerIdentity, &r.PlayerDeviceID, &r.HighestScore, &r.LastScore, &createdMs, &updated); err != nil {
		return leaderboard.Record{}, err
	}
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}

var _ leaderboard.Store = (*Store)(nil)
