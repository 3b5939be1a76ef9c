// Package leaderboard keeps the best and latest accepted score per player.
package leaderboard

import (
	"context"
	"sort"
	"time"
)

// Record is one player's standing.
type Record struct {
	PlayerIdentity string    `json:"playerIdentity"`
	PlayerDeviceID string    `json:"playerDeviceId"`
	HighestScore   int       `json:"highestScore"`
	LastScore      int       `json:"lastScore"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Submission is an accepted score to fold into the leaderboard.
type Submission struct {
	PlayerIdentity string
	PlayerDeviceID string
	Score          int
}

// UpsertResult reports the record after an upsert.
type UpsertResult struct {
	IsNewHighScore bool
	Record         Record
}

// Store persists leaderboard records.
type Store interface {
	// Upsert creates or updates the record for sub.PlayerIdentity. It is
	// atomic per player: concurrent upserts for the same player never lose
	// an update and HighestScore never decreases.
	Upsert(ctx context.Context, sub Submission) (UpsertResult, error)

	// TopN returns up to n records ordered by Less.
	TopN(ctx context.Context, n int) ([]Record, error)

	// GetHighest returns the player's best score, or 0 if unknown.
	GetHighest(ctx context.Context, playerIdentity string) (int, error)

	// Close releases resources.
	Close() error
}

// Apply folds sub into prev and reports whether it set a new high score.
// prev is nil for a player with no record yet.
func Apply(prev *Record, sub Submission, now time.Time) UpsertResult {
	if prev == nil {
		return UpsertResult{
			IsNewHighScore: true,
			Record: Record{
				PlayerIdentity: sub.PlayerIdentity,
				PlayerDeviceID: sub.PlayerDeviceID,
				HighestScore:   sub.Score,
				LastScore:      sub.Score,
				CreatedAt:      now,
				UpdatedAt:      now,
			},
		}
	}

	next := *prev
	next.PlayerDeviceID = sub.PlayerDeviceID
	next.LastScore = sub.Score
	next.UpdatedAt = now
	isNew := sub.Score > prev.HighestScore
	if isNew {
		next.HighestScore = sub.Score
	}
	return UpsertResult{IsNewHighScore: isNew, Record: next}
}

// Less orders records by highest score descending, then earliest update,
// then player identity.
func Less(a, b Record) bool {
	if a.HighestScore != b.HighestScore {
		return a.HighestScore > b.HighestScore
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.PlayerIdentity < b.PlayerIdentity
}

// Sort orders records in place using Less.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool { return Less(records[i], records[j]) })
}
