// Package protocol drives a play attempt from session start to score
// submission, tying the session store, the anti-cheat gate and the
// leaderboard together.
package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/MJE43/arcade-scoregate/internal/anticheat"
	"github.com/MJE43/arcade-scoregate/internal/leaderboard"
	"github.com/MJE43/arcade-scoregate/internal/session"
)

// MaxLeaderboardSize caps the number of standings returned.
const MaxLeaderboardSize = 100

// recordTimeout bounds the leaderboard write that follows a consumed token.
const recordTimeout = 10 * time.Second

// Ticket is what a client receives when it starts a game.
type Ticket struct {
	Token string `json:"token"`
	Seed  string `json:"seed"`
}

// Submission is a finished game reported by the client.
type Submission struct {
	Token          string          `json:"token"`
	PlayerIdentity string          `json:"playerIdentity"`
	PlayerDeviceID string          `json:"playerDeviceId"`
	Score          int             `json:"score"`
	Trace          anticheat.Trace `json:"trace"`
}

// Result is the outcome of an accepted submission.
type Result struct {
	Accepted       bool `json:"accepted"`
	IsNewHighScore bool `json:"isNewHighScore"`
}

// Standing is one ranked leaderboard row.
type Standing struct {
	Rank           int    `json:"rank"`
	PlayerIdentity string `json:"playerIdentity"`
	HighestScore   int    `json:"highestScore"`
}

// Service implements the start and submit operations.
type Service struct {
	sessions session.Store
	board    leaderboard.Store
	rules    anticheat.Source
	logger   *log.Logger
	stats    *Stats
}

// NewService wires a Service. A nil logger discards output.
func NewService(sessions session.Store, board leaderboard.Store, rules anticheat.Source, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		sessions: sessions,
		board:    board,
		rules:    rules,
		logger:   logger,
		stats:    newStats(),
	}
}

// Stats returns the live outcome counters.
func (s *Service) Stats() *Stats {
	return s.stats
}

// Sessions exposes the underlying session store for maintenance tasks.
func (s *Service) Sessions() session.Store {
	return s.sessions
}

// Start issues a new session for playerIdentity.
func (s *Service) Start(ctx context.Context, playerIdentity string) (Ticket, error) {
	playerIdentity = strings.TrimSpace(playerIdentity)
	if playerIdentity == "" {
		return Ticket{}, &InputError{Field: "playerIdentity", Message: "is required"}
	}

	sess, err := s.sessions.Create(ctx, playerIdentity)
	if err != nil {
		s.stats.storageErrors.Add(1)
		return Ticket{}, &StorageError{Op: "create session", Err: err}
	}

	s.stats.starts.Add(1)
	s.logger.Printf("session started player=%q token=%s", playerIdentity, Fingerprint(sess.Token))
	return Ticket{Token: sess.Token, Seed: sess.Seed}, nil
}

// Submit validates a finished game and, if accepted, records it. Any
// rejection leaves both the session and the leaderboard untouched.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	if err := checkSubmission(&sub); err != nil {
		return Result{}, err
	}

	sess, err := s.sessions.Resolve(ctx, sub.Token)
	if errors.Is(err, session.ErrNotFound) {
		s.stats.sessionInvalid.Add(1)
		return Result{}, ErrSessionInvalid
	}
	if err != nil {
		s.stats.storageErrors.Add(1)
		return Result{}, &StorageError{Op: "resolve session", Err: err}
	}

	if sess.PlayerIdentity != sub.PlayerIdentity {
		s.stats.identityMismatch.Add(1)
		return Result{}, ErrIdentityMismatch
	}
	if sess.Seed != sub.Trace.SeedEcho {
		s.stats.seedMismatch.Add(1)
		return Result{}, ErrSeedMismatch
	}

	verdict := anticheat.Validate(s.rules.Current(), sub.Score, sub.Trace)
	if !verdict.Accepted {
		s.stats.rejected(verdict.Rule)
		s.logger.Printf("submission rejected player=%q token=%s rule=%s score=%d",
			sub.PlayerIdentity, Fingerprint(sub.Token), verdict.Rule, sub.Score)
		return Result{}, &ValidationError{Rule: verdict.Rule, Reason: verdict.Reason}
	}

	// Consume before writing so a token can only ever count once. Losing the
	// race to a concurrent submit of the same token is a stale session.
	if _, err := s.sessions.Consume(ctx, sub.Token); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.stats.sessionInvalid.Add(1)
			return Result{}, ErrSessionInvalid
		}
		s.stats.storageErrors.Add(1)
		return Result{}, &StorageError{Op: "consume session", Err: err}
	}

	// The token is gone, so the write must not die with the request.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	res, err := s.board.Upsert(writeCtx, leaderboard.Submission{
		PlayerIdentity: sub.PlayerIdentity,
		PlayerDeviceID: sub.PlayerDeviceID,
		Score:          sub.Score,
	})
	if err != nil {
		s.stats.storageErrors.Add(1)
		s.logger.Printf("leaderboard write failed after consume player=%q token=%s err=%v",
			sub.PlayerIdentity, Fingerprint(sub.Token), err)
		return Result{}, &StorageError{Op: "upsert leaderboard", Err: err}
	}

	s.stats.accepted.Add(1)
	if res.IsNewHighScore {
		s.stats.newHighScores.Add(1)
	}
	s.logger.Printf("submission accepted player=%q score=%d new_high=%t",
		sub.PlayerIdentity, sub.Score, res.IsNewHighScore)
	return Result{Accepted: true, IsNewHighScore: res.IsNewHighScore}, nil
}

// Leaderboard returns up to limit ranked standings. Limits outside
// [1, MaxLeaderboardSize] are clamped to MaxLeaderboardSize.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	if limit <= 0 || limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}
	records, err := s.board.TopN(ctx, limit)
	if err != nil {
		s.stats.storageErrors.Add(1)
		return nil, &StorageError{Op: "read leaderboard", Err: err}
	}

	out := make([]Standing, len(records))
	for i, r := range records {
		out[i] = Standing{Rank: i + 1, PlayerIdentity: r.PlayerIdentity, HighestScore: r.HighestScore}
	}
	return out, nil
}

// HighestScore returns the player's best accepted score, or 0.
func (s *Service) HighestScore(ctx context.Context, playerIdentity string) (int, error) {
	playerIdentity = strings.TrimSpace(playerIdentity)
	if playerIdentity == "" {
		return 0, &InputError{Field: "playerIdentity", Message: "is required"}
	}
	best, err := s.board.GetHighest(ctx, playerIdentity)
	if err != nil {
		s.stats.storageErrors.Add(1)
		return 0, &StorageError{Op: "read highest score", Err: err}
	}
	return best, nil
}

func checkSubmission(sub *Submission) error {
	sub.PlayerIdentity = strings.TrimSpace(sub.PlayerIdentity)
	switch {
	case sub.Token == "":
		return &InputError{Field: "token", Message: "is required"}
	case sub.PlayerIdentity == "":
		return &InputError{Field: "playerIdentity", Message: "is required"}
	case strings.TrimSpace(sub.PlayerDeviceID) == "":
		return &InputError{Field: "playerDeviceId", Message: "is required"}
	}
	return nil
}

// Fingerprint returns a short stable hash of a secret for log correlation.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:16]
}
