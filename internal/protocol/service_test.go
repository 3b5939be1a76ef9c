package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/arcade-scoregate/internal/anticheat"
	"github.com/MJE43/arcade-scoregate/internal/leaderboard"
	"github.com/MJE43/arcade-scoregate/internal/session"
	"github.com/MJE43/arcade-scoregate/internal/session/storetest"
)

type fixture struct {
	svc      *Service
	sessions *session.MemoryStore
	board    *leaderboard.MemoryStore
	clock    *storetest.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := storetest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := session.NewMemoryStore(session.Policy{TTL: 10 * time.Minute, Now: clock.Now})
	board := leaderboard.NewMemoryStore(clock.Now)
	t.Cleanup(func() { _ = sessions.Close() })
	return fixture{
		svc:      NewService(sessions, board, anticheat.Static(anticheat.DefaultRules()), nil),
		sessions: sessions,
		board:    board,
		clock:    clock,
	}
}

// plausible builds a submission that passes every default rule.
func plausible(ticket Ticket, player string, score int) Submission {
	events := make([]int64, score)
	for i := range events {
		events[i] = int64(i+1) * 2000
	}
	return Submission{
		Token:          ticket.Token,
		PlayerIdentity: player,
		PlayerDeviceID: "device-" + player,
		Score:          score,
		Trace: anticheat.Trace{
			SeedEcho:         ticket.Seed,
			InputEvents:      events,
			ElapsedMillis:    int64(score) * 2000,
			ObstaclesCleared: score,
		},
	}
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.Start(ctx, "  alice ")
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.Token)
	assert.NotEmpty(t, ticket.Seed)

	sess, err := f.sessions.Resolve(ctx, ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.PlayerIdentity)
	assert.Equal(t, ticket.Seed, sess.Seed)
}

func TestStart_EmptyIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), "   ")
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "playerIdentity", inputErr.Field)
}

func TestSubmit_Accepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	res, err := f.svc.Submit(ctx, plausible(ticket, "alice", 10))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.IsNewHighScore)

	rec, ok := f.board.Get("alice")
	require.True(t, ok)
	assert.Equal(t, 10, rec.HighestScore)
	assert.Equal(t, "device-alice", rec.PlayerDeviceID)

	// The token is single use.
	_, err = f.svc.Submit(ctx, plausible(ticket, "alice", 10))
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSubmit_SecondGameLowerScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, "bob")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, plausible(first, "bob", 12))
	require.NoError(t, err)

	second, err := f.svc.Start(ctx, "bob")
	require.NoError(t, err)
	res, err := f.svc.Submit(ctx, plausible(second, "bob", 8))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.IsNewHighScore)

	best, err := f.svc.HighestScore(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 12, best)
}

func TestSubmit_UnknownToken(t *testing.T) {
	f := newFixture(t)
	sub := plausible(Ticket{Token: "nope", Seed: "seed"}, "alice", 10)
	_, err := f.svc.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSubmit_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	_, err = f.svc.Submit(ctx, plausible(ticket, "alice", 10))
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSubmit_RejectionsHaveNoSideEffects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "seed mismatch",
			mutate: func(s *Submission) { s.Trace.SeedEcho = "other-seed" },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrSeedMismatch) },
		},
		{
			name:   "missing seed",
			mutate: func(s *Submission) { s.Trace.SeedEcho = "" },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrSeedMismatch) },
		},
		{
			name:   "identity mismatch",
			mutate: func(s *Submission) { s.PlayerIdentity = "mallory" },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrIdentityMismatch) },
		},
		{
			name:   "duration too short",
			mutate: func(s *Submission) { s.Trace.ElapsedMillis = 14000 },
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, anticheat.RuleDuration, vErr.Rule)
				assert.Contains(t, vErr.Reason, "Duration too short")
			},
		},
		{
			name:   "obstacle mismatch",
			mutate: func(s *Submission) { s.Trace.ObstaclesCleared = 9 },
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, anticheat.RuleObstacleMismatch, vErr.Rule)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			ticket, err := f.svc.Start(ctx, "alice")
			require.NoError(t, err)

			bad := plausible(ticket, "alice", 10)
			tt.mutate(&bad)
			_, err = f.svc.Submit(ctx, bad)
			tt.check(t, err)

			_, ok := f.board.Get("alice")
			assert.False(t, ok, "leaderboard changed on rejection")

			// The session survives and a genuine submission still counts.
			res, err := f.svc.Submit(ctx, plausible(ticket, "alice", 10))
			require.NoError(t, err)
			assert.True(t, res.Accepted)
		})
	}
}

func TestSubmit_MissingFields(t *testing.T) {
	f := newFixture(t)
	ticket := Ticket{Token: "t", Seed: "s"}

	cases := map[string]func(*Submission){
		"token":          func(s *Submission) { s.Token = "" },
		"playerIdentity": func(s *Submission) { s.PlayerIdentity = " " },
		"playerDeviceId": func(s *Submission) { s.PlayerDeviceID = "" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			sub := plausible(ticket, "alice", 3)
			mutate(&sub)
			_, err := f.svc.Submit(context.Background(), sub)
			var inputErr *InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, field, inputErr.Field)
		})
	}
}

func TestSubmit_ConcurrentSameToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.Start(ctx, "racer")
	require.NoError(t, err)

	var accepted, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, plausible(ticket, "racer", 10))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrSessionInvalid):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(9), invalid.Load())
	assert.Equal(t, int64(1), f.svc.Stats().Snapshot().Accepted)
}

func TestSubmit_ConcurrentPlayersKeepMaximum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, score := range []int{40, 60} {
		ticket, err := f.svc.Start(ctx, "pair")
		require.NoError(t, err)
		wg.Add(1)
		go func(ticket Ticket, score int) {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, plausible(ticket, "pair", score))
			assert.NoError(t, err)
		}(ticket, score)
	}
	wg.Wait()

	best, err := f.svc.HighestScore(ctx, "pair")
	require.NoError(t, err)
	assert.Equal(t, 60, best)
}

// mockBoard is a leaderboard.Store whose behaviour is scripted per test.
type mockBoard struct {
	mock.Mock
}

func (m *mockBoard) Upsert(ctx context.Context, sub leaderboard.Submission) (leaderboard.UpsertResult, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(leaderboard.UpsertResult), args.Error(1)
}

func (m *mockBoard) TopN(ctx context.Context, n int) ([]leaderboard.Record, error) {
	args := m.Called(ctx, n)
	records, _ := args.Get(0).([]leaderboard.Record)
	return records, args.Error(1)
}

func (m *mockBoard) GetHighest(ctx context.Context, playerIdentity string) (int, error) {
	args := m.Called(ctx, playerIdentity)
	return args.Int(0), args.Error(1)
}

func (m *mockBoard) Close() error { return nil }

func TestSubmit_UpsertFailureConsumesToken(t *testing.T) {
	sessions := session.NewMemoryStore(session.DefaultPolicy())
	board := &mockBoard{}
	svc := NewService(sessions, board, anticheat.Static(anticheat.DefaultRules()), nil)
	ctx := context.Background()

	board.On("Upsert", mock.Anything, mock.MatchedBy(func(s leaderboard.Submission) bool {
		return s.PlayerIdentity == "alice" && s.Score == 10
	})).Return(leaderboard.UpsertResult{}, errors.New("connection reset")).Once()

	ticket, err := svc.Start(ctx, "alice")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, plausible(ticket, "alice", 10))
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "upsert leaderboard", storageErr.Op)

	// Retrying a consumed token must not re-apply the score.
	_, err = svc.Submit(ctx, plausible(ticket, "alice", 10))
	assert.ErrorIs(t, err, ErrSessionInvalid)
	board.AssertExpectations(t)
}

// cancelOnConsume cancels the request context as soon as the token is
// consumed, as a client hanging up mid-submit would.
type cancelOnConsume struct {
	session.Store
	cancel context.CancelFunc
}

func (c cancelOnConsume) Consume(ctx context.Context, token string) (session.Session, error) {
	sess, err := c.Store.Consume(ctx, token)
	c.cancel()
	return sess, err
}

func TestSubmit_RecordsScoreWhenClientGoesAway(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.Start(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewService(cancelOnConsume{Store: f.sessions, cancel: cancel}, f.board,
		anticheat.Static(anticheat.DefaultRules()), nil)

	res, err := svc.Submit(ctx, plausible(ticket, "alice", 10))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	best, err := f.svc.HighestScore(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, best)
}

func TestSubmit_LeaderboardWriteIsDetached(t *testing.T) {
	sessions := session.NewMemoryStore(session.DefaultPolicy())
	board := &mockBoard{}
	svc := NewService(sessions, board, anticheat.Static(anticheat.DefaultRules()), nil)

	board.On("Upsert", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= recordTimeout && ctx.Err() == nil
	}), mock.Anything).Return(leaderboard.UpsertResult{IsNewHighScore: true}, nil).Once()

	ticket, err := svc.Start(context.Background(), "bob")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	svc.sessions = cancelOnConsume{Store: sessions, cancel: cancel}
	res, err := svc.Submit(ctx, plausible(ticket, "bob", 10))
	require.NoError(t, err)
	assert.True(t, res.IsNewHighScore)
	board.AssertExpectations(t)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, score := range []int{10, 30, 20} {
		player := fmt.Sprintf("p%d", i)
		ticket, err := f.svc.Start(ctx, player)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, plausible(ticket, player, score))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	standings, err := f.svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, Standing{Rank: 1, PlayerIdentity: "p1", HighestScore: 30}, standings[0])
	assert.Equal(t, Standing{Rank: 2, PlayerIdentity: "p2", HighestScore: 20}, standings[1])
	assert.Equal(t, Standing{Rank: 3, PlayerIdentity: "p0", HighestScore: 10}, standings[2])

	top, err := f.svc.Leaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestLeaderboard_ClampsLimit(t *testing.T) {
	board := &mockBoard{}
	svc := NewService(session.NewMemoryStore(session.DefaultPolicy()), board, anticheat.Static(anticheat.DefaultRules()), nil)

	board.On("TopN", mock.Anything, MaxLeaderboardSize).Return([]leaderboard.Record{}, nil).Twice()

	_, err := svc.Leaderboard(context.Background(), 5000)
	require.NoError(t, err)
	_, err = svc.Leaderboard(context.Background(), -1)
	require.NoError(t, err)
	board.AssertExpectations(t)
}

func TestLeaderboard_StorageError(t *testing.T) {
	board := &mockBoard{}
	svc := NewService(session.NewMemoryStore(session.DefaultPolicy()), board, anticheat.Static(anticheat.DefaultRules()), nil)
	board.On("TopN", mock.Anything, 10).Return(nil, errors.New("down"))

	_, err := svc.Leaderboard(context.Background(), 10)
	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestHighestScore_Unknown(t *testing.T) {
	f := newFixture(t)
	best, err := f.svc.HighestScore(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, best)

	_, err = f.svc.HighestScore(context.Background(), "")
	var inputErr *InputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestStatsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	bad := plausible(ticket, "alice", 10)
	bad.Trace.ObstaclesCleared = 1
	_, _ = f.svc.Submit(ctx, bad)
	_, err = f.svc.Submit(ctx, plausible(ticket, "alice", 10))
	require.NoError(t, err)

	snap := f.svc.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Starts)
	assert.Equal(t, int64(1), snap.Accepted)
	assert.Equal(t, int64(1), snap.NewHighScores)
	assert.Equal(t, int64(1), snap.Rejected[string(anticheat.RuleObstacleMismatch)])
	assert.Equal(t, int64(0), snap.Rejected[string(anticheat.RuleDuration)])
}

func TestFingerprint(t *testing.T) {
	assert.Len(t, Fingerprint("secret-token"), 16)
	assert.Equal(t, Fingerprint("a"), Fingerprint("a"))
	assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
	assert.Empty(t, Fingerprint(""))
}
