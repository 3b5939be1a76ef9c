// Package storetest holds behaviour tests shared by every leaderboard.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/arcade-scoregate/internal/leaderboard"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds an empty store that reads time from now.
type Factory func(t *testing.T, now func() time.Time) leaderboard.Store

func sub(player string, score int) leaderboard.Submission {
	return leaderboard.Submission{PlayerIdentity: player, PlayerDeviceID: "device-" + player, Score: score}
}

// Run executes the shared behaviour suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	setup := func(t *testing.T) (leaderboard.Store, *Clock) {
		clock := &Clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		store := newStore(t, clock.Now)
		t.Cleanup(func() { _ = store.Close() })
		return store, clock
	}

	t.Run("first submission creates record", func(t *testing.T) {
		store, _ := setup(t)
		res, err := store.Upsert(context.Background(), sub("alice", 12))
		require.NoError(t, err)
		assert.True(t, res.IsNewHighScore)
		assert.Equal(t, 12, res.Record.HighestScore)
		assert.Equal(t, 12, res.Record.LastScore)
		assert.Equal(t, "device-alice", res.Record.PlayerDeviceID)
	})

	t.Run("lower score keeps highest", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		_, err := store.Upsert(ctx, sub("bob", 50))
		require.NoError(t, err)
		clock.Advance(time.Second)
		res, err := store.Upsert(ctx, sub("bob", 30))
		require.NoError(t, err)

		assert.False(t, res.IsNewHighScore)
		assert.Equal(t, 50, res.Record.HighestScore)
		assert.Equal(t, 30, res.Record.LastScore)

		best, err := store.GetHighest(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, 50, best)
	})

	t.Run("equal score is not a new high", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		_, err := store.Upsert(ctx, sub("carol", 20))
		require.NoError(t, err)
		res, err := store.Upsert(ctx, sub("carol", 20))
		require.NoError(t, err)
		assert.False(t, res.IsNewHighScore)
	})

	t.Run("higher score is a new high and device is overwritten", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		_, err := store.Upsert(ctx, sub("dave", 20))
		require.NoError(t, err)
		res, err := store.Upsert(ctx, leaderboard.Submission{PlayerIdentity: "dave", PlayerDeviceID: "laptop", Score: 25})
		require.NoError(t, err)
		assert.True(t, res.IsNewHighScore)
		assert.Equal(t, 25, res.Record.HighestScore)
		assert.Equal(t, "laptop", res.Record.PlayerDeviceID)
	})

	t.Run("unknown player has zero", func(t *testing.T) {
		store, _ := setup(t)
		best, err := store.GetHighest(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, best)
	})

	t.Run("top n ordering", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		for _, s := range []leaderboard.Submission{sub("p10", 10), sub("p30", 30), sub("p20", 20)} {
			_, err := store.Upsert(ctx, s)
			require.NoError(t, err)
			clock.Advance(time.Second)
		}

		top, err := store.TopN(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, 30, top[0].HighestScore)
		assert.Equal(t, 20, top[1].HighestScore)

		all, err := store.TopN(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := store.TopN(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ties go to the earlier update", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		_, err := store.Upsert(ctx, sub("late", 40))
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = store.Upsert(ctx, sub("early", 40))
		require.NoError(t, err)
		clock.Advance(time.Second)
		// A lower score refreshes "late" without changing its best.
		_, err = store.Upsert(ctx, sub("late", 5))
		require.NoError(t, err)

		top, err := store.TopN(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "early", top[0].PlayerIdentity)
		assert.Equal(t, "late", top[1].PlayerIdentity)
	})

	t.Run("concurrent upserts keep the maximum", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for i := 1; i <= 40; i++ {
			wg.Add(1)
			go func(score int) {
				defer wg.Done()
				if _, err := store.Upsert(ctx, sub("racer", score)); err != nil {
					errs <- fmt.Errorf("score %d: %w", score, err)
				}
			}(i * 3 % 61)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		best, err := store.GetHighest(ctx, "racer")
		require.NoError(t, err)
		assert.Equal(t, 60, best)
	})

	t.Run("two concurrent submissions", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for _, score := range []int{40, 60} {
			wg.Add(1)
			go func(score int) {
				defer wg.Done()
				_, err := store.Upsert(ctx, sub("pair", score))
				assert.NoError(t, err)
			}(score)
		}
		wg.Wait()

		best, err := store.GetHighest(ctx, "pair")
		require.NoError(t, err)
		assert.Equal(t, 60, best)
	})
}
