// Package storetest holds behaviour tests shared by every session.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/arcade-scoregate/internal/session"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
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

// Factory builds an empty store governed by policy.
type Factory func(t *testing.T, policy session.Policy) session.Store

// Run executes the shared behaviour suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	setup := func(t *testing.T) (session.Store, *Clock) {
		clock := NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		store := newStore(t, session.Policy{TTL: 10 * time.Minute, Now: clock.Now})
		t.Cleanup(func() { _ = store.Close() })
		return store, clock
	}

	t.Run("create then resolve", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		created, err := store.Create(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, created.Token, 32)
		assert.Len(t, created.Seed, 36)
		assert.Equal(t, "alice", created.PlayerIdentity)

		got, err := store.Resolve(ctx, created.Token)
		require.NoError(t, err)
		assert.Equal(t, created.Token, got.Token)
		assert.Equal(t, created.Seed, got.Seed)
		assert.Equal(t, "alice", got.PlayerIdentity)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("tokens and seeds are unique", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		tokens := map[string]bool{}
		seeds := map[string]bool{}
		for i := 0; i < 50; i++ {
			s, err := store.Create(ctx, "bob")
			require.NoError(t, err)
			assert.False(t, tokens[s.Token], "duplicate token")
			assert.False(t, seeds[s.Seed], "duplicate seed")
			tokens[s.Token] = true
			seeds[s.Seed] = true
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		store, _ := setup(t)
		_, err := store.Resolve(context.Background(), "deadbeef")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("expires after ttl", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		s, err := store.Create(ctx, "carol")
		require.NoError(t, err)

		clock.Advance(10*time.Minute - time.Second)
		_, err = store.Resolve(ctx, s.Token)
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = store.Resolve(ctx, s.Token)
		assert.ErrorIs(t, err, session.ErrNotFound)

		_, err = store.Consume(ctx, s.Token)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("consume is single use", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		s, err := store.Create(ctx, "dave")
		require.NoError(t, err)

		consumed, err := store.Consume(ctx, s.Token)
		require.NoError(t, err)
		assert.Equal(t, s.Seed, consumed.Seed)

		_, err = store.Consume(ctx, s.Token)
		assert.ErrorIs(t, err, session.ErrNotFound)
		_, err = store.Resolve(ctx, s.Token)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		s, err := store.Create(ctx, "erin")
		require.NoError(t, err)

		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Consume(ctx, s.Token)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, session.ErrNotFound):
					losses.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(7), losses.Load())
	})

	t.Run("cleanup removes only expired", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		_, err := store.Create(ctx, "old-1")
		require.NoError(t, err)
		_, err = store.Create(ctx, "old-2")
		require.NoError(t, err)

		clock.Advance(6 * time.Minute)
		fresh, err := store.Create(ctx, "fresh")
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)
		removed, err := store.Cleanup(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = store.Resolve(ctx, fresh.Token)
		assert.NoError(t, err)
	})
}
