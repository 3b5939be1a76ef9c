package leaderboard

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. Upserts hold a per-player
// lock so different players never wait on each other.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	locks   sync.Map // player identity -> *sync.Mutex
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory leaderboard. A nil clock uses
// time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{records: make(map[string]Record), now: now}
}

func (s *MemoryStore) playerLock(id string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Upsert folds sub into the player's record.
func (s *MemoryStore) Upsert(ctx context.Context, sub Submission) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}

	lock := s.playerLock(sub.PlayerIdentity)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	prev, ok := s.records[sub.PlayerIdentity]
	s.mu.RUnlock()

	var res UpsertResult
	if ok {
		res = Apply(&prev, sub, s.now().UTC())
	} else {
		res = Apply(nil, sub, s.now().UTC())
	}

	s.mu.Lock()
	s.records[sub.PlayerIdentity] = res.Record
	s.mu.Unlock()
	return res, nil
}

// TopN returns the best n records.
func (s *MemoryStore) TopN(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Record{}, nil
	}

	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	Sort(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// GetHighest returns the player's best score, or 0.
func (s *MemoryStore) GetHighest(ctx context.Context, playerIdentity string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[playerIdentity].HighestScore, nil
}

// Get returns the full record for playerIdentity.
func (s *MemoryStore) Get(playerIdentity string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[playerIdentity]
	return r, ok
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
