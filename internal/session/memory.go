package session

import (
	"context"
	"sync"
)

// MemoryStore implements Store using an in-memory map. Expired sessions are
// evicted lazily on lookup and by Cleanup, which Sweep drives.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	policy   Policy
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		policy:   policy.Normalize(),
	}
}

// Create issues and stores a new session.
func (s *MemoryStore) Create(ctx context.Context, playerIdentity string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	sess, err := s.policy.Issue(playerIdentity)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return sess, nil
}

// Resolve returns the live session for token.
func (s *MemoryStore) Resolve(ctx context.Context, token string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(token)
}

// Consume removes and returns the live session for token.
func (s *MemoryStore) Consume(ctx context.Context, token string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.lookupLocked(token)
	if err != nil {
		return Session{}, err
	}
	delete(s.sessions, token)
	return sess, nil
}

func (s *MemoryStore) lookupLocked(token string) (Session, error) {
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.policy.Live(sess) {
		delete(s.sessions, token)
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// Cleanup removes expired sessions.
func (s *MemoryStore) Cleanup(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if !s.policy.Live(sess) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Close releases nothing; sessions live only as long as the process.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
