// Package session issues and tracks short-lived game sessions. Each session
// binds an opaque token to a player identity and the seed the client uses
// to drive its physics.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a session stays valid after creation.
const DefaultTTL = 10 * time.Minute

// tokenBytes is the amount of randomness in a token.
const tokenBytes = 16

// ErrNotFound is returned when a token is unknown, expired or already
// consumed. Callers cannot tell these cases apart.
var ErrNotFound = errors.New("session not found")

// Session is a single issued play attempt.
type Session struct {
	Token          string
	PlayerIdentity string
	Seed           string
	CreatedAt      time.Time
	// TTL is copied from the issuing policy so ExpiresAt is self-contained.
	TTL time.Duration
}

// ExpiresAt is the first instant at which the session is no longer valid.
func (s Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.TTL)
}

// Store persists sessions.
type Store interface {
	// Create issues a fresh session for playerIdentity.
	Create(ctx context.Context, playerIdentity string) (Session, error)

	// Resolve returns the live session for token, or ErrNotFound.
	Resolve(ctx context.Context, token string) (Session, error)

	// Consume atomically removes and returns the live session for token.
	// Exactly one of several concurrent callers succeeds; the others get
	// ErrNotFound.
	Consume(ctx context.Context, token string) (Session, error)

	// Cleanup removes expired sessions and reports how many were removed.
	Cleanup(ctx context.Context) (int, error)

	// Close stops background routines and releases resources.
	Close() error
}

// Policy carries the TTL and clock shared by every Store implementation.
type Policy struct {
	TTL time.Duration
	Now func() time.Time
}

// DefaultPolicy returns a Policy using DefaultTTL and the wall clock.
func DefaultPolicy() Policy {
	return Policy{TTL: DefaultTTL, Now: time.Now}
}

// Normalize fills unset fields with defaults.
func (p Policy) Normalize() Policy {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p
}

// Issue builds a new session without persisting it.
func (p Policy) Issue(playerIdentity string) (Session, error) {
	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	seed, err := uuid.NewRandom()
	if err != nil {
		return Session{}, fmt.Errorf("generating seed: %w", err)
	}
	return Session{
		Token:          token,
		PlayerIdentity: playerIdentity,
		Seed:           seed.String(),
		CreatedAt:      p.Now().UTC().Truncate(time.Millisecond),
		TTL:            p.TTL,
	}, nil
}

// Live reports whether s is still valid at the policy's current time.
func (p Policy) Live(s Session) bool {
	return p.Now().Sub(s.CreatedAt) < p.TTL
}

// Cutoff is the oldest creation time that is still live. Sessions created
// at or before it are expired.
func (p Policy) Cutoff() time.Time {
	return p.Now().UTC().Add(-p.TTL)
}

// NewToken returns a random hex-encoded session token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
