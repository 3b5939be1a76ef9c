package protocol

import (
	"errors"
	"fmt"

	"github.com/MJE43/arcade-scoregate/internal/anticheat"
)

var (
	// ErrSessionInvalid means the token is unknown, expired or already used.
	ErrSessionInvalid = errors.New("invalid or expired session")
	// ErrSeedMismatch means the trace reports a different seed than the one issued.
	ErrSeedMismatch = errors.New("seed mismatch")
	// ErrIdentityMismatch means the submitting player is not the one the session was issued to.
	ErrIdentityMismatch = errors.New("player identity mismatch")
)

// InputError is a malformed request. The caller must change it before retrying.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidationError is an anti-cheat rejection.
type ValidationError struct {
	Rule   anticheat.RuleID
	Reason string
}

func (e *ValidationError) Error() string {
	return "score validation failed: " + e.Reason
}

// StorageError wraps a failure of a backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
