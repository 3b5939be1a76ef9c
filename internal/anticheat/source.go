package anticheat

import "sync/atomic"

// Source supplies the rules in force for a single validation.
type Source interface {
	Current() Rules
}

// Static is a Source that never changes.
type Static Rules

func (s Static) Current() Rules {
	return Rules(s)
}

// AtomicRules is a Source whose rules can be replaced while requests are in
// flight. Each validation sees one consistent rule set.
type AtomicRules struct {
	p atomic.Pointer[Rules]
}

// NewAtomicRules returns a Source holding r.
func NewAtomicRules(r Rules) *AtomicRules {
	a := &AtomicRules{}
	a.Store(r)
	return a
}

func (a *AtomicRules) Current() Rules {
	return *a.p.Load()
}

// Store replaces the rules for subsequent validations.
func (a *AtomicRules) Store(r Rules) {
	a.p.Store(&r)
}
