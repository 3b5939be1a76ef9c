package protocol

import (
	"sync/atomic"

	"github.com/MJE43/arcade-scoregate/internal/anticheat"
)

// Stats counts submission outcomes. All fields are safe for concurrent use.
type Stats struct {
	starts           atomic.Int64
	accepted         atomic.Int64
	newHighScores    atomic.Int64
	sessionInvalid   atomic.Int64
	seedMismatch     atomic.Int64
	identityMismatch atomic.Int64
	storageErrors    atomic.Int64
	byRule           map[anticheat.RuleID]*atomic.Int64
}

func newStats() *Stats {
	s := &Stats{byRule: make(map[anticheat.RuleID]*atomic.Int64, len(anticheat.AllRules))}
	for _, r := range anticheat.AllRules {
		s.byRule[r] = &atomic.Int64{}
	}
	return s
}

func (s *Stats) rejected(rule anticheat.RuleID) {
	if c, ok := s.byRule[rule]; ok {
		c.Add(1)
	}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Starts           int64            `json:"starts"`
	Accepted         int64            `json:"accepted"`
	NewHighScores    int64            `json:"new_high_scores"`
	Rejected         map[string]int64 `json:"rejected"`
	SessionInvalid   int64            `json:"session_invalid"`
	SeedMismatch     int64            `json:"seed_mismatch"`
	IdentityMismatch int64            `json:"identity_mismatch"`
	StorageErrors    int64            `json:"storage_errors"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Starts:           s.starts.Load(),
		Accepted:         s.accepted.Load(),
		NewHighScores:    s.newHighScores.Load(),
		Rejected:         make(map[string]int64, len(s.byRule)),
		SessionInvalid:   s.sessionInvalid.Load(),
		SeedMismatch:     s.seedMismatch.Load(),
		IdentityMismatch: s.identityMismatch.Load(),
		StorageErrors:    s.storageErrors.Load(),
	}
	for rule, c := range s.byRule {
		snap.Rejected[string(rule)] = c.Load()
	}
	return snap
}
