// Package anticheat decides whether a claimed score is plausible given the
// input trace recorded by the client.
package anticheat

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RuleID names the check that rejected a run. Values are stable and safe to
// use as metric labels.
type RuleID string

const (
	RuleNone             RuleID = ""
	RuleScoreRange       RuleID = "score_range"
	RuleDuration         RuleID = "duration"
	RuleInputCount       RuleID = "input_count"
	RuleInputOrder       RuleID = "input_order"
	RuleObstacleMismatch RuleID = "obstacle_mismatch"
	RuleInputCadence     RuleID = "input_cadence"
)

// AllRules lists every rule in evaluation order.
var AllRules = []RuleID{
	RuleScoreRange,
	RuleDuration,
	RuleInputCount,
	RuleInputOrder,
	RuleObstacleMismatch,
	RuleInputCadence,
}

// Trace is the client's record of a single run.
type Trace struct {
	SeedEcho         string  `json:"seed"`
	InputEvents      []int64 `json:"inputEvents"`
	ElapsedMillis    int64   `json:"elapsedMillis"`
	ObstaclesCleared int     `json:"obstaclesCleared"`
}

// Verdict is the outcome of Validate. Rule and Reason are empty when the run
// is accepted.
type Verdict struct {
	Accepted bool
	Rule     RuleID
	Reason   string
}

func accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(rule RuleID, format string, args ...interface{}) Verdict {
	return Verdict{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Validate applies the rules in a fixed order and reports the first failure.
// It has no side effects.
func Validate(rules Rules, claimedScore int, trace Trace) Verdict {
	if claimedScore < 0 || claimedScore > rules.MaxScore {
		return reject(RuleScoreRange, "Score must be between 0 and %d, got %d", rules.MaxScore, claimedScore)
	}

	minDuration := int64(claimedScore) * rules.MinMillisPerPoint
	if trace.ElapsedMillis < minDuration {
		return reject(RuleDuration, "Duration too short. Expected at least %dms, got %dms", minDuration, trace.ElapsedMillis)
	}

	count := int64(len(trace.InputEvents))
	minInputs, maxInputs := rules.inputBounds(claimedScore)
	if count < minInputs {
		return reject(RuleInputCount, "Too few inputs for score %d. Expected at least %d, got %d", claimedScore, minInputs, count)
	}
	if count > maxInputs {
		return reject(RuleInputCount, "Too many inputs for score %d. Expected at most %d, got %d", claimedScore, maxInputs, count)
	}

	for i := 1; i < len(trace.InputEvents); i++ {
		if trace.InputEvents[i] <= trace.InputEvents[i-1] {
			return reject(RuleInputOrder, "Input timestamps must be strictly increasing (index %d)", i)
		}
	}

	if trace.ObstaclesCleared != claimedScore {
		return reject(RuleObstacleMismatch, "Obstacles cleared (%d) does not match score (%d)", trace.ObstaclesCleared, claimedScore)
	}

	if count > 1 {
		// Mean gap is span/(n-1); compare by cross-multiplying to stay exact.
		span := trace.InputEvents[count-1] - trace.InputEvents[0]
		gaps := count - 1
		if span < rules.MinMeanGapMillis*gaps {
			return reject(RuleInputCadence, "Inputs are too frequent (mean gap %sms, possible automation)", meanGap(span, gaps))
		}
		if span > rules.MaxMeanGapMillis*gaps {
			return reject(RuleInputCadence, "Inputs are too infrequent (mean gap %sms, unusual pattern)", meanGap(span, gaps))
		}
	}

	return accept()
}

func meanGap(span, gaps int64) string {
	return decimal.NewFromInt(span).Div(decimal.NewFromInt(gaps)).StringFixed(1)
}
