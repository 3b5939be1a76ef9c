package anticheat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rules holds the thresholds applied by Validate. The zero value is not
// usable; start from DefaultRules.
type Rules struct {
	// MaxScore is the highest score a single run may claim.
	MaxScore int `yaml:"max_score" json:"max_score"`
	// MinMillisPerPoint is the minimum play time each point requires.
	MinMillisPerPoint int64 `yaml:"min_millis_per_point" json:"min_millis_per_point"`
	// MinInputsPerPoint and MaxInputsPerPoint bound the input count by
	// floor(score * ratio).
	MinInputsPerPoint decimal.Decimal `yaml:"min_inputs_per_point" json:"min_inputs_per_point"`
	MaxInputsPerPoint decimal.Decimal `yaml:"max_inputs_per_point" json:"max_inputs_per_point"`
	// MinMeanGapMillis and MaxMeanGapMillis bound the average spacing
	// between consecutive inputs.
	MinMeanGapMillis int64 `yaml:"min_mean_gap_millis" json:"min_mean_gap_millis"`
	MaxMeanGapMillis int64 `yaml:"max_mean_gap_millis" json:"max_mean_gap_millis"`
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{
		MaxScore:          300,
		MinMillisPerPoint: 1500,
		MinInputsPerPoint: decimal.RequireFromString("0.8"),
		MaxInputsPerPoint: decimal.NewFromInt(10),
		MinMeanGapMillis:  100,
		MaxMeanGapMillis:  5000,
	}
}

// Validate reports rule sets that would reject every run or accept nonsense.
func (r Rules) Validate() error {
	var errs []string

	if r.MaxScore <= 0 {
		errs = append(errs, "max_score must be positive")
	}
	if r.MinMillisPerPoint < 0 {
		errs = append(errs, "min_millis_per_point must not be negative")
	}
	if r.MinInputsPerPoint.IsNegative() {
		errs = append(errs, "min_inputs_per_point must not be negative")
	}
	if r.MaxInputsPerPoint.LessThan(r.MinInputsPerPoint) {
		errs = append(errs, "max_inputs_per_point must be >= min_inputs_per_point")
	}
	if r.MinMeanGapMillis < 0 {
		errs = append(errs, "min_mean_gap_millis must not be negative")
	}
	if r.MaxMeanGapMillis < r.MinMeanGapMillis {
		errs = append(errs, "max_mean_gap_millis must be >= min_mean_gap_millis")
	}

	if len(errs) > 0 {
		return errors.New("invalid anti-cheat rules: " + strings.Join(errs, "; "))
	}
	return nil
}

// inputBounds returns the inclusive input-count window for score.
func (r Rules) inputBounds(score int) (int64, int64) {
	s := decimal.NewFromInt(int64(score))
	return s.Mul(r.MinInputsPerPoint).Floor().IntPart(),
		s.Mul(r.MaxInputsPerPoint).Floor().IntPart()
}

func (r Rules) String() string {
	return fmt.Sprintf("max_score=%d min_ms_per_point=%d inputs_per_point=[%s,%s] mean_gap_ms=[%d,%d]",
		r.MaxScore, r.MinMillisPerPoint, r.MinInputsPerPoint, r.MaxInputsPerPoint,
		r.MinMeanGapMillis, r.MaxMeanGapMillis)
}
