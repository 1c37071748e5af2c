package apportionment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy holds the statutory parameters of threshold evaluation.
type Policy struct {
	// DistrictThresholdPct is the minimum share of a district's valid votes, in percent.
	DistrictThresholdPct decimal.Decimal
	// NationalThresholdPct is the minimum national share each coalition member must reach, in percent.
	NationalThresholdPct decimal.Decimal
	// Tolerance is the number of votes a district sum may exceed its declared valid total by.
	Tolerance int64
}

// DefaultPolicy returns the statutory defaults: 20% per district, 10% nationally, no tolerance.
func DefaultPolicy() Policy {
	return Policy{
		DistrictThresholdPct: decimal.NewFromInt(20),
		NationalThresholdPct: decimal.NewFromInt(10),
		Tolerance:            0,
	}
}

// Validate rejects thresholds outside [0, 100] and negative tolerances.
func (p Policy) Validate() error {
	hundred := decimal.NewFromInt(100)
	for name, pct := range map[string]decimal.Decimal{
		"district threshold": p.DistrictThresholdPct,
		"national threshold": p.NationalThresholdPct,
	} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return fmt.Errorf("%w: %s %s%% out of range", ErrInvalidConfiguration, name, pct)
		}
	}
	if p.Tolerance < 0 {
		return fmt.Errorf("%w: negative tally tolerance", ErrInvalidConfiguration)
	}
	return nil
}

// Options are the per-call switches threaded explicitly into the engine.
type Options struct {
	// AlternateMethodEnabled allows the official variant to run in production.
	AlternateMethodEnabled bool
}

// TieBreak orders entities whose remainders are exactly equal.
type TieBreak string

const (
	// TieBreakEntityIDAscending awards the seat to the lexicographically smallest entity id.
	TieBreakEntityIDAscending TieBreak = "entity_id_asc"
	// TieBreakMostVotes awards the seat to the entity with more raw votes, then by entity id.
	TieBreakMostVotes TieBreak = "most_votes"
)

// ParseTieBreak maps a configuration string to a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "", TieBreakEntityIDAscending:
		return TieBreakEntityIDAscending, nil
	case TieBreakMostVotes:
		return TieBreakMostVotes, nil
	default:
		return "", fmt.Errorf("%w: unknown tie-break %q", ErrInvalidConfiguration, s)
	}
}

// less reports whether a ranks before b when their remainders are equal.
func (tb TieBreak) less(a, b string, votes map[string]int64) bool {
	if tb == TieBreakMostVotes && votes[a] != votes[b] {
		return votes[a] > votes[b]
	}
	return a < b
}

// sharePct returns votes/total in percent, rounded to 4 places for reporting.
func sharePct(votes, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(votes).Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromInt(total), 4)
}

// meetsThreshold compares votes/total >= pct/100 exactly.
func meetsThreshold(votes, total int64, pct decimal.Decimal) bool {
	if total <= 0 {
		return false
	}
	lhs := decimal.NewFromInt(votes).Mul(decimal.NewFromInt(100))
	rhs := pct.Mul(decimal.NewFromInt(total))
	return lhs.GreaterThanOrEqual(rhs)
}
