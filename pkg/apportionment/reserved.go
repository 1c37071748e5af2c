package apportionment

import (
	"fmt"

	"seatengine/pkg/models"
)

// ReservedSeatRule allocates the reserved seats of a district, separately from
// the ordinary quotient allocation.
type ReservedSeatRule interface {
	Name() string
	AllocateReserved(district models.District, votes map[string]int64, tb TieBreak) map[string]int
}

// NoReservedSeats leaves reserved seats unallocated. It is the placeholder in
// force until the statutory rule is finalized; its output is not authoritative.
type NoReservedSeats struct{}

func (NoReservedSeats) Name() string { return "none" }

func (NoReservedSeats) AllocateReserved(models.District, map[string]int64, TieBreak) map[string]int {
	return nil
}

// WinnerTakesReserved gives every reserved seat of the district to the entity
// with the highest raw vote count among those passed in.
type WinnerTakesReserved struct{}

func (WinnerTakesReserved) Name() string { return "winner_takes_reserved" }

func (WinnerTakesReserved) AllocateReserved(district models.District, votes map[string]int64, tb TieBreak) map[string]int {
	if district.ReservedSeats <= 0 {
		return nil
	}
	winner := ""
	for id, v := range votes {
		if v <= 0 {
			continue
		}
		if winner == "" || v > votes[winner] || (v == votes[winner] && tb.less(id, winner, votes)) {
			winner = id
		}
	}
	if winner == "" {
		return nil
	}
	return map[string]int{winner: district.ReservedSeats}
}

// ParseReservedSeatRule maps a configuration string to a rule.
func ParseReservedSeatRule(name string) (ReservedSeatRule, error) {
	switch name {
	case "", "none":
		return NoReservedSeats{}, nil
	case "winner_takes_reserved":
		return WinnerTakesReserved{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown reserved seat rule %q", ErrInvalidConfiguration, name)
	}
}
