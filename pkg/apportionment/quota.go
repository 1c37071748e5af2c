package apportionment

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/shopspring/decimal"
)

// largestRemainder distributes seats by the statutory quotient and largest remainder.
//
// The quotient Q = total/seats is kept as the exact pair (total, seats):
//   - seats at quotient:  floor(votes*seats / total)
//   - ranking remainder:  votes*seats - k*total (the exact remainder scaled by seats)
//   - stored remainder:   votes - k*floor(Q)
//
// Only the reported Quotient is rounded.
func largestRemainder(votes map[string]int64, seats int, tb TieBreak) (Allocation, error) {
	if seats < 0 {
		return Allocation{}, fmt.Errorf("%w: negative ordinary seats %d", ErrInvalidConfiguration, seats)
	}

	ids := make([]string, 0, len(votes))
	var total int64
	for id, v := range votes {
		if v < 0 {
			return Allocation{}, fmt.Errorf("%w: negative votes for %s", ErrInconsistentTally, id)
		}
		ids = append(ids, id)
		var ok bool
		if total, ok = addVotes(total, v); !ok {
			return Allocation{}, fmt.Errorf("%w: vote total overflows", ErrInconsistentTally)
		}
	}
	sort.Strings(ids)

	alloc := Allocation{
		SeatsByEntity:      make(map[string]int, len(ids)),
		RemaindersByEntity: make(map[string]int64, len(ids)),
		Quotient:           decimal.Zero,
	}
	if seats == 0 || total == 0 {
		for _, id := range ids {
			alloc.SeatsByEntity[id] = 0
			alloc.RemaindersByEntity[id] = votes[id]
		}
		return alloc, nil
	}

	s := int64(seats)
	floorQ := total / s
	alloc.Quotient = decimal.NewFromInt(total).DivRound(decimal.NewFromInt(s), 6)

	type candidate struct {
		id    string
		exact int64
	}
	candidates := make([]candidate, 0, len(ids))
	var allocated int64
	for _, id := range ids {
		v := votes[id]
		k, exact := scaledQuotient(v, s, total)
		alloc.SeatsByEntity[id] = int(k)
		alloc.RemaindersByEntity[id] = v - k*floorQ
		allocated += k
		candidates = append(candidates, candidate{id: id, exact: exact})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.exact != b.exact {
			return a.exact > b.exact
		}
		return tb.less(a.id, b.id, votes)
	})

	// Fractional parts sum to less than the number of entities, so each
	// entity receives at most one remainder seat.
	remaining := int(s - allocated)
	if remaining > 0 && remaining < len(candidates) && candidates[remaining-1].exact == candidates[remaining].exact {
		alloc.TieBreakApplied = true
	}
	for i := 0; i < remaining; i++ {
		alloc.SeatsByEntity[candidates[i%len(candidates)].id]++
	}
	return alloc, nil
}

// scaledQuotient returns floor(v*s/total) and v*s mod total using a 128-bit
// product. Requires 0 <= v <= total and total > 0, so the quotient is at most s.
func scaledQuotient(v, s, total int64) (int64, int64) {
	hi, lo := bits.Mul64(uint64(v), uint64(s))
	q, r := bits.Div64(hi, lo, uint64(total))
	return int64(q), int64(r)
}

// addVotes adds two non-negative counts, reporting false on overflow.
func addVotes(a, b int64) (int64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
