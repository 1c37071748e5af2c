package apportionment

import "seatengine/pkg/models"

// StandardMethod is the statutory quotient and largest-remainder method.
type StandardMethod struct {
	TieBreak TieBreak
	Reserved ReservedSeatRule
}

// NewStandardMethod returns the method with ascending-id tie-break and no reserved seat allocation.
func NewStandardMethod() StandardMethod {
	return StandardMethod{TieBreak: TieBreakEntityIDAscending, Reserved: NoReservedSeats{}}
}

func (StandardMethod) Name() string    { return "standard" }
func (StandardMethod) Version() string { return "1.0.0" }

// CanApply restricts the method to legislative elections.
func (StandardMethod) CanApply(election models.Election, _ Options) bool {
	return election.Legislative()
}

// Params reports the resolved tie-break and reserved seat rule.
func (m StandardMethod) Params() map[string]string {
	tb, rule := m.resolved()
	return map[string]string{"tie_break": string(tb), "reserved_rule": rule.Name()}
}

func (m StandardMethod) resolved() (TieBreak, ReservedSeatRule) {
	tb := m.TieBreak
	if tb == "" {
		tb = TieBreakEntityIDAscending
	}
	rule := m.Reserved
	if rule == nil {
		rule = NoReservedSeats{}
	}
	return tb, rule
}

// AllocateSeats splits the ordinary seats of a district among the given entities.
// An empty vote map yields an empty allocation and no error.
func (m StandardMethod) AllocateSeats(district models.District, votes map[string]int64, ordinarySeats int) (Allocation, error) {
	tb, rule := m.resolved()
	alloc, err := largestRemainder(votes, ordinarySeats, tb)
	if err != nil {
		return Allocation{}, err
	}
	alloc.ReservedByEntity = rule.AllocateReserved(district, votes, tb)
	return alloc, nil
}
