package apportionment

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"seatengine/pkg/models"
)

// Diff reports how two methods disagree over the same district inputs.
type Diff struct {
	DistrictID string `json:"district_id"`
	MethodA    string `json:"method_a"`
	MethodB    string `json:"method_b"`
	Identical  bool   `json:"identical"`
	// Deltas holds seatsB - seatsA for every entity whose ordinary or reserved seats differ.
	Deltas    map[string]int  `json:"deltas"`
	OnlyInA   []string        `json:"only_in_a,omitempty"`
	OnlyInB   []string        `json:"only_in_b,omitempty"`
	QuotientA decimal.Decimal `json:"quotient_a"`
	QuotientB decimal.Decimal `json:"quotient_b"`
	A         Allocation      `json:"allocation_a"`
	B         Allocation      `json:"allocation_b"`
}

// comparisonEngine runs methods with the alternate gate open. Comparing never
// persists anything, so a method not yet enabled for production can still be checked.
func (e *Engine) comparisonEngine() *Engine {
	c := *e
	c.opts.AlternateMethodEnabled = true
	return &c
}

// CompareMethods runs both methods over identical restricted inputs for one district.
func (e *Engine) CompareMethods(ctx context.Context, election models.Election, districtID string, tallies models.Tallies, a, b Method) (Diff, error) {
	c := e.comparisonEngine()
	ra, err := c.ComputeDistrict(ctx, election, districtID, tallies, a)
	if err != nil {
		return Diff{}, err
	}
	rb, err := c.ComputeDistrict(ctx, election, districtID, tallies, b)
	if err != nil {
		return Diff{}, err
	}
	return diffAllocations(districtID, a.Name(), b.Name(), ra.Allocation, rb.Allocation), nil
}

// CompareElection compares the methods district by district. Districts where either
// method fails are reported in the error map.
func (e *Engine) CompareElection(ctx context.Context, election models.Election, tallies models.Tallies, a, b Method) (map[string]Diff, map[string]error, error) {
	c := e.comparisonEngine()
	ra, err := c.ComputeElection(ctx, election, tallies, a)
	if err != nil {
		return nil, nil, err
	}
	rb, err := c.ComputeElection(ctx, election, tallies, b)
	if err != nil {
		return nil, nil, err
	}

	diffs := make(map[string]Diff, len(election.Districts))
	errs := make(map[string]error)
	for _, d := range election.Districts {
		if err, ok := ra.Errors[d.ID]; ok {
			errs[d.ID] = err
			continue
		}
		if err, ok := rb.Errors[d.ID]; ok {
			errs[d.ID] = err
			continue
		}
		da, _ := ra.District(d.ID)
		db, _ := rb.District(d.ID)
		diffs[d.ID] = diffAllocations(d.ID, a.Name(), b.Name(), da.Allocation, db.Allocation)
	}
	return diffs, errs, nil
}

func diffAllocations(districtID, nameA, nameB string, a, b Allocation) Diff {
	d := Diff{
		DistrictID: districtID,
		MethodA:    nameA,
		MethodB:    nameB,
		Deltas:     make(map[string]int),
		QuotientA:  a.Quotient,
		QuotientB:  b.Quotient,
		A:          a,
		B:          b,
	}

	seen := make(map[string]struct{})
	for id := range a.SeatsByEntity {
		seen[id] = struct{}{}
		if _, ok := b.SeatsByEntity[id]; !ok {
			d.OnlyInA = append(d.OnlyInA, id)
		}
	}
	for id := range b.SeatsByEntity {
		seen[id] = struct{}{}
		if _, ok := a.SeatsByEntity[id]; !ok {
			d.OnlyInB = append(d.OnlyInB, id)
		}
	}
	for id := range a.ReservedByEntity {
		seen[id] = struct{}{}
	}
	for id := range b.ReservedByEntity {
		seen[id] = struct{}{}
	}
	sort.Strings(d.OnlyInA)
	sort.Strings(d.OnlyInB)

	for id := range seen {
		seatsA := a.SeatsByEntity[id] + a.ReservedByEntity[id]
		seatsB := b.SeatsByEntity[id] + b.ReservedByEntity[id]
		if seatsA != seatsB {
			d.Deltas[id] = seatsB - seatsA
		}
	}
	d.Identical = len(d.Deltas) == 0 && len(d.OnlyInA) == 0 && len(d.OnlyInB) == 0
	return d
}
