package apportionment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatengine/pkg/apportionment"
	"seatengine/pkg/models"
)

// panickyMethod blows up in one district and defers to the standard method elsewhere.
type panickyMethod struct {
	apportionment.StandardMethod
	district string
}

func (m panickyMethod) Name() string { return "panicky" }

func (m panickyMethod) AllocateSeats(d models.District, votes map[string]int64, seats int) (apportionment.Allocation, error) {
	if d.ID == m.district {
		panic("boom")
	}
	return m.StandardMethod.AllocateSeats(d, votes, seats)
}

func threeDistrictElection() (models.Election, models.Tallies) {
	return newElection("leg-2026").
		district("D1", 3, 0, 10_000).
		district("D2", 5, 1, 20_000).
		district("D3", 2, 0, 10_000).
		entities("A", "B", "C").
		votes("D1", "A", 5000).
		votes("D1", "B", 3000).
		votes("D1", "C", 2000).
		votes("D2", "A", 8000).
		votes("D2", "B", 7000).
		votes("D2", "C", 5000).
		votes("D3", "A", 6000).
		votes("D3", "B", 4000).
		build()
}

func TestComputeDistrict_Scenario(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{})

	res, err := engine.ComputeDistrict(context.Background(), election, "D1", tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)

	assert.Equal(t, "D1", res.DistrictID)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, res.Allocation.SeatsByEntity)
	assert.Equal(t, "3333.333333", res.Quotient.String())
	assert.False(t, res.NoEligibleEntities)
	assert.True(t, res.Eligibility["A"].Eligible)
}

func TestComputeDistrict_UnknownDistrict(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{})

	_, err := engine.ComputeDistrict(context.Background(), election, "D42", tallies, apportionment.NewStandardMethod())
	assert.ErrorIs(t, err, apportionment.ErrInvalidConfiguration)
}

func TestComputeDistrict_RestrictsToEligible(t *testing.T) {
	election, tallies := newElection("e1").
		district("D1", 4, 0, 1000).
		entities("A", "B", "C").
		votes("D1", "A", 600).
		votes("D1", "B", 300).
		votes("D1", "C", 100).
		build()
	engine := newTestEngine(t, apportionment.Options{})

	res, err := engine.ComputeDistrict(context.Background(), election, "D1", tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)

	// C has 10% and is excluded before allocation.
	assert.NotContains(t, res.Votes, "C")
	assert.NotContains(t, res.Allocation.SeatsByEntity, "C")
	assert.Equal(t, 4, res.Allocation.TotalSeats())
	assert.Equal(t, "225", res.Quotient.String())
}

func TestComputeDistrict_NoEligibleEntities(t *testing.T) {
	// Six lists at 16.6% each: nobody reaches the district threshold.
	b := newElection("e1").district("D1", 3, 0, 1000)
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		b.entities(id).votes("D1", id, 166)
	}
	election, tallies := b.build()
	engine := newTestEngine(t, apportionment.Options{})

	res, err := engine.ComputeDistrict(context.Background(), election, "D1", tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)
	assert.True(t, res.NoEligibleEntities)
	assert.Empty(t, res.Allocation.SeatsByEntity)
	assert.True(t, res.Quotient.IsZero())
}

func TestComputeDistrict_ReservedOnlyDistrict(t *testing.T) {
	election, tallies := newElection("e1").
		district("W1", 2, 2, 1000).
		entities("A", "B").
		votes("W1", "A", 600).
		votes("W1", "B", 400).
		build()
	engine := newTestEngine(t, apportionment.Options{AlternateMethodEnabled: true})

	res, err := engine.ComputeDistrict(context.Background(), election, "W1", tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, res.Allocation.SeatsByEntity)
	assert.Empty(t, res.Allocation.ReservedByEntity)

	official := apportionment.NewOfficialMethod(apportionment.TieBreakEntityIDAscending, apportionment.WinnerTakesReserved{})
	res, err = engine.ComputeDistrict(context.Background(), election, "W1", tallies, official)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Allocation.TotalSeats())
	assert.Equal(t, map[string]int{"A": 2}, res.Allocation.ReservedByEntity)
}

func TestComputeElection_RollsUpNationally(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{})

	res, err := engine.ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Districts, 3)

	assert.Equal(t, "standard", res.Method)
	assert.Equal(t, "1.0.0", res.MethodVersion)
	for i, d := range election.Districts {
		assert.Equal(t, d.ID, res.Districts[i].DistrictID, "declaration order")
		assert.Equal(t, d.OrdinarySeats(), res.Districts[i].Allocation.TotalSeats(), d.ID)
	}

	// D1 {1,1,1}; D2 4 seats of 20000 -> {A:2, B:1, C:1}; D3 C absent -> {A:1, B:1}
	assert.Equal(t, apportionment.NationalTotal{EntityID: "A", Votes: 19000, OrdinarySeats: 4}, res.National["A"])
	assert.Equal(t, apportionment.NationalTotal{EntityID: "B", Votes: 14000, OrdinarySeats: 3}, res.National["B"])
	assert.Equal(t, apportionment.NationalTotal{EntityID: "C", Votes: 7000, OrdinarySeats: 2}, res.National["C"])
	assert.False(t, res.Partial())
}

func TestComputeElection_Deterministic(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{})

	first, err := engine.ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := engine.ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeElection_MethodNotApplicable(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{})
	official := apportionment.NewOfficialMethod(apportionment.TieBreakEntityIDAscending, apportionment.NoReservedSeats{})

	_, err := engine.ComputeElection(context.Background(), election, tallies, official)
	assert.ErrorIs(t, err, apportionment.ErrMethodNotApplicable)

	enabled := newTestEngine(t, apportionment.Options{AlternateMethodEnabled: true})
	_, err = enabled.ComputeElection(context.Background(), election, tallies, official)
	assert.NoError(t, err)

	election.Type = models.ElectionTypePresidential
	_, err = enabled.ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
	assert.ErrorIs(t, err, apportionment.ErrMethodNotApplicable)

	_, err = enabled.ComputeElection(context.Background(), election, tallies, nil)
	assert.ErrorIs(t, err, apportionment.ErrInvalidConfiguration)
}

func TestComputeElection_PartialFailure(t *testing.T) {
	election, tallies := threeDistrictElection()
	election.Districts[1].ReservedSeats = 9 // more reserved than total
	engine := newTestEngine(t, apportionment.Options{})

	res, err := engine.ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)

	require.Contains(t, res.Errors, "D2")
	assert.ErrorIs(t, res.Errors["D2"], apportionment.ErrInvalidConfiguration)
	var de *apportionment.DistrictError
	require.True(t, errors.As(res.Errors["D2"], &de))
	assert.Equal(t, "D2", de.DistrictID)

	require.Len(t, res.Districts, 2)
	assert.True(t, res.Partial())
	_, ok := res.District("D2")
	assert.False(t, ok)
	assert.Equal(t, []string{"D2: " + res.Errors["D2"].Error()}, res.ErrorMessages(election))
}

func TestComputeElection_RecoversPanics(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{})
	method := panickyMethod{StandardMethod: apportionment.NewStandardMethod(), district: "D3"}

	res, err := engine.ComputeElection(context.Background(), election, tallies, method)
	require.NoError(t, err)
	require.Contains(t, res.Errors, "D3")
	assert.Contains(t, res.Errors["D3"].Error(), "panicked")
	assert.Len(t, res.Districts, 2)
}

// D3 over-reports its votes. C and D contest it, so D2 cannot be computed either,
// while D1 is untouched.
func isolatedElection() (models.Election, models.Tallies) {
	return newElection("leg-2026").
		district("D1", 3, 0, 10_000).
		district("D2", 2, 0, 10_000).
		district("D3", 2, 0, 1_000).
		entities("A", "B", "C", "D").
		votes("D1", "A", 6000).
		votes("D1", "B", 4000).
		votes("D2", "C", 5000).
		votes("D2", "D", 5000).
		votes("D3", "C", 900).
		votes("D3", "D", 900).
		build()
}

func TestComputeElection_InconsistentDistrictIsIsolated(t *testing.T) {
	election, tallies := isolatedElection()

	result, err := newTestEngine(t, apportionment.Options{}).
		ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)
	assert.True(t, result.Partial())

	require.Len(t, result.Errors, 2)
	assert.ErrorIs(t, result.Errors["D3"], apportionment.ErrInconsistentTally)
	assert.ErrorIs(t, result.Errors["D2"], apportionment.ErrInconsistentTally)
	assert.Contains(t, result.Errors["D2"].Error(), "D3")

	d1, ok := result.District("D1")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, d1.Allocation.SeatsByEntity)

	assert.Equal(t, apportionment.ReasonUndeterminable, result.Eligibility["C"].Reason)
	assert.False(t, result.Eligibility["D"].Eligible)
	assert.True(t, result.Eligibility["A"].Eligible)
}

func TestComputeElection_InconsistentDistrictTaintsCoalitionPartners(t *testing.T) {
	election, tallies := newElection("leg-2026").
		district("D1", 3, 0, 10_000).
		district("D2", 2, 0, 10_000).
		district("D3", 2, 0, 100).
		entities("A", "B", "E").
		coalition("AE", "A", "E").
		votes("D1", "A", 6000).
		votes("D1", "B", 4000).
		votes("D2", "B", 10_000).
		votes("D3", "E", 500).
		build()

	result, err := newTestEngine(t, apportionment.Options{}).
		ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)

	assert.Equal(t, apportionment.ReasonUndeterminable, result.Eligibility["A"].Reason)
	require.Error(t, result.Errors["D1"])
	assert.Contains(t, result.Errors["D1"].Error(), "eligibility of A")

	d2, ok := result.District("D2")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"B": 2}, d2.Allocation.SeatsByEntity)
}

func TestComputeDistrict_UnaffectedByOtherInconsistentDistrict(t *testing.T) {
	election, tallies := isolatedElection()
	engine := newTestEngine(t, apportionment.Options{})

	d1, err := engine.ComputeDistrict(context.Background(), election, "D1", tallies, apportionment.NewStandardMethod())
	require.NoError(t, err)
	assert.Equal(t, 3, d1.Allocation.TotalSeats())

	_, err = engine.ComputeDistrict(context.Background(), election, "D2", tallies, apportionment.NewStandardMethod())
	var de *apportionment.DistrictError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "D2", de.DistrictID)
}

func TestComputeElection_InconsistentNationalTallyFailsWholeElection(t *testing.T) {
	election, tallies := threeDistrictElection()
	tallies.TotalValidNational = 30_000

	_, err := newTestEngine(t, apportionment.Options{}).
		ComputeElection(context.Background(), election, tallies, apportionment.NewStandardMethod())
	assert.ErrorIs(t, err, apportionment.ErrInconsistentTally)
}

func TestComputeElection_Cancelled(t *testing.T) {
	election, tallies := threeDistrictElection()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(t, apportionment.Options{}).
		ComputeElection(ctx, election, tallies, apportionment.NewStandardMethod())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInputsDigest(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{})
	method := apportionment.NewStandardMethod()

	a, err := engine.InputsDigest(election, tallies, method)
	require.NoError(t, err)
	b, err := engine.InputsDigest(election, tallies, method)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	tallies.PerDistrict["D1"]["A"]--
	c, err := engine.InputsDigest(election, tallies, method)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestInputsDigest_MethodParameters(t *testing.T) {
	election, tallies := threeDistrictElection()
	engine := newTestEngine(t, apportionment.Options{AlternateMethodEnabled: true})

	byID := apportionment.NewOfficialMethod(apportionment.TieBreakEntityIDAscending, apportionment.NoReservedSeats{})
	byVotes := apportionment.NewOfficialMethod(apportionment.TieBreakMostVotes, apportionment.NoReservedSeats{})
	winnerTakes := apportionment.NewOfficialMethod(apportionment.TieBreakEntityIDAscending, apportionment.WinnerTakesReserved{})

	digests := make(map[string]string)
	for name, m := range map[string]apportionment.Method{"by_id": byID, "by_votes": byVotes, "winner_takes": winnerTakes} {
		d, err := engine.InputsDigest(election, tallies, m)
		require.NoError(t, err)
		digests[d] = name
	}
	assert.Len(t, digests, 3)

	// an unset tie-break resolves to the default and digests identically
	implicit := apportionment.OfficialMethod{Revision: "1.0.0"}
	a, _ := engine.InputsDigest(election, tallies, byID)
	b, _ := engine.InputsDigest(election, tallies, implicit)
	assert.Equal(t, a, b)
}

func TestRegistry(t *testing.T) {
	official := apportionment.NewOfficialMethod(apportionment.TieBreakMostVotes, apportionment.NoReservedSeats{})
	reg := apportionment.DefaultRegistry(official)

	assert.Equal(t, []string{"official", "standard"}, reg.Names())
	m, err := reg.Get("official")
	require.NoError(t, err)
	assert.Equal(t, "official", m.Name())

	_, err = reg.Get("dhondt")
	assert.ErrorIs(t, err, apportionment.ErrInvalidConfiguration)

	_, err = apportionment.NewRegistry(apportionment.NewStandardMethod(), apportionment.NewStandardMethod())
	assert.ErrorIs(t, err, apportionment.ErrInvalidConfiguration)
}
