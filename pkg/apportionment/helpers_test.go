package apportionment_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seatengine/pkg/apportionment"
	"seatengine/pkg/models"
)

type electionBuilder struct {
	election models.Election
	tallies  models.Tallies
}

func newElection(id string) *electionBuilder {
	return &electionBuilder{
		election: models.Election{ID: id, Name: id, Type: models.ElectionTypeLegislative},
		tallies:  models.NewTallies(),
	}
}

func (b *electionBuilder) district(id string, total, reserved int, valid int64) *electionBuilder {
	b.election.Districts = append(b.election.Districts, models.District{
		ID:            id,
		ElectionID:    b.election.ID,
		Position:      len(b.election.Districts),
		TotalSeats:    total,
		ReservedSeats: reserved,
	})
	b.tallies.TotalValidPerDistrict[id] = valid
	b.tallies.TotalValidNational += valid
	return b
}

func (b *electionBuilder) entities(ids ...string) *electionBuilder {
	for _, id := range ids {
		b.election.Entities = append(b.election.Entities, models.Entity{ID: id, ElectionID: b.election.ID, Name: id})
	}
	return b
}

func (b *electionBuilder) coalition(id string, members ...string) *electionBuilder {
	b.election.Coalitions = append(b.election.Coalitions, models.Coalition{
		ID:         id,
		ElectionID: b.election.ID,
		MemberIDs:  members,
	})
	return b
}

func (b *electionBuilder) votes(districtID, entityID string, n int64) *electionBuilder {
	b.tallies.Add(districtID, entityID, n)
	return b
}

func (b *electionBuilder) build() (models.Election, models.Tallies) {
	return b.election, b.tallies
}

func newTestEngine(t *testing.T, opts apportionment.Options) *apportionment.Engine {
	t.Helper()
	engine, err := apportionment.NewEngine(apportionment.EngineConfig{
		Policy:      apportionment.DefaultPolicy(),
		Options:     opts,
		Concurrency: 4,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return engine
}
