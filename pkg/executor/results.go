package executor

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"seatengine/pkg/apportionment"
	"seatengine/pkg/models"
)

// DistrictRows flattens the district allocations of one run into result rows in
// declaration order. Failed districts contribute no rows.
func DistrictRows(runID uuid.UUID, election models.Election, result apportionment.ElectionResult, at time.Time) []models.SeatResult {
	var rows []models.SeatResult
	for _, district := range election.Districts {
		d, ok := result.District(district.ID)
		if !ok || d.NoEligibleEntities {
			continue
		}
		quotient := d.Quotient.String()
		for _, entityID := range allocatedEntities(d.Allocation) {
			rows = append(rows, models.SeatResult{
				RunID:         runID,
				ElectionID:    election.ID,
				Level:         models.LevelDistrict,
				DistrictID:    district.ID,
				EntityID:      entityID,
				Votes:         d.Votes[entityID],
				OrdinarySeats: d.Allocation.SeatsByEntity[entityID],
				ReservedSeats: d.Allocation.ReservedByEntity[entityID],
				Remainder:     d.Allocation.RemaindersByEntity[entityID],
				Quotient:      quotient,
				Method:        result.Method,
				ComputedAt:    at,
			})
		}
	}
	return rows
}

// NationalRows rolls the run's district rows up per entity. National vote totals
// come from the engine's roll-up so entities without seats are still reported.
func NationalRows(runID uuid.UUID, electionID, method string, districtRows []models.SeatResult, national map[string]apportionment.NationalTotal, at time.Time) []models.SeatResult {
	byEntity := make(map[string]*models.SeatResult, len(national))
	row := func(entityID string) *models.SeatResult {
		r, ok := byEntity[entityID]
		if !ok {
			r = &models.SeatResult{
				RunID:      runID,
				ElectionID: electionID,
				Level:      models.LevelNational,
				EntityID:   entityID,
				Method:     method,
				ComputedAt: at,
			}
			byEntity[entityID] = r
		}
		return r
	}

	for id, total := range national {
		row(id).Votes = total.Votes
	}
	for _, d := range districtRows {
		r := row(d.EntityID)
		r.OrdinarySeats += d.OrdinarySeats
		r.ReservedSeats += d.ReservedSeats
	}

	ids := make([]string, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]models.SeatResult, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, *byEntity[id])
	}
	return rows
}

func allocatedEntities(a apportionment.Allocation) []string {
	seen := make(map[string]struct{}, len(a.SeatsByEntity))
	for id := range a.SeatsByEntity {
		seen[id] = struct{}{}
	}
	for id := range a.ReservedByEntity {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot is the archived record of one run: inputs, outputs and provenance.
type Snapshot struct {
	RunID         uuid.UUID                    `json:"run_id"`
	ElectionID    string                       `json:"election_id"`
	Method        string                       `json:"method"`
	MethodVersion string                       `json:"method_version"`
	Attempt       int                          `json:"attempt"`
	InputsDigest  string                       `json:"inputs_digest"`
	Status        models.RunStatus             `json:"status"`
	ComputedAt    time.Time                    `json:"computed_at"`
	Election      models.Election              `json:"election"`
	Tallies       models.Tallies               `json:"tallies"`
	Result        apportionment.ElectionResult `json:"result"`
	DistrictErrs  []string                     `json:"district_errors,omitempty"`
	DistrictRows  []models.SeatResult          `json:"district_rows"`
	NationalRows  []models.SeatResult          `json:"national_rows"`
}

func (s Snapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
