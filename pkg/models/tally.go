package models

import "sort"

// Tallies holds the aggregated vote counts of one election.
// PerDistrict is keyed by district id, then entity id.
type Tallies struct {
	PerDistrict           map[string]map[string]int64 `json:"per_district"`
	TotalValidPerDistrict map[string]int64            `json:"total_valid_per_district"`
	TotalValidNational    int64                       `json:"total_valid_national"`
}

// NewTallies returns empty tallies ready for Add.
func NewTallies() Tallies {
	return Tallies{
		PerDistrict:           make(map[string]map[string]int64),
		TotalValidPerDistrict: make(map[string]int64),
	}
}

// Add records votes for an entity in a district.
func (t *Tallies) Add(districtID, entityID string, votes int64) {
	if t.PerDistrict == nil {
		t.PerDistrict = make(map[string]map[string]int64)
	}
	if t.PerDistrict[districtID] == nil {
		t.PerDistrict[districtID] = make(map[string]int64)
	}
	t.PerDistrict[districtID][entityID] += votes
}

// EntityNational sums an entity's votes over every district.
func (t Tallies) EntityNational(entityID string) int64 {
	var sum int64
	for _, votes := range t.PerDistrict {
		sum += votes[entityID]
	}
	return sum
}

// Contests reports whether the entity has a candidature record in the district.
func (t Tallies) Contests(districtID, entityID string) bool {
	_, ok := t.PerDistrict[districtID][entityID]
	return ok
}

// Without returns a copy of the tallies that omits the given districts. The
// national total is kept as declared.
func (t Tallies) Without(districtIDs ...string) Tallies {
	skip := make(map[string]struct{}, len(districtIDs))
	for _, id := range districtIDs {
		skip[id] = struct{}{}
	}
	out := NewTallies()
	out.TotalValidNational = t.TotalValidNational
	for districtID, votes := range t.PerDistrict {
		if _, ok := skip[districtID]; ok {
			continue
		}
		out.PerDistrict[districtID] = make(map[string]int64, len(votes))
		for entityID, v := range votes {
			out.PerDistrict[districtID][entityID] = v
		}
	}
	for districtID, total := range t.TotalValidPerDistrict {
		if _, ok := skip[districtID]; !ok {
			out.TotalValidPerDistrict[districtID] = total
		}
	}
	return out
}

// DistrictSum sums the entity votes recorded for a district.
func (t Tallies) DistrictSum(districtID string) int64 {
	var sum int64
	for _, v := range t.PerDistrict[districtID] {
		sum += v
	}
	return sum
}

// VoteCount is the persisted vote total of one entity in one district.
type VoteCount struct {
	ElectionID string `json:"election_id" gorm:"primaryKey"`
	DistrictID string `json:"district_id" gorm:"primaryKey"`
	EntityID   string `json:"entity_id" gorm:"primaryKey"`
	Votes      int64  `json:"votes" gorm:"not null"`
}

// DistrictTurnout is the declared number of valid votes cast in a district.
type DistrictTurnout struct {
	ElectionID string `json:"election_id" gorm:"primaryKey"`
	DistrictID string `json:"district_id" gorm:"primaryKey"`
	TotalValid int64  `json:"total_valid" gorm:"not null"`
}

// NationalTurnout is the declared number of valid votes cast nationally.
type NationalTurnout struct {
	ElectionID string `json:"election_id" gorm:"primaryKey"`
	TotalValid int64  `json:"total_valid" gorm:"not null"`
}

// TalliesFromRows rebuilds tallies from their persisted form.
func TalliesFromRows(counts []VoteCount, turnouts []DistrictTurnout, national NationalTurnout) Tallies {
	t := NewTallies()
	for _, c := range counts {
		t.Add(c.DistrictID, c.EntityID, c.Votes)
	}
	for _, d := range turnouts {
		t.TotalValidPerDistrict[d.DistrictID] = d.TotalValid
	}
	t.TotalValidNational = national.TotalValid
	return t
}

// Rows flattens tallies into persisted rows in a stable order.
func (t Tallies) Rows(electionID string) ([]VoteCount, []DistrictTurnout, NationalTurnout) {
	var counts []VoteCount
	for _, districtID := range sortedKeys(t.PerDistrict) {
		votes := t.PerDistrict[districtID]
		entities := make([]string, 0, len(votes))
		for id := range votes {
			entities = append(entities, id)
		}
		sort.Strings(entities)
		for _, entityID := range entities {
			counts = append(counts, VoteCount{
				ElectionID: electionID,
				DistrictID: districtID,
				EntityID:   entityID,
				Votes:      votes[entityID],
			})
		}
	}

	turnouts := make([]DistrictTurnout, 0, len(t.TotalValidPerDistrict))
	for _, districtID := range sortedKeys(t.TotalValidPerDistrict) {
		turnouts = append(turnouts, DistrictTurnout{
			ElectionID: electionID,
			DistrictID: districtID,
			TotalValid: t.TotalValidPerDistrict[districtID],
		})
	}

	return counts, turnouts, NationalTurnout{ElectionID: electionID, TotalValid: t.TotalValidNational}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
