package apportionment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"seatengine/pkg/models"
)

// Ineligibility reasons.
const (
	ReasonNoValidVotes             = "no valid votes"
	ReasonNoVotes                  = "no votes"
	ReasonBelowThreshold           = "below national/district threshold"
	ReasonMemberBelowNational      = "member below national threshold"
	ReasonCoalitionBelowDistrict   = "coalition below district threshold"
	ReasonNotContestingAnyDistrict = "no district contested"
	ReasonUndeterminable           = "eligibility undeterminable: inconsistent district tally"
)

// EligibilityResult is the threshold verdict for one entity.
type EligibilityResult struct {
	EntityID          string                     `json:"entity_id"`
	CoalitionID       string                     `json:"coalition_id,omitempty"`
	Eligible          bool                       `json:"eligible"`
	NationalVotes     int64                      `json:"national_votes"`
	NationalSharePct  decimal.Decimal            `json:"national_share_pct"`
	DistrictSharesPct map[string]decimal.Decimal `json:"district_shares_pct"`
	// EligibleDistricts lists the districts in which the entity takes part in allocation.
	EligibleDistricts map[string]bool `json:"eligible_districts"`
	Reason            string          `json:"reason,omitempty"`
}

// EligibleIn reports whether the entity shares in the allocation of a district.
func (r EligibilityResult) EligibleIn(districtID string) bool {
	return r.Eligible && r.EligibleDistricts[districtID]
}

// ThresholdEvaluator decides which entities may receive seats.
type ThresholdEvaluator struct {
	policy Policy
}

// NewThresholdEvaluator validates the policy and returns an evaluator bound to it.
func NewThresholdEvaluator(policy Policy) (*ThresholdEvaluator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &ThresholdEvaluator{policy: policy}, nil
}

// Policy returns the policy the evaluator applies.
func (t *ThresholdEvaluator) Policy() Policy {
	return t.policy
}

// Evaluate computes the eligibility of every entity of the election.
// It has no side effects; identical inputs yield identical results.
func (t *ThresholdEvaluator) Evaluate(election models.Election, tallies models.Tallies) (map[string]EligibilityResult, error) {
	if err := election.ValidateMembership(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if err := t.CheckTallies(election, tallies); err != nil {
		return nil, err
	}

	results := make(map[string]EligibilityResult, len(election.Entities))
	for _, en := range election.Entities {
		r := EligibilityResult{
			EntityID:          en.ID,
			NationalVotes:     tallies.EntityNational(en.ID),
			DistrictSharesPct: make(map[string]decimal.Decimal),
			EligibleDistricts: make(map[string]bool),
		}
		r.NationalSharePct = sharePct(r.NationalVotes, tallies.TotalValidNational)
		for _, d := range election.Districts {
			if tallies.Contests(d.ID, en.ID) {
				r.DistrictSharesPct[d.ID] = sharePct(tallies.PerDistrict[d.ID][en.ID], tallies.TotalValidPerDistrict[d.ID])
			}
		}
		if c, ok := election.CoalitionOf(en.ID); ok {
			r.CoalitionID = c.ID
		}
		results[en.ID] = r
	}

	if tallies.TotalValidNational == 0 {
		for id, r := range results {
			r.Reason = ReasonNoValidVotes
			results[id] = r
		}
		return results, nil
	}

	for _, en := range election.Entities {
		if results[en.ID].CoalitionID == "" {
			results[en.ID] = t.evaluateStandalone(election, tallies, results[en.ID])
		}
	}
	for _, c := range election.Coalitions {
		t.evaluateCoalition(election, tallies, c, results)
	}
	return results, nil
}

// CheckTallies verifies that every vote row and declared total references a known
// district and entity, that no district sum exceeds its declared total, and that
// the national total covers the declared district totals, all within tolerance.
func (t *ThresholdEvaluator) CheckTallies(election models.Election, tallies models.Tallies) error {
	failed, err := t.checkTallies(election, tallies)
	if err != nil {
		return err
	}
	for _, d := range election.Districts {
		if err := failed[d.ID]; err != nil {
			return err
		}
	}
	return nil
}

// checkTallies separates election-wide problems, returned as the error, from
// districts whose own tallies are inconsistent, returned in the map.
func (t *ThresholdEvaluator) checkTallies(election models.Election, tallies models.Tallies) (map[string]error, error) {
	entities := make(map[string]struct{}, len(election.Entities))
	for _, en := range election.Entities {
		entities[en.ID] = struct{}{}
	}

	for _, districtID := range tallyDistricts(tallies) {
		if _, ok := election.District(districtID); !ok {
			return nil, fmt.Errorf("%w: tallies reference unknown district %s", ErrInvalidConfiguration, districtID)
		}
	}

	failed := make(map[string]error)
	var declaredSum int64
	for _, district := range election.Districts {
		if err := t.checkDistrict(district.ID, tallies, entities); err != nil {
			var de *DistrictError
			if !errors.As(err, &de) {
				return nil, err
			}
			failed[district.ID] = err
		}
		declared := tallies.TotalValidPerDistrict[district.ID]
		if declared < 0 {
			continue
		}
		var ok bool
		if declaredSum, ok = addVotes(declaredSum, declared); !ok {
			return nil, fmt.Errorf("%w: declared district totals overflow", ErrInconsistentTally)
		}
	}

	if tallies.TotalValidNational < 0 {
		return nil, fmt.Errorf("%w: negative national valid total", ErrInconsistentTally)
	}
	if declaredSum-t.policy.Tolerance > tallies.TotalValidNational {
		return nil, fmt.Errorf("%w: districts declare %d valid votes, national total is %d", ErrInconsistentTally, declaredSum, tallies.TotalValidNational)
	}
	return failed, nil
}

// EvaluateIsolated is Evaluate for whole-election runs. Districts with inconsistent
// tallies are set aside instead of failing the election: entities contesting them,
// and their coalition partners, get ReasonUndeterminable, and every other district
// those entities contest fails too. The returned map holds the failed districts.
func (t *ThresholdEvaluator) EvaluateIsolated(election models.Election, tallies models.Tallies) (map[string]EligibilityResult, map[string]error, error) {
	if err := election.ValidateMembership(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	failed, err := t.checkTallies(election, tallies)
	if err != nil {
		return nil, nil, err
	}

	bad := sortedKeys(failed)
	results, err := t.Evaluate(election, tallies.Without(bad...))
	if err != nil {
		return nil, nil, err
	}
	if len(bad) == 0 {
		return results, failed, nil
	}

	// entity id -> the inconsistent district its verdict depends on
	tainted := make(map[string]string)
	for _, districtID := range bad {
		for _, entityID := range sortedKeys(tallies.PerDistrict[districtID]) {
			if _, seen := tainted[entityID]; !seen {
				tainted[entityID] = districtID
			}
		}
	}
	for _, c := range election.Coalitions {
		source := ""
		for _, member := range c.MemberIDs {
			if d, ok := tainted[member]; ok && (source == "" || d < source) {
				source = d
			}
		}
		if source == "" {
			continue
		}
		for _, member := range c.MemberIDs {
			if _, ok := tainted[member]; !ok {
				tainted[member] = source
			}
		}
	}

	for entityID := range tainted {
		r, ok := results[entityID]
		if !ok {
			continue
		}
		r.Eligible = false
		r.EligibleDistricts = make(map[string]bool)
		r.Reason = ReasonUndeterminable
		results[entityID] = r
	}

	for _, d := range election.Districts {
		if failed[d.ID] != nil {
			continue
		}
		for _, entityID := range sortedKeys(tallies.PerDistrict[d.ID]) {
			if source, ok := tainted[entityID]; ok {
				failed[d.ID] = &DistrictError{DistrictID: d.ID, Err: fmt.Errorf(
					"%w: eligibility of %s depends on inconsistent district %s", ErrInconsistentTally, entityID, source)}
				break
			}
		}
	}
	return results, failed, nil
}

func (t *ThresholdEvaluator) checkDistrict(districtID string, tallies models.Tallies, entities map[string]struct{}) error {
	var sum int64
	for _, entityID := range sortedKeys(tallies.PerDistrict[districtID]) {
		votes := tallies.PerDistrict[districtID][entityID]
		if _, ok := entities[entityID]; !ok {
			return fmt.Errorf("%w: district %s tallies reference unknown entity %s", ErrInvalidConfiguration, districtID, entityID)
		}
		if votes < 0 {
			return &DistrictError{DistrictID: districtID, Err: fmt.Errorf("%w: negative votes for %s", ErrInconsistentTally, entityID)}
		}
		var ok bool
		if sum, ok = addVotes(sum, votes); !ok {
			return &DistrictError{DistrictID: districtID, Err: fmt.Errorf("%w: vote sum overflows", ErrInconsistentTally)}
		}
	}

	declared, ok := tallies.TotalValidPerDistrict[districtID]
	if !ok && sum > 0 {
		return &DistrictError{DistrictID: districtID, Err: fmt.Errorf("%w: no declared valid total", ErrInconsistentTally)}
	}
	if declared < 0 {
		return &DistrictError{DistrictID: districtID, Err: fmt.Errorf("%w: negative declared valid total", ErrInconsistentTally)}
	}
	if sum-t.policy.Tolerance > declared {
		return &DistrictError{DistrictID: districtID, Err: fmt.Errorf("%w: %d votes recorded, %d valid declared", ErrInconsistentTally, sum, declared)}
	}
	return nil
}

// tallyDistricts lists every district id the tallies mention, sorted.
func tallyDistricts(tallies models.Tallies) []string {
	seen := make(map[string]struct{}, len(tallies.PerDistrict))
	for id := range tallies.PerDistrict {
		seen[id] = struct{}{}
	}
	for id := range tallies.TotalValidPerDistrict {
		seen[id] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *ThresholdEvaluator) evaluateStandalone(election models.Election, tallies models.Tallies, r EligibilityResult) EligibilityResult {
	if r.NationalVotes == 0 {
		r.Reason = ReasonNoVotes
		return r
	}

	contested := 0
	for _, d := range election.Districts {
		if !tallies.Contests(d.ID, r.EntityID) {
			continue
		}
		contested++
		if !meetsThreshold(tallies.PerDistrict[d.ID][r.EntityID], tallies.TotalValidPerDistrict[d.ID], t.policy.DistrictThresholdPct) {
			r.Reason = ReasonBelowThreshold
			return r
		}
	}
	if contested == 0 {
		r.Reason = ReasonNotContestingAnyDistrict
		return r
	}

	r.Eligible = true
	for d := range r.DistrictSharesPct {
		r.EligibleDistricts[d] = true
	}
	return r
}

func (t *ThresholdEvaluator) evaluateCoalition(election models.Election, tallies models.Tallies, c models.Coalition, results map[string]EligibilityResult) {
	for _, m := range c.MemberIDs {
		if !meetsThreshold(results[m].NationalVotes, tallies.TotalValidNational, t.policy.NationalThresholdPct) {
			for _, id := range c.MemberIDs {
				r := results[id]
				r.Reason = ReasonMemberBelowNational
				results[id] = r
			}
			return
		}
	}

	for _, d := range election.Districts {
		var combined int64
		var present []string
		for _, m := range c.MemberIDs {
			if tallies.Contests(d.ID, m) {
				combined += tallies.PerDistrict[d.ID][m]
				present = append(present, m)
			}
		}
		if len(present) == 0 || !meetsThreshold(combined, tallies.TotalValidPerDistrict[d.ID], t.policy.DistrictThresholdPct) {
			continue
		}
		for _, m := range present {
			results[m].EligibleDistricts[d.ID] = true
		}
	}

	for _, m := range c.MemberIDs {
		r := results[m]
		if len(r.EligibleDistricts) > 0 {
			r.Eligible = true
			r.Reason = ""
		} else {
			r.Reason = ReasonCoalitionBelowDistrict
		}
		results[m] = r
	}
}
