package apportionment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"seatengine/pkg/models"
)

type digestInput struct {
	ElectionID    string             `json:"election_id"`
	Type          string             `json:"type"`
	Districts     []models.District  `json:"districts"`
	Entities      []string           `json:"entities"`
	Coalitions    []models.Coalition `json:"coalitions"`
	Tallies       models.Tallies     `json:"tallies"`
	Method        string             `json:"method"`
	MethodVersion string             `json:"method_version"`
	MethodParams  map[string]string  `json:"method_params,omitempty"`
	Policy        digestPolicy       `json:"policy"`
}

type digestPolicy struct {
	DistrictThresholdPct string `json:"district_threshold_pct"`
	NationalThresholdPct string `json:"national_threshold_pct"`
	Tolerance            int64  `json:"tolerance"`
	AlternateEnabled     bool   `json:"alternate_enabled"`
}

// InputsDigest fingerprints everything that determines a run's output: the election
// definition, the tallies, the method with its parameters, and the policy. Map keys are marshalled in
// sorted order, so equal inputs always produce the same hex digest.
func (e *Engine) InputsDigest(election models.Election, tallies models.Tallies, method Method) (string, error) {
	in := digestInput{
		ElectionID: election.ID,
		Type:       string(election.Type),
		Districts:  election.Districts,
		Coalitions: election.Coalitions,
		Tallies:    tallies,
		Policy: digestPolicy{
			DistrictThresholdPct: e.evaluator.policy.DistrictThresholdPct.String(),
			NationalThresholdPct: e.evaluator.policy.NationalThresholdPct.String(),
			Tolerance:            e.evaluator.policy.Tolerance,
			AlternateEnabled:     e.opts.AlternateMethodEnabled,
		},
	}
	for _, en := range election.Entities {
		in.Entities = append(in.Entities, en.ID)
	}
	if method != nil {
		in.Method = method.Name()
		in.MethodVersion = method.Version()
		if p, ok := method.(Parameterized); ok {
			in.MethodParams = p.Params()
		}
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
