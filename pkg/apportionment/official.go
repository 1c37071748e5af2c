package apportionment

import "seatengine/pkg/models"

// OfficialMethod is the regulator-facing variant. By default it allocates exactly
// like StandardMethod; deviations are expressed through its tie-break and reserved
// seat rule. It only runs when explicitly enabled.
type OfficialMethod struct {
	StandardMethod
	Revision string
}

// NewOfficialMethod builds the variant with the given tie-break and reserved seat rule.
func NewOfficialMethod(tb TieBreak, reserved ReservedSeatRule) OfficialMethod {
	return OfficialMethod{
		StandardMethod: StandardMethod{TieBreak: tb, Reserved: reserved},
		Revision:       "1.0.0",
	}
}

func (OfficialMethod) Name() string { return "official" }

func (m OfficialMethod) Version() string {
	if m.Revision == "" {
		return "1.0.0"
	}
	return m.Revision
}

// CanApply requires a legislative election and the explicit enable flag.
func (m OfficialMethod) CanApply(election models.Election, opts Options) bool {
	return opts.AlternateMethodEnabled && m.StandardMethod.CanApply(election, opts)
}
