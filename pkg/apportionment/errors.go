package apportionment

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistentTally is returned when vote sums violate the structural invariants of the tallies.
	ErrInconsistentTally = errors.New("inconsistent tally")
	// ErrInvalidConfiguration is returned for negative seat counts or dangling references.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrMethodNotApplicable is returned when a method refuses to run for an election.
	ErrMethodNotApplicable = errors.New("method not applicable")
)

// DistrictError ties a computation failure to the district it happened in.
type DistrictError struct {
	DistrictID string
	Err        error
}

func (e *DistrictError) Error() string {
	return fmt.Sprintf("district %s: %v", e.DistrictID, e.Err)
}

func (e *DistrictError) Unwrap() error {
	return e.Err
}
