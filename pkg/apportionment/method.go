package apportionment

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"seatengine/pkg/models"
)

// Allocation is the seat distribution of one district.
type Allocation struct {
	SeatsByEntity map[string]int `json:"seats_by_entity"`
	// Quotient is total votes over ordinary seats, rounded to 6 places for reporting.
	// Allocation itself never uses the rounded value.
	Quotient           decimal.Decimal  `json:"quotient"`
	RemaindersByEntity map[string]int64 `json:"remainders_by_entity"`
	ReservedByEntity   map[string]int   `json:"reserved_by_entity,omitempty"`
	// TieBreakApplied is set when a remainder seat was decided between exactly equal remainders.
	TieBreakApplied bool `json:"tie_break_applied"`
}

// TotalSeats sums the ordinary seats handed out.
func (a Allocation) TotalSeats() int {
	total := 0
	for _, s := range a.SeatsByEntity {
		total += s
	}
	return total
}

// Method is a seat apportionment strategy. Implementations must be stateless
// so that one value can serve concurrent computations.
type Method interface {
	Name() string
	Version() string
	// CanApply is a pure function of the election and the explicit options.
	CanApply(election models.Election, opts Options) bool
	AllocateSeats(district models.District, votes map[string]int64, ordinarySeats int) (Allocation, error)
}

// Parameterized is implemented by methods whose output depends on configuration
// beyond their name and version. The parameters are part of the inputs digest.
type Parameterized interface {
	Params() map[string]string
}

// Registry resolves methods by name. It is immutable once built.
type Registry struct {
	methods map[string]Method
}

// NewRegistry indexes the given methods by name.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{methods: make(map[string]Method, len(methods))}
	for _, m := range methods {
		if _, dup := r.methods[m.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate method %s", ErrInvalidConfiguration, m.Name())
		}
		r.methods[m.Name()] = m
	}
	return r, nil
}

// DefaultRegistry registers the standard and official methods.
func DefaultRegistry(official OfficialMethod) *Registry {
	r, _ := NewRegistry(NewStandardMethod(), official)
	return r
}

// Get returns the method registered under name.
func (r *Registry) Get(name string) (Method, error) {
	m, ok := r.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidConfiguration, name)
	}
	return m, nil
}

// Names lists registered method names in ascending order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.methods))
	for n := range r.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
