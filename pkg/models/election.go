package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ElectionType identifies the kind of ballot event.
type ElectionType string

const (
	ElectionTypeLegislative  ElectionType = "LEGISLATIVE"
	ElectionTypePresidential ElectionType = "PRESIDENTIAL"
	ElectionTypeLocal        ElectionType = "LOCAL"
)

// ErrInvalidElection is returned by Validate when the election definition is structurally wrong.
var ErrInvalidElection = errors.New("invalid election definition")

// IDList is a list of identifiers stored as JSONB.
type IDList []string

func (l *IDList) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

// Election is a ballot event with its districts and competing entities.
type Election struct {
	ID         string       `json:"id" gorm:"primaryKey"`
	Name       string       `json:"name" gorm:"not null"`
	Type       ElectionType `json:"type" gorm:"type:varchar(20);not null"`
	Schedule   string       `json:"schedule,omitempty"` // cron expression for periodic recompute, empty = manual only
	Method     string       `json:"method,omitempty"`   // method used by scheduled runs
	NextRunAt  *time.Time   `json:"next_run_at,omitempty" gorm:"index"`
	Districts  []District   `json:"districts" gorm:"foreignKey:ElectionID;constraint:OnDelete:CASCADE"`
	Entities   []Entity     `json:"entities" gorm:"foreignKey:ElectionID;constraint:OnDelete:CASCADE"`
	Coalitions []Coalition  `json:"coalitions,omitempty" gorm:"foreignKey:ElectionID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Legislative reports whether seat apportionment applies to this election.
func (e Election) Legislative() bool {
	return e.Type == ElectionTypeLegislative
}

// District looks up a district by id.
func (e Election) District(id string) (District, bool) {
	for _, d := range e.Districts {
		if d.ID == id {
			return d, true
		}
	}
	return District{}, false
}

// CoalitionOf returns the coalition the entity belongs to, if any.
func (e Election) CoalitionOf(entityID string) (Coalition, bool) {
	for _, c := range e.Coalitions {
		for _, m := range c.MemberIDs {
			if m == entityID {
				return c, true
			}
		}
	}
	return Coalition{}, false
}

// Validate checks the structural invariants of the election definition.
func (e Election) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: election id is required", ErrInvalidElection)
	}

	districts := make(map[string]struct{}, len(e.Districts))
	for _, d := range e.Districts {
		if d.ID == "" {
			return fmt.Errorf("%w: district id is required", ErrInvalidElection)
		}
		if _, dup := districts[d.ID]; dup {
			return fmt.Errorf("%w: duplicate district %s", ErrInvalidElection, d.ID)
		}
		districts[d.ID] = struct{}{}
		if d.TotalSeats <= 0 {
			return fmt.Errorf("%w: district %s must have positive total seats", ErrInvalidElection, d.ID)
		}
		if d.ReservedSeats < 0 || d.ReservedSeats > d.TotalSeats {
			return fmt.Errorf("%w: district %s reserved seats out of range", ErrInvalidElection, d.ID)
		}
	}
	return e.ValidateMembership()
}

// ValidateMembership checks entity ids and the one-coalition-per-entity invariant.
// Seat counts are left to per-district computation.
func (e Election) ValidateMembership() error {
	entities := make(map[string]struct{}, len(e.Entities))
	for _, en := range e.Entities {
		if en.ID == "" {
			return fmt.Errorf("%w: entity id is required", ErrInvalidElection)
		}
		if _, dup := entities[en.ID]; dup {
			return fmt.Errorf("%w: duplicate entity %s", ErrInvalidElection, en.ID)
		}
		entities[en.ID] = struct{}{}
	}

	member := make(map[string]string)
	for _, c := range e.Coalitions {
		if len(c.MemberIDs) == 0 {
			return fmt.Errorf("%w: coalition %s has no members", ErrInvalidElection, c.ID)
		}
		for _, m := range c.MemberIDs {
			if _, ok := entities[m]; !ok {
				return fmt.Errorf("%w: coalition %s references unknown entity %s", ErrInvalidElection, c.ID, m)
			}
			if other, taken := member[m]; taken {
				return fmt.Errorf("%w: entity %s is in coalitions %s and %s", ErrInvalidElection, m, other, c.ID)
			}
			member[m] = c.ID
		}
	}
	return nil
}

// District is an electoral unit with a fixed number of seats.
type District struct {
	ID            string `json:"id" gorm:"primaryKey"`
	ElectionID    string `json:"election_id" gorm:"primaryKey"`
	Name          string `json:"name"`
	Position      int    `json:"position"` // declaration order within the election
	TotalSeats    int    `json:"total_seats" gorm:"not null"`
	ReservedSeats int    `json:"reserved_seats" gorm:"not null;default:0"`
}

// OrdinarySeats is the number of seats allocated by the quotient method.
func (d District) OrdinarySeats() int {
	return d.TotalSeats - d.ReservedSeats
}

// Entity is a political entity (party, list or independent candidature) competing in the election.
type Entity struct {
	ID         string `json:"id" gorm:"primaryKey"`
	ElectionID string `json:"election_id" gorm:"primaryKey"`
	Name       string `json:"name"`
}

// Coalition groups entities evaluated jointly against thresholds.
type Coalition struct {
	ID         string `json:"id" gorm:"primaryKey"`
	ElectionID string `json:"election_id" gorm:"primaryKey"`
	Name       string `json:"name"`
	MemberIDs  IDList `json:"member_ids" gorm:"type:jsonb"`
}
