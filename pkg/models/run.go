package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Level is the aggregation level of a persisted result set.
type Level string

const (
	LevelDistrict Level = "DISTRICT"
	LevelNational Level = "NATIONAL"
)

// RunStatus represents the state of a computation run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunPartial   RunStatus = "PARTIAL" // some districts failed, the others were committed
	RunFailed    RunStatus = "FAILED"
)

// ComputationRun records one execution of the apportionment engine for an election.
type ComputationRun struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ElectionID    string     `json:"election_id" gorm:"not null;index"`
	Method        string     `json:"method" gorm:"not null"`
	MethodVersion string     `json:"method_version"`
	Status        RunStatus  `json:"status" gorm:"type:varchar(20);default:'PENDING';index"`
	Attempt       int        `json:"attempt" gorm:"default:1"`
	NodeID        *string    `json:"node_id"`
	InputsDigest  string     `json:"inputs_digest"`
	ArchiveURI    string     `json:"archive_uri"`
	Error         string     `json:"error,omitempty"`
	DistrictErrs  IDList     `json:"district_errors,omitempty" gorm:"type:jsonb"` // "district: message" entries
	RetriedBy     *uuid.UUID `json:"retried_by,omitempty" gorm:"type:uuid"`
	ScheduledAt   time.Time  `json:"scheduled_at" gorm:"not null"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// BeforeCreate hook to generate UUID if not present
func (r *ComputationRun) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// RunRequest is the queue payload asking an executor to compute an election.
type RunRequest struct {
	RunID      uuid.UUID `json:"run_id"`
	ElectionID string    `json:"election_id"`
	Method     string    `json:"method"`
	Attempt    int       `json:"attempt"`
}

// SeatResult is one persisted apportionment row. District rows carry the district id;
// national roll-up rows leave it empty.
type SeatResult struct {
	ID            uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID         uuid.UUID `json:"run_id" gorm:"type:uuid;not null;index"`
	ElectionID    string    `json:"election_id" gorm:"not null;index:idx_result_scope"`
	Level         Level     `json:"level" gorm:"type:varchar(20);not null;index:idx_result_scope"`
	DistrictID    string    `json:"district_id,omitempty"`
	EntityID      string    `json:"entity_id" gorm:"not null"`
	Votes         int64     `json:"votes"`
	OrdinarySeats int       `json:"ordinary_seats"`
	ReservedSeats int       `json:"reserved_seats"`
	Remainder     int64     `json:"remainder"`
	Quotient      string    `json:"quotient,omitempty"` // decimal string, display only
	Method        string    `json:"method"`
	ComputedAt    time.Time `json:"computed_at"`
}
