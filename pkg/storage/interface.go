package storage

import (
	"context"
	"errors"
	"time"

	"seatengine/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// ElectionStore defines the data access layer for election definitions.
type ElectionStore interface {
	// CreateElection persists an election with its districts, entities and coalitions.
	CreateElection(ctx context.Context, election *models.Election) error

	// GetElection retrieves an election with districts in declaration order.
	GetElection(ctx context.Context, id string) (*models.Election, error)

	// ListDueElections finds scheduled elections whose next recompute is due.
	ListDueElections(ctx context.Context, now time.Time, limit int) ([]models.Election, error)

	// UpdateNextRun sets the next recompute time for an election.
	UpdateNextRun(ctx context.Context, id string, nextRun time.Time) error
}

// TallyProvider supplies the vote tallies of an election. Callers fetch once per run.
type TallyProvider interface {
	GetTallies(ctx context.Context, electionID string) (models.Tallies, error)
}

// TallyStore is a TallyProvider that also accepts tally uploads.
type TallyStore interface {
	TallyProvider

	// ReplaceTallies swaps the whole tally set of an election atomically.
	ReplaceTallies(ctx context.Context, electionID string, tallies models.Tallies) error
}

// ResultSink persists computed results.
type ResultSink interface {
	// ReplaceResults supersedes every result row of (election, level) with rows,
	// or leaves the previous set untouched on failure.
	ReplaceResults(ctx context.Context, electionID string, level models.Level, rows []models.SeatResult) error

	// ReplaceRunResults supersedes both levels of an election with one run's rows
	// in a single atomic write.
	ReplaceRunResults(ctx context.Context, electionID string, district, national []models.SeatResult) error

	// GetResults returns the current result set of (election, level).
	GetResults(ctx context.Context, electionID string, level models.Level) ([]models.SeatResult, error)
}

// RunOutcome is the final state written to a computation run.
type RunOutcome struct {
	Status        models.RunStatus
	MethodVersion string
	InputsDigest  string
	ArchiveURI    string
	Error         string
	DistrictErrs  []string
}

// RunStore defines the data access layer for computation run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ComputationRun) error

	GetRun(ctx context.Context, id uuid.UUID) (*models.ComputationRun, error)

	// ListRuns returns the most recent runs of an election, newest first.
	ListRuns(ctx context.Context, electionID string, limit int) ([]models.ComputationRun, error)

	// MarkRunning marks a run as picked up by a node.
	MarkRunning(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error

	// CompleteRun records the final status of a run.
	CompleteRun(ctx context.Context, id uuid.UUID, outcome RunOutcome) error

	// MarkOrphansAsFailed fails runs stuck in RUNNING state on dead nodes.
	MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error)

	// ListRetryable returns failed runs completed since a given time that have
	// not been retried and are below maxAttempts.
	ListRetryable(ctx context.Context, since time.Time, maxAttempts, limit int) ([]models.ComputationRun, error)

	// MarkRetried links a failed run to the run that retries it.
	MarkRetried(ctx context.Context, id, retryID uuid.UUID) error
}

// Queue defines the mechanism for dispatching run requests to executors.
type Queue interface {
	// Push adds a run request to the pending queue.
	Push(ctx context.Context, req *models.RunRequest) error

	// Pop retrieves a run request for a specific consumer group.
	Pop(ctx context.Context, group string, consumer string) (string, *models.RunRequest, error)

	// Ack acknowledges a run request as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error

	// Len returns the number of requests in the queue.
	Len(ctx context.Context) (int64, error)
}
