package coordination

import (
	"context"
	"errors"
)

// ErrNoLeader is returned by LeaderElection.Leader while nobody holds the campaign.
var ErrNoLeader = errors.New("no leader elected")

// Coordinator handles distributed coordination between scheduler and executor nodes.
type Coordinator interface {
	// NewElection creates a leader election for a given campaign name.
	NewElection(name string) LeaderElection

	// NewLock creates a distributed mutex guarding the named resource.
	NewLock(name string) Lock

	// RegisterNode announces a live node. Registrations expire after ttl seconds
	// unless refreshed.
	RegisterNode(ctx context.Context, nodeID string, ttl int) error

	// GetActiveNodes lists the node ids with a live registration.
	GetActiveNodes(ctx context.Context) ([]string, error)

	// Close terminates the coordinator connection.
	Close() error
}

// LeaderElection represents a single leader election campaign.
type LeaderElection interface {
	// Campaign starts the process of trying to become leader.
	// It blocks until leadership is acquired or an error occurs.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value (if any).
	Leader(ctx context.Context) (string, error)
}

// Lock is a mutual exclusion lock shared across nodes.
type Lock interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// ResultsLockName names the lock serialising writers of one (election, level) result set.
func ResultsLockName(electionID, level string) string {
	return "results/" + electionID + "/" + level
}
