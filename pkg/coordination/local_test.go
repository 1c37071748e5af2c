package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLock_Excludes(t *testing.T) {
	c := NewLocalCoordinator()
	ctx := context.Background()
	name := ResultsLockName("e1", "DISTRICT")
	assert.Equal(t, "results/e1/DISTRICT", name)

	first := c.NewLock(name)
	require.NoError(t, first.Lock(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.NewLock(name).Lock(waitCtx), context.DeadlineExceeded)

	// other result sets are independent
	require.NoError(t, c.NewLock(ResultsLockName("e1", "NATIONAL")).Lock(ctx))

	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, c.NewLock(name).Lock(ctx))
}

func TestLocalElection_SingleLeader(t *testing.T) {
	c := NewLocalCoordinator()
	ctx := context.Background()

	a := c.NewElection("scheduler")
	require.NoError(t, a.Campaign(ctx, "node-a"))
	leader, _ := a.Leader(ctx)
	assert.Equal(t, "node-a", leader)

	b := c.NewElection("scheduler")
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Campaign(waitCtx, "node-b"))

	require.NoError(t, a.Resign(ctx))
	_, err := b.Leader(ctx)
	assert.ErrorIs(t, err, ErrNoLeader)

	require.NoError(t, b.Campaign(ctx, "node-b"))
	leader, _ = b.Leader(ctx)
	assert.Equal(t, "node-b", leader)
}

func TestLocalCoordinator_NodeRegistrationExpires(t *testing.T) {
	c := NewLocalCoordinator()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.RegisterNode(ctx, "node-b", 10))
	require.NoError(t, c.RegisterNode(ctx, "node-a", 30))

	nodes, err := c.GetActiveNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a", "node-b"}, nodes)

	now = now.Add(20 * time.Second)
	nodes, _ = c.GetActiveNodes(ctx)
	assert.Equal(t, []string{"node-a"}, nodes)
}
