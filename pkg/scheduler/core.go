package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "seatengine/configs"
	"seatengine/pkg/coordination"
	"seatengine/pkg/logger"
	"seatengine/pkg/metrics"
	"seatengine/pkg/models"
	"seatengine/pkg/storage"
)

const (
	// DefaultMethod is used by scheduled runs of elections that name no method.
	DefaultMethod = "standard"

	// ElectionName is the leader campaign shared by scheduler nodes.
	ElectionName = "scheduler"

	pollBatch  = 50
	retryBatch = 20
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// Dispatcher records a run and hands it to the executors.
type Dispatcher struct {
	runs  storage.RunStore
	queue storage.Queue
	now   func() time.Time
}

func NewDispatcher(runs storage.RunStore, queue storage.Queue) *Dispatcher {
	return &Dispatcher{runs: runs, queue: queue, now: time.Now}
}

// Enqueue creates a PENDING run and pushes its request. A run whose push fails is
// marked FAILED so the retry loop picks it up.
func (d *Dispatcher) Enqueue(ctx context.Context, electionID, method string, attempt int, scheduledAt time.Time) (*models.ComputationRun, error) {
	if scheduledAt.IsZero() {
		scheduledAt = d.now()
	}
	run := &models.ComputationRun{
		ElectionID:  electionID,
		Method:      method,
		Status:      models.RunPending,
		Attempt:     attempt,
		ScheduledAt: scheduledAt,
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	req := &models.RunRequest{RunID: run.ID, ElectionID: electionID, Method: method, Attempt: attempt}
	if err := d.queue.Push(ctx, req); err != nil {
		outcome := storage.RunOutcome{Status: models.RunFailed, Error: fmt.Sprintf("enqueue failed: %v", err)}
		if cerr := d.runs.CompleteRun(ctx, run.ID, outcome); cerr != nil {
			logger.Warn("Failed to mark unqueued run as failed", zap.String("run_id", run.ID.String()), zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to push run: %w", err)
	}

	metrics.RecordEnqueue(d.now().Sub(scheduledAt).Seconds())
	return run, nil
}

type Core struct {
	elections   storage.ElectionStore
	runs        storage.RunStore
	queue       storage.Queue
	dispatcher  *Dispatcher
	coordinator coordination.Coordinator

	nodeID      string
	interval    time.Duration
	maxAttempts int
	retryWindow time.Duration
	log         *zap.Logger
	now         func() time.Time
}

func NewCore(cfg *config.Config, nodeID string, elections storage.ElectionStore, runs storage.RunStore, queue storage.Queue, coord coordination.Coordinator) *Core {
	interval := cfg.SchedulerInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Core{
		elections:   elections,
		runs:        runs,
		queue:       queue,
		dispatcher:  NewDispatcher(runs, queue),
		coordinator: coord,
		nodeID:      nodeID,
		interval:    interval,
		maxAttempts: maxAttempts,
		retryWindow: 10 * time.Minute,
		log:         logger.Component("scheduler", zap.String("node_id", nodeID)),
		now:         time.Now,
	}
}

// Run starts the main scheduler loop. It blocks until the context is cancelled.
// Every tick first confirms this node still holds leadership.
func (c *Core) Run(ctx context.Context, election coordination.LeaderElection) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	reconcileTicker := time.NewTicker(30 * time.Second)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Shutting down")
			return
		case <-ticker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			if err := c.PollAndSchedule(ctx); err != nil {
				c.log.Error("Error in schedule loop", zap.Error(err))
			}
		case <-reconcileTicker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			if err := c.Reconcile(ctx); err != nil {
				c.log.Error("Error in reconcile loop", zap.Error(err))
			}
		}
	}
}

func (c *Core) isLeader(ctx context.Context, election coordination.LeaderElection) bool {
	leader, err := election.Leader(ctx)
	if err != nil {
		c.log.Warn("Error checking leadership", zap.Error(err))
		return false
	}
	if leader != c.nodeID {
		c.log.Warn("Leadership lost", zap.String("leader", leader))
		return false
	}
	return true
}

// PollAndSchedule enqueues a run for every election whose recompute is due and
// moves its schedule forward.
func (c *Core) PollAndSchedule(ctx context.Context) error {
	metrics.SchedulerPolls.Inc()
	now := c.now()

	elections, err := c.elections.ListDueElections(ctx, now, pollBatch)
	if err != nil {
		return fmt.Errorf("failed to list due elections: %w", err)
	}
	if depth, err := c.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	if len(elections) == 0 {
		return nil
	}

	c.log.Info("Elections due for recompute", zap.Int("count", len(elections)))

	for _, election := range elections {
		log := c.log.With(zap.String("election_id", election.ID))

		// move the schedule first so a failed enqueue is not retried every tick
		schedule, err := ParseSchedule(election.Schedule)
		if err != nil {
			log.Error("Invalid schedule", zap.Error(err))
			continue
		}
		nextRun := schedule.Next(now)
		if err := c.elections.UpdateNextRun(ctx, election.ID, nextRun); err != nil {
			log.Error("Failed to update next run", zap.Error(err))
			continue
		}

		method := election.Method
		if method == "" {
			method = DefaultMethod
		}
		scheduledAt := now
		if election.NextRunAt != nil {
			scheduledAt = *election.NextRunAt
		}
		run, err := c.dispatcher.Enqueue(ctx, election.ID, method, 1, scheduledAt)
		if err != nil {
			log.Error("Failed to dispatch run", zap.Error(err))
			continue
		}

		log.Info("Dispatched run",
			zap.String("run_id", run.ID.String()),
			zap.String("method", method),
			zap.Time("next_run", nextRun),
		)
	}
	return nil
}

// Reconcile fails runs orphaned by dead executor nodes and retries failures.
func (c *Core) Reconcile(ctx context.Context) error {
	nodes, err := c.coordinator.GetActiveNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to get active nodes: %w", err)
	}
	metrics.ActiveNodes.Set(float64(len(nodes)))

	// with no live node every RUNNING run is an orphan
	count, err := c.runs.MarkOrphansAsFailed(ctx, nodes)
	if err != nil {
		return fmt.Errorf("failed to reap orphans: %w", err)
	}
	if count > 0 {
		metrics.OrphansReaped.Add(float64(count))
		c.log.Warn("Reaped orphaned runs from dead nodes", zap.Int64("count", count))
	}

	if err := c.RetryFailures(ctx); err != nil {
		c.log.Error("Error retrying failures", zap.Error(err))
	}
	return nil
}

// RetryFailures re-enqueues recently failed runs below the attempt limit. Each
// failed run is linked to its retry so it is never retried twice.
func (c *Core) RetryFailures(ctx context.Context) error {
	since := c.now().Add(-c.retryWindow)
	failures, err := c.runs.ListRetryable(ctx, since, c.maxAttempts, retryBatch)
	if err != nil {
		return err
	}

	for _, failure := range failures {
		log := c.log.With(zap.String("election_id", failure.ElectionID), zap.String("failed_run_id", failure.ID.String()))

		// exponential backoff: 10s, 20s, 40s...
		backoff := time.Duration(1<<uint(failure.Attempt-1)) * 10 * time.Second
		if failure.CompletedAt != nil && c.now().Before(failure.CompletedAt.Add(backoff)) {
			continue
		}

		retry, err := c.dispatcher.Enqueue(ctx, failure.ElectionID, failure.Method, failure.Attempt+1, c.now())
		if err != nil {
			log.Error("Failed to schedule retry", zap.Error(err))
			continue
		}
		if err := c.runs.MarkRetried(ctx, failure.ID, retry.ID); err != nil {
			log.Warn("Failed to link retry", zap.Error(err))
		}
		metrics.RetriesTotal.WithLabelValues(failure.ElectionID).Inc()

		log.Info("Scheduled retry",
			zap.String("run_id", retry.ID.String()),
			zap.Int("attempt", retry.Attempt),
			zap.Int("max_attempts", c.maxAttempts),
		)
	}
	return nil
}
