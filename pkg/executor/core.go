package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	config "seatengine/configs"
	"seatengine/pkg/apportionment"
	"seatengine/pkg/coordination"
	"seatengine/pkg/logger"
	"seatengine/pkg/metrics"
	"seatengine/pkg/models"
	"seatengine/pkg/resilience"
	"seatengine/pkg/storage"
)

const (
	// ConsumerGroup is the queue consumer group shared by all executors.
	ConsumerGroup = "seatengine-executors"

	heartbeatTTL = 10 // seconds

	// memPerWorkerMB is the memory budget of one in-flight election computation.
	memPerWorkerMB = 256
)

// Deps bundles the collaborators of an executor.
type Deps struct {
	Coordinator coordination.Coordinator
	Queue       storage.Queue
	Elections   storage.ElectionStore
	Tallies     storage.TallyProvider
	Results     storage.ResultSink
	Runs        storage.RunStore
	Archive     storage.Archive
	Engine      *apportionment.Engine
	Registry    *apportionment.Registry
}

type Executor struct {
	ID       string
	Hostname string

	// Resources
	Workers  int
	TotalMem uint64 // In MB

	deps     Deps
	interval time.Duration
	retry    resilience.RetryConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewExecutor(cfg *config.Config, deps Deps) *Executor {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	totalMem := detectTotalMemory()

	return &Executor{
		ID:       id,
		Hostname: hostname,
		Workers:  workerCount(cfg.WorkerConcurrency, runtime.NumCPU(), totalMem),
		TotalMem: totalMem,
		deps:     deps,
		interval: 5 * time.Second,
		retry:    resilience.DefaultRetryConfig(),
		log:      logger.Component("executor", zap.String("node_id", id)),
		now:      time.Now,
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("Failed to detect memory, defaulting to 1GB", zap.Error(err))
		return 1024
	}
	// Return in MB
	return v.Total / 1024 / 1024
}

// workerCount sizes the pool: the configured value wins, otherwise one worker
// per CPU bounded by available memory.
func workerCount(configured, cpus int, totalMemMB uint64) int {
	if configured > 0 {
		return configured
	}
	n := cpus
	if byMem := int(totalMemMB / memPerWorkerMB); byMem < n {
		n = byMem
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Start runs the heartbeat and worker loops until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) {
	e.log.Info("Starting executor", zap.Int("workers", e.Workers), zap.Uint64("memory_mb", e.TotalMem))

	if err := e.deps.Queue.EnsureGroup(ctx, ConsumerGroup); err != nil {
		e.log.Warn("Failed to ensure consumer group", zap.Error(err))
	}

	if err := e.RegisterHeartbeat(ctx); err != nil {
		e.log.Warn("Initial heartbeat failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.RegisterHeartbeat(ctx); err != nil {
					e.log.Warn("Heartbeat failed", zap.Error(err))
				}
			}
		}
	}()

	for i := 0; i < e.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				e.consumeOne(ctx)
			}
		}()
	}

	wg.Wait()
	e.log.Info("Executor stopped")
}

func (e *Executor) consumeOne(ctx context.Context) {
	// Pop blocks up to the queue's read window
	msgID, req, err := e.deps.Queue.Pop(ctx, ConsumerGroup, e.ID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Error("Failed to pop run request", zap.Error(err))
		sleep(ctx, time.Second)
		return
	}
	if req == nil {
		return
	}

	outcome := e.Process(ctx, req)
	if ctx.Err() != nil && outcome.Status == models.RunFailed {
		// leave the message pending; the reaper fails the run and the scheduler retries it
		return
	}

	if err := e.deps.Queue.Ack(ctx, ConsumerGroup, msgID); err != nil {
		e.log.Warn("Failed to ack run request", zap.String("msg_id", msgID), zap.Error(err))
	}
}

// Process executes one run request end to end and records its outcome.
func (e *Executor) Process(ctx context.Context, req *models.RunRequest) storage.RunOutcome {
	metrics.ExecutorRunsInFlight.Inc()
	defer metrics.ExecutorRunsInFlight.Dec()

	start := e.now()
	log := e.log.With(
		zap.String("run_id", req.RunID.String()),
		zap.String("election_id", req.ElectionID),
		zap.String("method", req.Method),
		zap.Int("attempt", req.Attempt),
	)
	log.Info("Received run")

	if err := e.deps.Runs.MarkRunning(ctx, req.RunID, e.ID, start); err != nil {
		log.Warn("Failed to report running state", zap.Error(err))
	}

	outcome := e.execute(ctx, req, log)

	// the final write must survive a shutdown that interrupted the run
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.deps.Runs.CompleteRun(finishCtx, req.RunID, outcome); err != nil {
		log.Error("Failed to record run outcome", zap.Error(err))
	}

	duration := e.now().Sub(start)
	metrics.RecordRun(req.Method, string(outcome.Status), duration.Seconds())

	fields := []zap.Field{zap.String("status", string(outcome.Status)), zap.Duration("duration", duration)}
	switch outcome.Status {
	case models.RunSucceeded:
		log.Info("Run finished", fields...)
	case models.RunPartial:
		log.Warn("Run finished with district failures", append(fields, zap.Strings("district_errors", outcome.DistrictErrs))...)
	default:
		log.Error("Run failed", append(fields, zap.String("error", outcome.Error))...)
	}
	return outcome
}

func (e *Executor) execute(ctx context.Context, req *models.RunRequest, log *zap.Logger) storage.RunOutcome {
	failed := func(err error) storage.RunOutcome {
		return storage.RunOutcome{Status: models.RunFailed, Error: err.Error()}
	}

	method, err := e.deps.Registry.Get(req.Method)
	if err != nil {
		return failed(err)
	}

	election, err := e.deps.Elections.GetElection(ctx, req.ElectionID)
	if err != nil {
		return failed(fmt.Errorf("load election: %w", err))
	}
	// fetched once; every district of this run sees the same tallies
	tallies, err := e.deps.Tallies.GetTallies(ctx, req.ElectionID)
	if err != nil {
		return failed(fmt.Errorf("load tallies: %w", err))
	}

	digest, err := e.deps.Engine.InputsDigest(*election, tallies, method)
	if err != nil {
		return failed(fmt.Errorf("digest inputs: %w", err))
	}
	outcome := storage.RunOutcome{MethodVersion: method.Version(), InputsDigest: digest}

	result, err := e.deps.Engine.ComputeElection(ctx, *election, tallies, method)
	if err != nil {
		outcome.Status = models.RunFailed
		outcome.Error = err.Error()
		return outcome
	}

	outcome.DistrictErrs = result.ErrorMessages(*election)
	if len(result.Districts) == 0 && len(result.Errors) > 0 {
		outcome.Status = models.RunFailed
		outcome.Error = "every district failed"
		return outcome
	}

	computedAt := e.now().UTC()
	districtRows, nationalRows, err := e.commit(ctx, req, *election, result, computedAt)
	if err != nil {
		outcome.Status = models.RunFailed
		outcome.Error = fmt.Sprintf("commit results: %v", err)
		return outcome
	}

	outcome.Status = models.RunSucceeded
	if result.Partial() {
		outcome.Status = models.RunPartial
	}

	snap := Snapshot{
		RunID:         req.RunID,
		ElectionID:    req.ElectionID,
		Method:        method.Name(),
		MethodVersion: method.Version(),
		Attempt:       req.Attempt,
		InputsDigest:  digest,
		Status:        outcome.Status,
		ComputedAt:    computedAt,
		Election:      *election,
		Tallies:       tallies,
		Result:        result,
		DistrictErrs:  outcome.DistrictErrs,
		DistrictRows:  districtRows,
		NationalRows:  nationalRows,
	}
	uri, err := e.archive(ctx, snap)
	if err != nil {
		// results are committed; the run keeps its status and records the archive failure
		log.Error("Failed to archive run snapshot", zap.Error(err))
		outcome.Error = fmt.Sprintf("snapshot not archived: %v", err)
	}
	outcome.ArchiveURI = uri
	return outcome
}

// commit replaces both result levels with this run's rows under the
// (election, level) locks, always taken in district-then-national order.
// Districts that failed in this run have no rows in the committed set.
func (e *Executor) commit(ctx context.Context, req *models.RunRequest, election models.Election, result apportionment.ElectionResult, at time.Time) ([]models.SeatResult, []models.SeatResult, error) {
	districtLock := e.deps.Coordinator.NewLock(coordination.ResultsLockName(election.ID, string(models.LevelDistrict)))
	nationalLock := e.deps.Coordinator.NewLock(coordination.ResultsLockName(election.ID, string(models.LevelNational)))

	if err := districtLock.Lock(ctx); err != nil {
		return nil, nil, fmt.Errorf("acquire district lock: %w", err)
	}
	defer unlock(districtLock, e.log)
	if err := nationalLock.Lock(ctx); err != nil {
		return nil, nil, fmt.Errorf("acquire national lock: %w", err)
	}
	defer unlock(nationalLock, e.log)

	districtRows := DistrictRows(req.RunID, election, result, at)
	nationalRows := NationalRows(req.RunID, election.ID, result.Method, districtRows, result.National, at)

	err := resilience.Retry(ctx, e.retry, func() error {
		return e.deps.Results.ReplaceRunResults(ctx, election.ID, districtRows, nationalRows)
	})
	if err != nil {
		return nil, nil, err
	}
	return districtRows, nationalRows, nil
}

func (e *Executor) archive(ctx context.Context, snap Snapshot) (string, error) {
	if e.deps.Archive == nil {
		return "", nil
	}
	payload, err := snap.Marshal()
	if err != nil {
		return "", err
	}
	var uri string
	err = resilience.Retry(ctx, e.retry, func() error {
		var storeErr error
		uri, storeErr = e.deps.Archive.Store(ctx, snap.ElectionID, snap.RunID.String(), payload)
		if errors.Is(storeErr, storage.ErrConflict) {
			return resilience.Permanent(storeErr)
		}
		return storeErr
	})
	return uri, err
}

// RegisterHeartbeat refreshes the node registration in the coordinator.
func (e *Executor) RegisterHeartbeat(ctx context.Context) error {
	if err := e.deps.Coordinator.RegisterNode(ctx, e.ID, heartbeatTTL); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	e.log.Debug("Heartbeat sent")
	metrics.HeartbeatsSent.Inc()
	return nil
}

func unlock(l coordination.Lock, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Unlock(ctx); err != nil {
		log.Warn("Failed to release results lock", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
