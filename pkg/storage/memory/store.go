package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"seatengine/pkg/models"
	"seatengine/pkg/storage"
)

// Store keeps elections, tallies, results and runs in process memory.
// It backs tests and single-node development setups.
type Store struct {
	mu sync.RWMutex

	elections map[string]models.Election
	tallies   map[string]models.Tallies
	results   map[resultKey][]models.SeatResult
	runs      map[uuid.UUID]models.ComputationRun
	nextRowID uint

	// FailReplace, when set, makes result replacement fail for matching levels.
	FailReplace func(electionID string, level models.Level) error
}

type resultKey struct {
	electionID string
	level      models.Level
}

var (
	_ storage.ElectionStore = (*Store)(nil)
	_ storage.TallyStore    = (*Store)(nil)
	_ storage.ResultSink    = (*Store)(nil)
	_ storage.RunStore      = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		elections: make(map[string]models.Election),
		tallies:   make(map[string]models.Tallies),
		results:   make(map[resultKey][]models.SeatResult),
		runs:      make(map[uuid.UUID]models.ComputationRun),
	}
}

func (s *Store) CreateElection(_ context.Context, election *models.Election) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(election.ID)
	if _, exists := s.elections[id]; exists {
		return storage.ErrConflict
	}
	now := time.Now()
	election.CreatedAt = now
	election.UpdatedAt = now
	for i := range election.Districts {
		election.Districts[i].ElectionID = id
		election.Districts[i].Position = i
	}
	for i := range election.Entities {
		election.Entities[i].ElectionID = id
	}
	for i := range election.Coalitions {
		election.Coalitions[i].ElectionID = id
	}
	s.elections[id] = cloneElection(*election)
	return nil
}

func (s *Store) GetElection(_ context.Context, id string) (*models.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	election, ok := s.elections[strings.TrimSpace(id)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneElection(election)
	return &out, nil
}

func (s *Store) ListDueElections(_ context.Context, now time.Time, limit int) ([]models.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.Election
	for _, election := range s.elections {
		if election.Schedule == "" || election.NextRunAt == nil || election.NextRunAt.After(now) {
			continue
		}
		due = append(due, cloneElection(election))
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextRunAt.Equal(*due[j].NextRunAt) {
			return due[i].NextRunAt.Before(*due[j].NextRunAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) UpdateNextRun(_ context.Context, id string, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	election, ok := s.elections[id]
	if !ok {
		return storage.ErrNotFound
	}
	election.NextRunAt = &nextRun
	election.UpdatedAt = time.Now()
	s.elections[id] = election
	return nil
}

func (s *Store) GetTallies(_ context.Context, electionID string) (models.Tallies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.elections[electionID]; !ok {
		return models.Tallies{}, storage.ErrNotFound
	}
	return cloneTallies(s.tallies[electionID]), nil
}

func (s *Store) ReplaceTallies(_ context.Context, electionID string, tallies models.Tallies) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.elections[electionID]; !ok {
		return storage.ErrNotFound
	}
	s.tallies[electionID] = cloneTallies(tallies)
	return nil
}

func (s *Store) ReplaceResults(_ context.Context, electionID string, level models.Level, rows []models.SeatResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failReplace(electionID, level); err != nil {
		return err
	}
	s.results[resultKey{electionID, level}] = s.stamp(electionID, level, rows)
	return nil
}

// ReplaceRunResults swaps both levels under one lock; a failure on either level
// leaves both previous sets in place.
func (s *Store) ReplaceRunResults(_ context.Context, electionID string, district, national []models.SeatResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, level := range []models.Level{models.LevelDistrict, models.LevelNational} {
		if err := s.failReplace(electionID, level); err != nil {
			return err
		}
	}
	s.results[resultKey{electionID, models.LevelDistrict}] = s.stamp(electionID, models.LevelDistrict, district)
	s.results[resultKey{electionID, models.LevelNational}] = s.stamp(electionID, models.LevelNational, national)
	return nil
}

func (s *Store) failReplace(electionID string, level models.Level) error {
	if s.FailReplace == nil {
		return nil
	}
	return s.FailReplace(electionID, level)
}

func (s *Store) stamp(electionID string, level models.Level, rows []models.SeatResult) []models.SeatResult {
	next := make([]models.SeatResult, len(rows))
	for i, row := range rows {
		s.nextRowID++
		row.ID = s.nextRowID
		row.ElectionID = electionID
		row.Level = level
		next[i] = row
	}
	return next
}

func (s *Store) GetResults(_ context.Context, electionID string, level models.Level) ([]models.SeatResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := append([]models.SeatResult(nil), s.results[resultKey{electionID, level}]...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].DistrictID != rows[j].DistrictID {
			return rows[i].DistrictID < rows[j].DistrictID
		}
		return rows[i].EntityID < rows[j].EntityID
	})
	return rows, nil
}

func (s *Store) CreateRun(_ context.Context, run *models.ComputationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, exists := s.runs[run.ID]; exists {
		return storage.ErrConflict
	}
	if run.Status == "" {
		run.Status = models.RunPending
	}
	if run.Attempt == 0 {
		run.Attempt = 1
	}
	run.CreatedAt = time.Now()
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) GetRun(_ context.Context, id uuid.UUID) (*models.ComputationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &run, nil
}

// ListRuns returns the runs of an election, newest first.
func (s *Store) ListRuns(_ context.Context, electionID string, limit int) ([]models.ComputationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ComputationRun
	for _, run := range s.runs {
		if run.ElectionID == electionID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkRunning(_ context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	run.Status = models.RunRunning
	run.NodeID = &nodeID
	run.StartedAt = &startedAt
	s.runs[id] = run
	return nil
}

func (s *Store) CompleteRun(_ context.Context, id uuid.UUID, outcome storage.RunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	run.Status = outcome.Status
	run.MethodVersion = outcome.MethodVersion
	run.InputsDigest = outcome.InputsDigest
	run.ArchiveURI = outcome.ArchiveURI
	run.Error = outcome.Error
	run.DistrictErrs = models.IDList(append([]string(nil), outcome.DistrictErrs...))
	run.CompletedAt = &now
	s.runs[id] = run
	return nil
}

func (s *Store) MarkOrphansAsFailed(_ context.Context, activeNodeIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]struct{}, len(activeNodeIDs))
	for _, id := range activeNodeIDs {
		active[id] = struct{}{}
	}

	var reaped int64
	now := time.Now()
	for id, run := range s.runs {
		if run.Status != models.RunRunning {
			continue
		}
		if run.NodeID != nil {
			if _, alive := active[*run.NodeID]; alive {
				continue
			}
		}
		run.Status = models.RunFailed
		run.Error = "executor node lost"
		run.CompletedAt = &now
		s.runs[id] = run
		reaped++
	}
	return reaped, nil
}

func (s *Store) ListRetryable(_ context.Context, since time.Time, maxAttempts, limit int) ([]models.ComputationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ComputationRun
	for _, run := range s.runs {
		if run.Status != models.RunFailed || run.RetriedBy != nil || run.Attempt >= maxAttempts {
			continue
		}
		if run.CompletedAt == nil || run.CompletedAt.Before(since) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkRetried(_ context.Context, id, retryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if run.RetriedBy != nil {
		return storage.ErrConflict
	}
	run.RetriedBy = &retryID
	s.runs[id] = run
	return nil
}

// Queue is an in-process run queue with stream-like ack semantics.
type Queue struct {
	mu       sync.Mutex
	pending  []queued
	inflight map[string]models.RunRequest
	seq      int
	notify   chan struct{}

	// BlockFor bounds how long Pop waits for a request.
	BlockFor time.Duration
}

type queued struct {
	id  string
	req models.RunRequest
}

var _ storage.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{
		inflight: make(map[string]models.RunRequest),
		notify:   make(chan struct{}, 1),
		BlockFor: 2 * time.Second,
	}
}

func (q *Queue) Push(_ context.Context, req *models.RunRequest) error {
	// copy through JSON so callers cannot mutate a queued payload
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var stored models.RunRequest
	if err := json.Unmarshal(payload, &stored); err != nil {
		return err
	}

	q.mu.Lock()
	q.seq++
	q.pending = append(q.pending, queued{id: strconv.Itoa(q.seq) + "-0", req: stored})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context, _ string, _ string) (string, *models.RunRequest, error) {
	timer := time.NewTimer(q.BlockFor)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			item := q.pending[0]
			q.pending = q.pending[1:]
			q.inflight[item.id] = item.req
			q.mu.Unlock()
			req := item.req
			return item.id, &req, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-timer.C:
			return "", nil, nil
		case <-q.notify:
		}
	}
}

func (q *Queue) Ack(_ context.Context, _ string, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, msgID)
	return nil
}

func (q *Queue) EnsureGroup(_ context.Context, _ string) error {
	return nil
}

func (q *Queue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending) + len(q.inflight)), nil
}

// Unacked returns the number of popped but unacknowledged requests.
func (q *Queue) Unacked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func cloneElection(e models.Election) models.Election {
	e.Districts = append([]models.District(nil), e.Districts...)
	e.Entities = append([]models.Entity(nil), e.Entities...)
	coalitions := make([]models.Coalition, len(e.Coalitions))
	for i, c := range e.Coalitions {
		c.MemberIDs = append(models.IDList(nil), c.MemberIDs...)
		coalitions[i] = c
	}
	if len(coalitions) == 0 {
		coalitions = nil
	}
	e.Coalitions = coalitions
	if e.NextRunAt != nil {
		next := *e.NextRunAt
		e.NextRunAt = &next
	}
	return e
}

func cloneTallies(t models.Tallies) models.Tallies {
	out := models.NewTallies()
	for districtID, votes := range t.PerDistrict {
		out.PerDistrict[districtID] = make(map[string]int64, len(votes))
		for entityID, v := range votes {
			out.PerDistrict[districtID][entityID] = v
		}
	}
	for districtID, total := range t.TotalValidPerDistrict {
		out.TotalValidPerDistrict[districtID] = total
	}
	out.TotalValidNational = t.TotalValidNational
	return out
}
