package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatengine/pkg/models"
	"seatengine/pkg/storage"
)

func sampleElection(id string) *models.Election {
	return &models.Election{
		ID:   id,
		Name: "General " + id,
		Type: models.ElectionTypeLegislative,
		Districts: []models.District{
			{ID: "D2", TotalSeats: 5},
			{ID: "D1", TotalSeats: 3},
		},
		Entities:   []models.Entity{{ID: "A"}, {ID: "B"}},
		Coalitions: []models.Coalition{{ID: "AB", MemberIDs: models.IDList{"A", "B"}}},
	}
}

func TestStore_CreateAndGetElection(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateElection(ctx, sampleElection("e1")))
	assert.ErrorIs(t, store.CreateElection(ctx, sampleElection("e1")), storage.ErrConflict)

	got, err := store.GetElection(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "D2", got.Districts[0].ID)
	assert.Equal(t, 1, got.Districts[1].Position)
	assert.Equal(t, "e1", got.Entities[0].ElectionID)

	// returned values are copies
	got.Coalitions[0].MemberIDs[0] = "Z"
	again, _ := store.GetElection(ctx, "e1")
	assert.Equal(t, "A", again.Coalitions[0].MemberIDs[0])

	_, err = store.GetElection(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ListDueElections(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"manual", "due", "later"} {
		e := sampleElection(id)
		if id != "manual" {
			e.Schedule = "*/5 * * * *"
		}
		require.NoError(t, store.CreateElection(ctx, e))
	}
	require.NoError(t, store.UpdateNextRun(ctx, "manual", now.Add(-time.Hour)))
	require.NoError(t, store.UpdateNextRun(ctx, "due", now.Add(-time.Minute)))
	require.NoError(t, store.UpdateNextRun(ctx, "later", now.Add(time.Hour)))

	due, err := store.ListDueElections(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)

	assert.ErrorIs(t, store.UpdateNextRun(ctx, "missing", now), storage.ErrNotFound)
}

func TestStore_TalliesRoundTrip(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateElection(ctx, sampleElection("e1")))

	tallies := models.NewTallies()
	tallies.Add("D1", "A", 100)
	tallies.TotalValidPerDistrict["D1"] = 100
	tallies.TotalValidNational = 100
	require.NoError(t, store.ReplaceTallies(ctx, "e1", tallies))

	tallies.Add("D1", "A", 1)
	got, err := store.GetTallies(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.PerDistrict["D1"]["A"])

	assert.ErrorIs(t, store.ReplaceTallies(ctx, "nope", tallies), storage.ErrNotFound)
	_, err = store.GetTallies(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ReplaceResultsSupersedesPreviousSet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first := []models.SeatResult{{DistrictID: "D1", EntityID: "A"}, {DistrictID: "D1", EntityID: "B"}}
	require.NoError(t, store.ReplaceResults(ctx, "e1", models.LevelDistrict, first))
	require.NoError(t, store.ReplaceResults(ctx, "e1", models.LevelNational, []models.SeatResult{{EntityID: "A"}}))

	second := []models.SeatResult{{DistrictID: "D1", EntityID: "C"}}
	require.NoError(t, store.ReplaceResults(ctx, "e1", models.LevelDistrict, second))

	rows, err := store.GetResults(ctx, "e1", models.LevelDistrict)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "C", rows[0].EntityID)
	assert.Equal(t, models.LevelDistrict, rows[0].Level)

	national, _ := store.GetResults(ctx, "e1", models.LevelNational)
	assert.Len(t, national, 1)
}

func TestStore_FailedReplaceKeepsPreviousSet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.ReplaceResults(ctx, "e1", models.LevelDistrict, []models.SeatResult{{EntityID: "A"}}))

	store.FailReplace = func(string, models.Level) error { return errors.New("disk full") }
	assert.Error(t, store.ReplaceResults(ctx, "e1", models.LevelDistrict, nil))

	rows, _ := store.GetResults(ctx, "e1", models.LevelDistrict)
	assert.Len(t, rows, 1)
}

func TestStore_ReplaceRunResultsIsAllOrNothing(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.ReplaceRunResults(ctx, "e1",
		[]models.SeatResult{{DistrictID: "D1", EntityID: "A"}},
		[]models.SeatResult{{EntityID: "A"}}))

	store.FailReplace = func(_ string, level models.Level) error {
		if level == models.LevelNational {
			return errors.New("disk full")
		}
		return nil
	}
	err := store.ReplaceRunResults(ctx, "e1",
		[]models.SeatResult{{DistrictID: "D1", EntityID: "B"}, {DistrictID: "D1", EntityID: "C"}},
		[]models.SeatResult{{EntityID: "B"}, {EntityID: "C"}})
	require.Error(t, err)

	districts, _ := store.GetResults(ctx, "e1", models.LevelDistrict)
	require.Len(t, districts, 1)
	assert.Equal(t, "A", districts[0].EntityID)
	national, _ := store.GetResults(ctx, "e1", models.LevelNational)
	require.Len(t, national, 1)
	assert.Equal(t, models.LevelNational, national[0].Level)
}

func TestStore_RunLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	run := &models.ComputationRun{ElectionID: "e1", Method: "standard", ScheduledAt: time.Now()}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, models.RunPending, run.Status)

	require.NoError(t, store.MarkRunning(ctx, run.ID, "node-1", time.Now()))
	require.NoError(t, store.CompleteRun(ctx, run.ID, storage.RunOutcome{
		Status:       models.RunPartial,
		DistrictErrs: []string{"D2: reserved seats exceed total"},
	}))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, got.Status)
	assert.Equal(t, "node-1", *got.NodeID)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, models.IDList{"D2: reserved seats exceed total"}, got.DistrictErrs)
}

func TestStore_OrphansAndRetries(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	alive := &models.ComputationRun{ElectionID: "e1", ScheduledAt: time.Now()}
	lost := &models.ComputationRun{ElectionID: "e1", ScheduledAt: time.Now()}
	require.NoError(t, store.CreateRun(ctx, alive))
	require.NoError(t, store.CreateRun(ctx, lost))
	require.NoError(t, store.MarkRunning(ctx, alive.ID, "node-a", time.Now()))
	require.NoError(t, store.MarkRunning(ctx, lost.ID, "node-b", time.Now()))

	n, err := store.MarkOrphansAsFailed(ctx, []string{"node-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	retryable, err := store.ListRetryable(ctx, time.Now().Add(-time.Minute), 3, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, lost.ID, retryable[0].ID)

	// attempts exhausted
	none, _ := store.ListRetryable(ctx, time.Now().Add(-time.Minute), 1, 10)
	assert.Empty(t, none)

	retryID := uuid.New()
	require.NoError(t, store.MarkRetried(ctx, lost.ID, retryID))
	assert.ErrorIs(t, store.MarkRetried(ctx, lost.ID, uuid.New()), storage.ErrConflict)

	retryable, _ = store.ListRetryable(ctx, time.Now().Add(-time.Minute), 3, 10)
	assert.Empty(t, retryable)
}

func TestQueue_PushPopAck(t *testing.T) {
	q := NewQueue()
	q.BlockFor = 10 * time.Millisecond
	ctx := context.Background()

	id, req, err := q.Pop(ctx, "executors", "c1")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Nil(t, req)

	runID := uuid.New()
	require.NoError(t, q.Push(ctx, &models.RunRequest{RunID: runID, ElectionID: "e1", Attempt: 1}))
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(1), n)

	id, req, err = q.Pop(ctx, "executors", "c1")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, runID, req.RunID)
	assert.Equal(t, 1, q.Unacked())

	require.NoError(t, q.Ack(ctx, "executors", id))
	assert.Equal(t, 0, q.Unacked())
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := NewQueue()
	q.BlockFor = 5 * time.Second
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(ctx, &models.RunRequest{ElectionID: "e2"})
	}()

	_, req, err := q.Pop(ctx, "executors", "c1")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "e2", req.ElectionID)
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := q.Pop(ctx, "executors", "c1")
	assert.ErrorIs(t, err, context.Canceled)
}
