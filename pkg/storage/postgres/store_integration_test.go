package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"seatengine/pkg/models"
	"seatengine/pkg/storage"
)

// StoreIntegrationSuite runs against a real Postgres. It is skipped when
// SKIP_INTEGRATION_TESTS=true or when no database is reachable.
type StoreIntegrationSuite struct {
	suite.Suite
	store *PostgresStore
}

func TestStoreIntegration(t *testing.T) {
	suite.Run(t, new(StoreIntegrationSuite))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *StoreIntegrationSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "seatengine"),
		getEnv("TEST_DB_PASS", "password"),
		getEnv("TEST_DB_NAME", "seatengine_test"),
	)
	store, err := NewPostgresStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

// newElection registers an election under a fresh id; tests never share rows.
func (s *StoreIntegrationSuite) newElection() *models.Election {
	e := &models.Election{
		ID:   "it-" + uuid.NewString()[:8],
		Name: "Integration",
		Type: models.ElectionTypeLegislative,
		Districts: []models.District{
			{ID: "D2", TotalSeats: 5, ReservedSeats: 1},
			{ID: "D1", TotalSeats: 3},
		},
		Entities:   []models.Entity{{ID: "B"}, {ID: "A"}},
		Coalitions: []models.Coalition{{ID: "K", MemberIDs: models.IDList{"A", "B"}}},
	}
	s.Require().NoError(s.store.CreateElection(context.Background(), e))
	return e
}

func (s *StoreIntegrationSuite) TestElectionRoundTrip() {
	ctx := context.Background()
	e := s.newElection()

	got, err := s.store.GetElection(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal([]string{"D2", "D1"}, []string{got.Districts[0].ID, got.Districts[1].ID})
	s.Equal("A", got.Entities[0].ID)
	s.Equal(models.IDList{"A", "B"}, got.Coalitions[0].MemberIDs)

	s.ErrorIs(s.store.CreateElection(ctx, e), storage.ErrConflict)
	_, err = s.store.GetElection(ctx, "missing-"+e.ID)
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *StoreIntegrationSuite) TestTalliesReplaceAll() {
	ctx := context.Background()
	e := s.newElection()

	first := models.NewTallies()
	first.Add("D1", "A", 100)
	first.Add("D1", "B", 50)
	first.TotalValidPerDistrict["D1"] = 150
	first.TotalValidNational = 150
	s.Require().NoError(s.store.ReplaceTallies(ctx, e.ID, first))

	second := models.NewTallies()
	second.Add("D2", "A", 70)
	second.TotalValidPerDistrict["D2"] = 70
	second.TotalValidNational = 70
	s.Require().NoError(s.store.ReplaceTallies(ctx, e.ID, second))

	got, err := s.store.GetTallies(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(second.PerDistrict, got.PerDistrict)
	s.Equal(int64(70), got.TotalValidNational)
}

func (s *StoreIntegrationSuite) TestResultsAndRuns() {
	ctx := context.Background()
	e := s.newElection()

	run := &models.ComputationRun{ElectionID: e.ID, Method: "standard", Status: models.RunPending, Attempt: 1, ScheduledAt: time.Now()}
	s.Require().NoError(s.store.CreateRun(ctx, run))
	s.Require().NoError(s.store.MarkRunning(ctx, run.ID, "node-1", time.Now()))

	rows := []models.SeatResult{
		{RunID: run.ID, DistrictID: "D1", EntityID: "A", OrdinarySeats: 2, Method: "standard"},
		{RunID: run.ID, DistrictID: "D1", EntityID: "B", OrdinarySeats: 1, Method: "standard"},
	}
	s.Require().NoError(s.store.ReplaceResults(ctx, e.ID, models.LevelDistrict, rows))
	s.Require().NoError(s.store.ReplaceResults(ctx, e.ID, models.LevelDistrict, rows[:1]))

	got, err := s.store.GetResults(ctx, e.ID, models.LevelDistrict)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(models.LevelDistrict, got[0].Level)

	s.Require().NoError(s.store.CompleteRun(ctx, run.ID, storage.RunOutcome{
		Status:       models.RunPartial,
		DistrictErrs: []string{"D2: inconsistent tally"},
	}))
	stored, err := s.store.GetRun(ctx, run.ID)
	s.Require().NoError(err)
	s.Equal(models.RunPartial, stored.Status)
	s.Equal(models.IDList{"D2: inconsistent tally"}, stored.DistrictErrs)

	runs, err := s.store.ListRuns(ctx, e.ID, 10)
	s.Require().NoError(err)
	s.Len(runs, 1)
}

func (s *StoreIntegrationSuite) TestReplaceRunResultsBothLevels() {
	ctx := context.Background()
	e := s.newElection()
	runID := uuid.New()

	district := []models.SeatResult{{RunID: runID, DistrictID: "D1", EntityID: "A", OrdinarySeats: 3, Method: "standard"}}
	national := []models.SeatResult{{RunID: runID, EntityID: "A", OrdinarySeats: 3, Method: "standard"}}
	s.Require().NoError(s.store.ReplaceRunResults(ctx, e.ID, district, national))

	got, err := s.store.GetResults(ctx, e.ID, models.LevelDistrict)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(runID, got[0].RunID)

	got, err = s.store.GetResults(ctx, e.ID, models.LevelNational)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(models.LevelNational, got[0].Level)
}

func (s *StoreIntegrationSuite) TestRetryLinking() {
	ctx := context.Background()
	e := s.newElection()

	failed := &models.ComputationRun{ElectionID: e.ID, Method: "standard", Attempt: 1, ScheduledAt: time.Now()}
	s.Require().NoError(s.store.CreateRun(ctx, failed))
	s.Require().NoError(s.store.CompleteRun(ctx, failed.ID, storage.RunOutcome{Status: models.RunFailed, Error: "boom"}))

	retry := &models.ComputationRun{ElectionID: e.ID, Method: "standard", Attempt: 2, ScheduledAt: time.Now()}
	s.Require().NoError(s.store.CreateRun(ctx, retry))
	s.Require().NoError(s.store.MarkRetried(ctx, failed.ID, retry.ID))
	s.ErrorIs(s.store.MarkRetried(ctx, failed.ID, retry.ID), storage.ErrConflict)
}
