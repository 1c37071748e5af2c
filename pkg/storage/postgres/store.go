package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"seatengine/pkg/models"
	"seatengine/pkg/storage"
)

const batchSize = 500

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes GORM connection and AutoMigrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true, // Cache prepared statements for performance
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&models.Election{},
		&models.District{},
		&models.Entity{},
		&models.Coalition{},
		&models.VoteCount{},
		&models.DistrictTurnout{},
		&models.NationalTurnout{},
		&models.ComputationRun{},
		&models.SeatResult{},
	)
	if err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- ElectionStore Implementation ---

// CreateElection persists an election together with its districts, entities and coalitions.
func (s *PostgresStore) CreateElection(ctx context.Context, election *models.Election) error {
	for i := range election.Districts {
		election.Districts[i].ElectionID = election.ID
		election.Districts[i].Position = i
	}
	for i := range election.Entities {
		election.Entities[i].ElectionID = election.ID
	}
	for i := range election.Coalitions {
		election.Coalitions[i].ElectionID = election.ID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Election{}).Where("id = ?", election.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return storage.ErrConflict
		}
		if err := tx.Create(election).Error; err != nil {
			return fmt.Errorf("failed to create election: %w", err)
		}
		return nil
	})
}

// GetElection retrieves an election with districts in declaration order.
func (s *PostgresStore) GetElection(ctx context.Context, id string) (*models.Election, error) {
	var election models.Election
	result := s.db.WithContext(ctx).
		Preload("Districts", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Preload("Entities", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Preload("Coalitions", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		First(&election, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &election, nil
}

// ListDueElections finds scheduled elections whose next recompute is due.
func (s *PostgresStore) ListDueElections(ctx context.Context, now time.Time, limit int) ([]models.Election, error) {
	var elections []models.Election

	// SELECT * FROM elections WHERE schedule <> '' AND next_run_at <= ? ORDER BY next_run_at ASC LIMIT ?
	result := s.db.WithContext(ctx).
		Where("schedule <> ''").
		Where("next_run_at <= ?", now).
		Order("next_run_at asc").
		Limit(limit).
		Find(&elections)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due elections: %w", result.Error)
	}
	return elections, nil
}

// UpdateNextRun updates the recompute timestamp.
func (s *PostgresStore) UpdateNextRun(ctx context.Context, id string, nextRun time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Election{}).
		Where("id = ?", id).
		Update("next_run_at", nextRun)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- TallyStore Implementation ---

// GetTallies loads every tally row of an election in one consistent read.
func (s *PostgresStore) GetTallies(ctx context.Context, electionID string) (models.Tallies, error) {
	var (
		counts   []models.VoteCount
		turnouts []models.DistrictTurnout
		national models.NationalTurnout
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Election{}).Where("id = ?", electionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}
		if err := tx.Where("election_id = ?", electionID).Find(&counts).Error; err != nil {
			return err
		}
		if err := tx.Where("election_id = ?", electionID).Find(&turnouts).Error; err != nil {
			return err
		}
		err := tx.Where("election_id = ?", electionID).First(&national).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return nil
	}, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Tallies{}, err
		}
		return models.Tallies{}, fmt.Errorf("failed to load tallies: %w", err)
	}
	return models.TalliesFromRows(counts, turnouts, national), nil
}

// ReplaceTallies swaps the tally set of an election inside one transaction.
func (s *PostgresStore) ReplaceTallies(ctx context.Context, electionID string, tallies models.Tallies) error {
	counts, turnouts, national := tallies.Rows(electionID)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Election{}).Where("id = ?", electionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}

		for _, model := range []interface{}{&models.VoteCount{}, &models.DistrictTurnout{}, &models.NationalTurnout{}} {
			if err := tx.Where("election_id = ?", electionID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear tallies: %w", err)
			}
		}
		if len(counts) > 0 {
			if err := tx.CreateInBatches(counts, batchSize).Error; err != nil {
				return fmt.Errorf("failed to insert vote counts: %w", err)
			}
		}
		if len(turnouts) > 0 {
			if err := tx.CreateInBatches(turnouts, batchSize).Error; err != nil {
				return fmt.Errorf("failed to insert turnouts: %w", err)
			}
		}
		if err := tx.Create(&national).Error; err != nil {
			return fmt.Errorf("failed to insert national turnout: %w", err)
		}
		return nil
	})
}

// --- ResultSink Implementation ---

// ReplaceResults deletes and inserts the result set of (election, level) in one transaction.
func (s *PostgresStore) ReplaceResults(ctx context.Context, electionID string, level models.Level, rows []models.SeatResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceLevel(tx, electionID, level, rows)
	})
}

// ReplaceRunResults swaps both result levels of a run in a single transaction.
func (s *PostgresStore) ReplaceRunResults(ctx context.Context, electionID string, district, national []models.SeatResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replaceLevel(tx, electionID, models.LevelDistrict, district); err != nil {
			return err
		}
		return replaceLevel(tx, electionID, models.LevelNational, national)
	})
}

func replaceLevel(tx *gorm.DB, electionID string, level models.Level, rows []models.SeatResult) error {
	if err := tx.Where("election_id = ? AND level = ?", electionID, level).Delete(&models.SeatResult{}).Error; err != nil {
		return fmt.Errorf("failed to clear %s results: %w", level, err)
	}
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].ID = 0
		rows[i].ElectionID = electionID
		rows[i].Level = level
	}
	if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
		return fmt.Errorf("failed to insert %s results: %w", level, err)
	}
	return nil
}

// GetResults returns the current result set of (election, level).
func (s *PostgresStore) GetResults(ctx context.Context, electionID string, level models.Level) ([]models.SeatResult, error) {
	var rows []models.SeatResult
	result := s.db.WithContext(ctx).
		Where("election_id = ? AND level = ?", electionID, level).
		Order("district_id asc, entity_id asc").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get results: %w", result.Error)
	}
	return rows, nil
}

// --- RunStore Implementation ---

// CreateRun records a new computation run.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ComputationRun) error {
	result := s.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		return fmt.Errorf("failed to create run: %w", result.Error)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.ComputationRun, error) {
	var run models.ComputationRun
	result := s.db.WithContext(ctx).First(&run, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// ListRuns returns the run history of an election, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, electionID string, limit int) ([]models.ComputationRun, error) {
	var runs []models.ComputationRun
	result := s.db.WithContext(ctx).
		Where("election_id = ?", electionID).
		Order("scheduled_at desc").
		Limit(limit).
		Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return runs, nil
}

// MarkRunning marks a run as picked up by the given node.
func (s *PostgresStore) MarkRunning(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.ComputationRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.RunRunning,
			"node_id":    nodeID,
			"started_at": startedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update run state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CompleteRun records the final status of a run.
func (s *PostgresStore) CompleteRun(ctx context.Context, id uuid.UUID, outcome storage.RunOutcome) error {
	result := s.db.WithContext(ctx).
		Model(&models.ComputationRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         outcome.Status,
			"method_version": outcome.MethodVersion,
			"inputs_digest":  outcome.InputsDigest,
			"archive_uri":    outcome.ArchiveURI,
			"error":          outcome.Error,
			"district_errs":  models.IDList(outcome.DistrictErrs),
			"completed_at":   time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to complete run: %w", result.Error)
	}
	return nil
}

// MarkOrphansAsFailed fails runs stuck in RUNNING state on nodes that are no longer registered.
func (s *PostgresStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string) (int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.ComputationRun{}).
		Where("status = ?", models.RunRunning)

	if len(activeNodeIDs) > 0 {
		query = query.Where("node_id NOT IN ?", activeNodeIDs)
	}

	result := query.Updates(map[string]interface{}{
		"status":       models.RunFailed,
		"error":        "executor node lost",
		"completed_at": time.Now(),
	})
	return result.RowsAffected, result.Error
}

// ListRetryable returns failed runs eligible for another attempt.
func (s *PostgresStore) ListRetryable(ctx context.Context, since time.Time, maxAttempts, limit int) ([]models.ComputationRun, error) {
	var runs []models.ComputationRun
	result := s.db.WithContext(ctx).
		Where("status = ?", models.RunFailed).
		Where("retried_by IS NULL").
		Where("attempt < ?", maxAttempts).
		Where("completed_at >= ?", since).
		Order("completed_at asc").
		Limit(limit).
		Find(&runs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list retryable runs: %w", result.Error)
	}
	return runs, nil
}

// MarkRetried links a failed run to its retry.
func (s *PostgresStore) MarkRetried(ctx context.Context, id, retryID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.ComputationRun{}).
		Where("id = ? AND retried_by IS NULL", id).
		Update("retried_by", retryID)
	if result.Error != nil {
		return fmt.Errorf("failed to mark run retried: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

var (
	_ storage.ElectionStore = (*PostgresStore)(nil)
	_ storage.TallyStore    = (*PostgresStore)(nil)
	_ storage.ResultSink    = (*PostgresStore)(nil)
	_ storage.RunStore      = (*PostgresStore)(nil)
)
