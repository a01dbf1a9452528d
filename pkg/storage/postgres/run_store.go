package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shelltask/pkg/models"
	"shelltask/pkg/storage"
)

// RunStore keeps task-run history in PostgreSQL.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore opens a GORM connection and migrates the run schema.
func NewRunStore(connString string) (*RunStore, error) {
	db, err := gorm.Open(postgres.Open(connString), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewRunStoreWithDB(db)
}

// NewRunStoreWithDB uses an already opened database.
func NewRunStoreWithDB(db *gorm.DB) (*RunStore, error) {
	if err := db.AutoMigrate(&models.TaskRun{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun persists a new run.
func (s *RunStore) CreateRun(ctx context.Context, run *models.TaskRun) error {
	result := s.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create run: %w", result.Error)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*models.TaskRun, error) {
	var run models.TaskRun
	result := s.db.WithContext(ctx).First(&run, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// UpdateRunState marks a run as running on the assigned node.
func (s *RunStore) UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.TaskRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      models.RunRunning,
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

// UpdateResult records the terminal state of a run.
func (s *RunStore) UpdateResult(ctx context.Context, run *models.TaskRun) error {
	result := s.db.WithContext(ctx).
		Model(&models.TaskRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"state":        run.State,
			"exit_code":    run.ExitCode,
			"message":      run.Message,
			"output_uri":   run.OutputURI,
			"output_size":  run.OutputSize,
			"completed_at": run.CompletedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update result: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]models.TaskRun, error) {
	var runs []models.TaskRun
	result := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return runs, nil
}
