package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"shelltask/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// RunStore persists task-run history.
type RunStore interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *models.TaskRun) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id uuid.UUID) (*models.TaskRun, error)

	// UpdateRunState marks a run as running on the given node.
	UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error

	// UpdateResult records the terminal state of a run.
	UpdateResult(ctx context.Context, run *models.TaskRun) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]models.TaskRun, error)
}

// Queue hands runs from submitters to executors.
type Queue interface {
	// Push adds a run to the pending queue.
	Push(ctx context.Context, run *models.TaskRun) error

	// Pop retrieves the next run for a consumer in group. It returns a nil
	// run when nothing arrived before the read timed out.
	Pop(ctx context.Context, group string, consumer string) (string, *models.TaskRun, error)

	// Ack acknowledges a run as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error
}

// OutputStore persists the captured output of runs.
type OutputStore interface {
	// Store saves output and returns a reference to it.
	Store(ctx context.Context, runID string, output []byte) (string, error)
	// Retrieve fetches output by reference.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}
