// Package memory keeps run history in process memory. It suits single-node
// use and tests; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelltask/pkg/models"
	"shelltask/pkg/storage"
)

type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]models.TaskRun
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]models.TaskRun)}
}

func (s *RunStore) CreateRun(_ context.Context, run *models.TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, exists := s.runs[run.ID]; exists {
		return storage.ErrConflict
	}
	s.runs[run.ID] = stored(run)
	return nil
}

func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (*models.TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &run, nil
}

func (s *RunStore) UpdateRunState(_ context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	run.State = models.RunRunning
	run.NodeID = &nodeID
	run.StartedAt = &startedAt
	s.runs[id] = run
	return nil
}

func (s *RunStore) UpdateResult(_ context.Context, result *models.TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[result.ID]
	if !ok {
		return storage.ErrNotFound
	}
	run.State = result.State
	run.ExitCode = result.ExitCode
	run.Message = result.Message
	run.OutputURI = result.OutputURI
	run.OutputSize = result.OutputSize
	run.CompletedAt = result.CompletedAt
	s.runs[result.ID] = run
	return nil
}

func (s *RunStore) ListRuns(_ context.Context, limit int) ([]models.TaskRun, error) {
	s.mu.RLock()
	runs := make([]models.TaskRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// stored copies run without its transient environment.
func stored(run *models.TaskRun) models.TaskRun {
	c := *run
	c.Env = nil
	return c
}
