package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"shelltask/pkg/models"
	"shelltask/pkg/storage"
	"shelltask/pkg/task"
)

// RunStoreSuite needs a PostgreSQL DSN in TEST_DATABASE_URL.
type RunStoreSuite struct {
	suite.Suite
	store *RunStore
}

func (s *RunStoreSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		s.T().Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewRunStore(dsn)
	if err != nil {
		s.T().Skipf("postgres unavailable: %v", err)
	}
	s.store = store
}

func (s *RunStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *RunStoreSuite) TestRunLifecycle() {
	ctx := context.Background()
	run := models.NewTaskRun("shell", task.Invocation{Command: "echo hi", Env: map[string]string{"K": "v"}})
	require.NoError(s.T(), s.store.CreateRun(ctx, run))

	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(s.T(), s.store.UpdateRunState(ctx, run.ID, "node-a", started))

	done := started.Add(2 * time.Second)
	run.State = models.RunSuccess
	run.OutputURI = "/tmp/" + run.ID.String() + ".log"
	run.OutputSize = 3
	run.CompletedAt = &done
	require.NoError(s.T(), s.store.UpdateResult(ctx, run))

	got, err := s.store.GetRun(ctx, run.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.RunSuccess, got.State)
	assert.Equal(s.T(), "node-a", *got.NodeID)
	assert.Equal(s.T(), 3, got.OutputSize)
	assert.Nil(s.T(), got.Env)

	runs, err := s.store.ListRuns(ctx, 10)
	require.NoError(s.T(), err)
	assert.NotEmpty(s.T(), runs)
}

func (s *RunStoreSuite) TestNotFound() {
	ctx := context.Background()

	_, err := s.store.GetRun(ctx, uuid.New())
	assert.ErrorIs(s.T(), err, storage.ErrNotFound)
	assert.ErrorIs(s.T(), s.store.UpdateRunState(ctx, uuid.New(), "n", time.Now()), storage.ErrNotFound)
}

func TestRunStoreSuite(t *testing.T) {
	suite.Run(t, new(RunStoreSuite))
}
