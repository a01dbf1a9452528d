package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelltask/pkg/task"
)

func TestNewTaskRun(t *testing.T) {
	inv := task.Invocation{Command: "echo hi", Env: map[string]string{"FOO": "bar"}}
	run := NewTaskRun("shell", inv)

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, RunPending, run.State)
	assert.Equal(t, "shell", run.TaskName)
	assert.Equal(t, inv, run.Invocation())
	assert.False(t, run.CreatedAt.IsZero())
}

func TestRunState_Terminal(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunSuccess.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.True(t, RunError.Terminal())
}

func TestTaskRun_Duration(t *testing.T) {
	run := &TaskRun{}
	assert.Zero(t, run.Duration())

	start := time.Now()
	end := start.Add(1500 * time.Millisecond)
	run.StartedAt, run.CompletedAt = &start, &end
	assert.Equal(t, 1500*time.Millisecond, run.Duration())
}

func TestTaskRun_QueuePayloadKeepsEnv(t *testing.T) {
	run := NewTaskRun("shell", task.Invocation{Command: "env", Env: map[string]string{"A": "1"}})

	data, err := json.Marshal(run)
	require.NoError(t, err)

	var decoded TaskRun
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, run.ID, decoded.ID)
	assert.Equal(t, map[string]string{"A": "1"}, decoded.Env)
}

func TestTaskRun_Finished(t *testing.T) {
	run := NewTaskRun("shell", task.Invocation{Command: "true"})
	assert.False(t, run.Finished())

	run.State = RunFailed
	assert.True(t, run.Finished())
}
