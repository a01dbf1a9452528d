package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shelltask/pkg/task"
)

// RunState is the lifecycle state of a task run.
type RunState string

const (
	RunPending RunState = "PENDING"
	RunRunning RunState = "RUNNING"
	RunSuccess RunState = "SUCCESS"
	// RunFailed means the task reported a failure signal.
	RunFailed RunState = "FAILED"
	// RunError means the engine could not run the task at all.
	RunError RunState = "ERROR"
)

// Terminal reports whether no further transitions follow s.
func (s RunState) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunError:
		return true
	default:
		return false
	}
}

// TaskRun records a single invocation of a task.
type TaskRun struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TaskName    string     `json:"task_name" gorm:"not null;index"`
	Command     string     `json:"command"`
	State       RunState   `json:"state" gorm:"type:varchar(20);default:'PENDING';index"`
	ExitCode    int        `json:"exit_code"`
	Message     string     `json:"message,omitempty"`
	OutputURI   string     `json:"output_uri,omitempty"`
	OutputSize  int        `json:"output_size"`
	NodeID      *string    `json:"node_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Env travels with the run over the queue but is never persisted.
	Env map[string]string `json:"env,omitempty" gorm:"-"`
}

// NewTaskRun creates a pending run for inv.
func NewTaskRun(taskName string, inv task.Invocation) *TaskRun {
	return &TaskRun{
		ID:        uuid.New(),
		TaskName:  taskName,
		Command:   inv.Command,
		State:     RunPending,
		CreatedAt: time.Now().UTC(),
		Env:       inv.Env,
	}
}

// BeforeCreate assigns an ID when none is set.
func (r *TaskRun) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// Invocation returns the arguments the run was submitted with.
func (r *TaskRun) Invocation() task.Invocation {
	return task.Invocation{Command: r.Command, Env: r.Env}
}

// Duration is the wall time between start and completion, or zero.
func (r *TaskRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// Finished reports whether the run reached a terminal state.
func (r *TaskRun) Finished() bool {
	return r.State.Terminal()
}
