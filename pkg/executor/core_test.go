package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shelltask/pkg/models"
	"shelltask/pkg/signals"
	"shelltask/pkg/storage"
	"shelltask/pkg/storage/memory"
	"shelltask/pkg/task"
	"shelltask/pkg/tasks/shell"
)

type stubTask struct {
	out   []byte
	err   error
	mu    sync.Mutex
	calls []task.Invocation
}

func (s *stubTask) Name() string { return "stub" }

func (s *stubTask) Execute(_ context.Context, inv task.Invocation) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	s.mu.Unlock()
	return s.out, s.err
}

func (s *stubTask) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type chanQueue struct {
	ch     chan *models.TaskRun
	mu     sync.Mutex
	acked  []string
	groups []string
	seq    int
}

func newChanQueue() *chanQueue {
	return &chanQueue{ch: make(chan *models.TaskRun, 16)}
}

func (q *chanQueue) Push(_ context.Context, run *models.TaskRun) error {
	c := *run
	q.ch <- &c
	return nil
}

func (q *chanQueue) Pop(ctx context.Context, _ string, _ string) (string, *models.TaskRun, error) {
	select {
	case run := <-q.ch:
		q.mu.Lock()
		q.seq++
		id := fmt.Sprintf("%d-0", q.seq)
		q.mu.Unlock()
		return id, run, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return "", nil, nil
	}
}

func (q *chanQueue) Ack(_ context.Context, _ string, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msgID)
	return nil
}

func (q *chanQueue) EnsureGroup(_ context.Context, group string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.groups = append(q.groups, group)
	return nil
}

func (q *chanQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

func newTestExecutor(t *testing.T, tk task.Runnable, q storage.Queue) (*Executor, *memory.RunStore, *storage.LocalOutputStore) {
	t.Helper()
	runs := memory.NewRunStore()
	outputs, err := storage.NewLocalOutputStore(t.TempDir())
	require.NoError(t, err)
	e := New(Config{ID: "test-node", Concurrency: 2}, tk, runs, outputs, q, zap.NewNop())
	return e, runs, outputs
}

func TestNew_Defaults(t *testing.T) {
	e := New(Config{}, &stubTask{}, memory.NewRunStore(), nil, nil, nil)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "shelltask-executors", e.cfg.Group)
	assert.Positive(t, e.cfg.Concurrency)
}

func TestRun_Success(t *testing.T) {
	tk := &stubTask{out: []byte("hi\n")}
	e, runs, outputs := newTestExecutor(t, tk, nil)

	run, out, err := e.Run(context.Background(), task.Invocation{Command: "echo hi"})

	require.NoError(t, err)
	assert.Equal(t, []byte("hi\n"), out)
	assert.Equal(t, 1, tk.callCount())

	stored, err := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, stored.State)
	assert.Equal(t, 0, stored.ExitCode)
	assert.Equal(t, 3, stored.OutputSize)
	assert.Equal(t, "test-node", *stored.NodeID)
	require.NotNil(t, stored.CompletedAt)

	data, err := outputs.Retrieve(context.Background(), stored.OutputURI)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi\n"), data)
}

func TestRun_FailSignal(t *testing.T) {
	fail := signals.NewFail(4, []byte("nope\n"))
	tk := &stubTask{err: fail}
	e, runs, outputs := newTestExecutor(t, tk, nil)

	run, out, err := e.Run(context.Background(), task.Invocation{Command: "exit 4"})

	assert.Same(t, fail, err)
	assert.Nil(t, out)
	assert.Equal(t, 1, tk.callCount(), "failed runs are not retried")

	stored, err := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, stored.State)
	assert.Equal(t, 4, stored.ExitCode)
	assert.Equal(t, fail.Message, stored.Message)

	data, err := outputs.Retrieve(context.Background(), stored.OutputURI)
	require.NoError(t, err)
	assert.Equal(t, []byte("nope\n"), data)
}

func TestRun_EngineError(t *testing.T) {
	argErr := fmt.Errorf("%w: missing required argument: command", task.ErrInvalidArgument)
	e, runs, _ := newTestExecutor(t, &stubTask{err: argErr}, nil)

	run, _, err := e.Run(context.Background(), task.Invocation{})

	assert.ErrorIs(t, err, task.ErrInvalidArgument)
	stored, getErr := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunError, stored.State)
	assert.Equal(t, -1, stored.ExitCode)
}

type brokenOutputs struct{}

func (brokenOutputs) Store(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}
func (brokenOutputs) Retrieve(context.Context, string) ([]byte, error) { return nil, storage.ErrNotFound }

func TestRun_OutputStoreFailureKeepsResult(t *testing.T) {
	runs := memory.NewRunStore()
	e := New(Config{ID: "n"}, &stubTask{out: []byte("ok")}, runs, brokenOutputs{}, nil, zap.NewNop())

	run, out, err := e.Run(context.Background(), task.Invocation{Command: "true"})

	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	stored, _ := runs.GetRun(context.Background(), run.ID)
	assert.Equal(t, models.RunSuccess, stored.State)
	assert.Empty(t, stored.OutputURI)
}

func TestSubmit_RequiresQueue(t *testing.T) {
	e, _, _ := newTestExecutor(t, &stubTask{}, nil)

	_, err := e.Submit(context.Background(), task.Invocation{Command: "true"})
	assert.ErrorIs(t, err, ErrNoQueue)
	assert.ErrorIs(t, e.Start(context.Background()), ErrNoQueue)
}

func TestStart_ConsumesQueue(t *testing.T) {
	q := newChanQueue()
	tk := &stubTask{out: []byte("done")}
	e, runs, _ := newTestExecutor(t, tk, q)

	var submitted []*models.TaskRun
	for i := 0; i < 3; i++ {
		run, err := e.Submit(context.Background(), task.Invocation{Command: fmt.Sprintf("echo %d", i), Env: map[string]string{"N": "1"}})
		require.NoError(t, err)
		assert.Equal(t, models.RunPending, run.State)
		submitted = append(submitted, run)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- e.Start(ctx) }()

	require.Eventually(t, func() bool { return q.ackCount() == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-stopped)

	for _, run := range submitted {
		stored, err := runs.GetRun(context.Background(), run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunSuccess, stored.State)
	}
	assert.Equal(t, 3, tk.callCount())
	assert.Equal(t, map[string]string{"N": "1"}, tk.calls[0].Env, "env travels with the queued run")
	assert.Equal(t, []string{"shelltask-executors"}, q.groups)
}

func TestStart_RecordsRunsPushedElsewhere(t *testing.T) {
	q := newChanQueue()
	e, runs, _ := newTestExecutor(t, &stubTask{}, q)

	foreign := models.NewTaskRun("", task.Invocation{Command: "true"})
	require.NoError(t, q.Push(context.Background(), foreign))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Start(ctx) }()

	require.Eventually(t, func() bool {
		run, err := runs.GetRun(context.Background(), foreign.ID)
		return err == nil && run.State == models.RunSuccess && run.TaskName == "stub"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExecute_WithShellTask(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	tk := shell.New(shell.Config{Dir: "/nonexistent-path-xyz"}, shell.WithLogger(zap.NewNop()))
	e, runs, _ := newTestExecutor(t, tk, nil)

	run, _, err := e.Run(context.Background(), task.Invocation{Command: "ls"})

	require.True(t, signals.IsFail(err))
	stored, getErr := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunFailed, stored.State)
	assert.NotZero(t, stored.ExitCode)
	assert.Contains(t, stored.Message, "No such file or directory")
}

// ctxRunStore refuses writes on a cancelled context, as GORM does.
type ctxRunStore struct {
	*memory.RunStore
}

func (s ctxRunStore) UpdateRunState(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.RunStore.UpdateRunState(ctx, id, nodeID, startedAt)
}

func (s ctxRunStore) UpdateResult(ctx context.Context, run *models.TaskRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.RunStore.UpdateResult(ctx, run)
}

// ctxOutputs refuses writes on a cancelled context, as the S3 client does.
type ctxOutputs struct {
	*storage.LocalOutputStore
}

func (o ctxOutputs) Store(ctx context.Context, runID string, output []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return o.LocalOutputStore.Store(ctx, runID, output)
}

// gatedTask blocks until released.
type gatedTask struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedTask) Name() string { return "gated" }

func (g *gatedTask) Execute(context.Context, task.Invocation) ([]byte, error) {
	close(g.started)
	<-g.release
	return []byte("finished\n"), nil
}

func TestStart_ShutdownPersistsInFlightRun(t *testing.T) {
	q := newChanQueue()
	runs := ctxRunStore{memory.NewRunStore()}
	local, err := storage.NewLocalOutputStore(t.TempDir())
	require.NoError(t, err)
	tk := &gatedTask{started: make(chan struct{}), release: make(chan struct{})}
	e := New(Config{ID: "n", Concurrency: 1}, tk, runs, ctxOutputs{local}, q, zap.NewNop())

	run, err := e.Submit(context.Background(), task.Invocation{Command: "sleep 1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- e.Start(ctx) }()

	<-tk.started
	cancel()
	close(tk.release)
	require.NoError(t, <-stopped)

	stored, err := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, stored.State)
	require.NotEmpty(t, stored.OutputURI)
	data, err := local.Retrieve(context.Background(), stored.OutputURI)
	require.NoError(t, err)
	assert.Equal(t, []byte("finished\n"), data)
	assert.Equal(t, 1, q.ackCount())
}

func TestRun_CallerCancelledMidRun(t *testing.T) {
	runs := ctxRunStore{memory.NewRunStore()}
	tk := &gatedTask{started: make(chan struct{}), release: make(chan struct{})}
	e := New(Config{ID: "n"}, tk, runs, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-tk.started
		cancel()
		close(tk.release)
	}()

	run, out, err := e.Run(ctx, task.Invocation{Command: "true"})
	require.NoError(t, err)
	assert.Equal(t, []byte("finished\n"), out)

	stored, err := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, stored.State)
	require.NotNil(t, stored.CompletedAt)
}
