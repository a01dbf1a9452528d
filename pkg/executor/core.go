package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"shelltask/pkg/metrics"
	"shelltask/pkg/models"
	tracing "shelltask/pkg/observability"
	"shelltask/pkg/signals"
	"shelltask/pkg/storage"
	"shelltask/pkg/task"
)

// ErrNoQueue is returned by Submit and Start when no queue is configured.
var ErrNoQueue = errors.New("executor has no queue")

// Config tunes the executor.
type Config struct {
	// ID identifies this executor in run records. Derived from the
	// hostname when empty.
	ID string
	// Group is the queue consumer group.
	Group string
	// Concurrency is the number of queue workers. Defaults to the CPU count.
	Concurrency int
	// ErrorBackoff is the pause after a failed queue read.
	ErrorBackoff time.Duration
}

// DefaultConfig returns the default executor settings.
func DefaultConfig() Config {
	return Config{
		Group:        "shelltask-executors",
		Concurrency:  runtime.NumCPU(),
		ErrorBackoff: time.Second,
	}
}

// Executor drives a task: it records each run, invokes the task exactly
// once, persists its output, and reports metrics and traces.
type Executor struct {
	ID       string
	Hostname string
	TotalCPU int
	TotalMem uint64 // MB

	cfg     Config
	task    task.Runnable
	runs    storage.RunStore
	outputs storage.OutputStore
	queue   storage.Queue
	log     *zap.Logger
	now     func() time.Time
}

// New creates an executor for t. outputs and queue may be nil.
func New(cfg Config, t task.Runnable, runs storage.RunStore, outputs storage.OutputStore, queue storage.Queue, log *zap.Logger) *Executor {
	defaults := DefaultConfig()
	if cfg.Group == "" {
		cfg.Group = defaults.Group
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaults.ErrorBackoff
	}

	hostname, _ := os.Hostname()
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Executor{
		ID:       cfg.ID,
		Hostname: hostname,
		TotalCPU: runtime.NumCPU(),
		TotalMem: detectTotalMemory(log),
		cfg:      cfg,
		task:     t,
		runs:     runs,
		outputs:  outputs,
		queue:    queue,
		log:      log.With(zap.String("component", "executor"), zap.String("executor_id", cfg.ID)),
		now:      time.Now,
	}
}

func detectTotalMemory(log *zap.Logger) uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		log.Warn("failed to detect memory", zap.Error(err))
		return 0
	}
	return v.Total / 1024 / 1024
}

// Run records a new run for inv and executes it synchronously.
func (e *Executor) Run(ctx context.Context, inv task.Invocation) (*models.TaskRun, []byte, error) {
	run := models.NewTaskRun(e.task.Name(), inv)
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("failed to record run: %w", err)
	}

	out, err := e.Execute(ctx, run)
	return run, out, err
}

// Submit records a pending run for inv and pushes it onto the queue.
func (e *Executor) Submit(ctx context.Context, inv task.Invocation) (*models.TaskRun, error) {
	if e.queue == nil {
		return nil, ErrNoQueue
	}

	run := models.NewTaskRun(e.task.Name(), inv)
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	if err := e.queue.Push(ctx, run); err != nil {
		return nil, err
	}

	metrics.QueueSubmitted.Inc()
	e.log.Info("run submitted", zap.String("run_id", run.ID.String()))
	return run, nil
}

// Execute runs the task once for an already recorded run and stores the
// outcome on run. The task's error is returned unchanged. The run record and
// output are persisted even when ctx is cancelled mid-run.
func (e *Executor) Execute(ctx context.Context, run *models.TaskRun) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "task.run")
	defer span.End()
	span.SetAttributes(
		tracing.AttrRunID.String(run.ID.String()),
		tracing.AttrTaskName.String(run.TaskName),
	)

	log := e.log.With(zap.String("run_id", run.ID.String()), zap.String("task", run.TaskName))

	// the record is persisted even if the caller goes away mid-run
	persistCtx := context.WithoutCancel(ctx)

	started := e.now().UTC()
	run.State = models.RunRunning
	run.StartedAt = &started
	run.NodeID = &e.ID
	if err := e.runs.UpdateRunState(persistCtx, run.ID, e.ID, started); err != nil {
		// the run still executes; its record may lag behind
		log.Warn("failed to report run state", zap.Error(err))
	}

	metrics.RunsInFlight.Inc()
	out, err := e.task.Execute(ctx, run.Invocation())
	metrics.RunsInFlight.Dec()

	output := out
	switch f, isFail := signals.AsFail(err); {
	case err == nil:
		run.State = models.RunSuccess
		run.ExitCode = 0
		run.Message = ""
	case isFail:
		run.State = models.RunFailed
		run.ExitCode = f.ExitCode
		run.Message = f.Message
		output = f.Output
	default:
		run.State = models.RunError
		run.ExitCode = -1
		run.Message = err.Error()
	}
	run.OutputSize = len(output)

	if e.outputs != nil {
		ref, storeErr := e.outputs.Store(persistCtx, run.ID.String(), output)
		if storeErr != nil {
			metrics.OutputStoreErrors.Inc()
			log.Error("failed to store output", zap.Error(storeErr))
		} else {
			run.OutputURI = ref
		}
	}

	completed := e.now().UTC()
	run.CompletedAt = &completed
	if updErr := e.runs.UpdateResult(persistCtx, run); updErr != nil {
		log.Error("failed to report run result", zap.Error(updErr))
	}

	metrics.RecordRun(run.TaskName, string(run.State), run.Duration().Seconds(), run.OutputSize)
	span.SetAttributes(
		tracing.AttrState.String(string(run.State)),
		tracing.AttrExitCode.Int(run.ExitCode),
		attribute.Int("task.output_size", run.OutputSize),
	)

	fields := []zap.Field{
		zap.String("state", string(run.State)),
		zap.Int("exit_code", run.ExitCode),
		zap.Duration("duration", run.Duration()),
	}
	switch run.State {
	case models.RunSuccess:
		log.Info("run finished", fields...)
	case models.RunFailed:
		tracing.SetError(ctx, err)
		log.Warn("run failed", fields...)
	default:
		tracing.SetError(ctx, err)
		log.Error("run errored", append(fields, zap.Error(err))...)
	}

	return out, err
}

// Start consumes runs from the queue until ctx is done.
func (e *Executor) Start(ctx context.Context) error {
	if e.queue == nil {
		return ErrNoQueue
	}

	e.log.Info("starting executor",
		zap.String("hostname", e.Hostname),
		zap.Int("cpus", e.TotalCPU),
		zap.Uint64("memory_mb", e.TotalMem),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	if err := e.queue.EnsureGroup(ctx, e.cfg.Group); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			consumer := fmt.Sprintf("%s-%d", e.ID, worker)
			for ctx.Err() == nil {
				e.consumeOne(ctx, consumer)
			}
		}(i)
	}
	wg.Wait()

	e.log.Info("executor stopped")
	return nil
}

func (e *Executor) consumeOne(ctx context.Context, consumer string) {
	msgID, run, err := e.queue.Pop(ctx, e.cfg.Group, consumer)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Error("failed to pop run", zap.Error(err))
		if msgID != "" {
			// undecodable message; drop it so it is not redelivered
			e.ack(ctx, msgID)
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.ErrorBackoff):
		}
		return
	}
	if run == nil {
		return
	}

	if run.TaskName == "" {
		run.TaskName = e.task.Name()
	}
	if _, err := e.runs.GetRun(ctx, run.ID); errors.Is(err, storage.ErrNotFound) {
		if err := e.runs.CreateRun(ctx, run); err != nil {
			e.log.Warn("failed to record queued run", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}

	// The outcome is recorded on the run; the error needs no handling here.
	_, _ = e.Execute(ctx, run)
	e.ack(ctx, msgID)
}

func (e *Executor) ack(ctx context.Context, msgID string) {
	if err := e.queue.Ack(context.WithoutCancel(ctx), e.cfg.Group, msgID); err != nil {
		e.log.Error("failed to ack run", zap.String("msg_id", msgID), zap.Error(err))
	}
}
