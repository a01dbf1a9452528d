package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	config "shelltask/configs"
	"shelltask/pkg/executor"
	"shelltask/pkg/logger"
	tracing "shelltask/pkg/observability"
	"shelltask/pkg/storage"
	"shelltask/pkg/storage/memory"
	"shelltask/pkg/storage/postgres"
	"shelltask/pkg/storage/redis"
	"shelltask/pkg/task"
	"shelltask/pkg/tasks/shell"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	tracer  *tracing.Provider
	task    *shell.Task
	runs    storage.RunStore
	outputs storage.OutputStore
	queue   *redis.Queue

	closers []func() error
}

type appOptions struct {
	service   string
	needQueue bool
	tryQueue  bool

	// shell derives the task configuration; defaults to shellConfigFrom
	shell func(*config.Config) shell.Config
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := config.LoadConfig()

	log, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogOutput,
		Service:    opts.service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	tcfg := tracing.DefaultConfig(opts.service)
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Endpoint = cfg.OTELEndpoint
	tcfg.SamplingRate = cfg.TracingSamplingRate
	a.tracer, err = tracing.Init(ctx, tcfg)
	if err != nil {
		return nil, err
	}

	if opts.shell == nil {
		opts.shell = shellConfigFrom
	}
	a.task = shell.New(opts.shell(cfg), shell.WithLogger(log.With(zap.String("component", "shell"))))

	if dsn := cfg.DSN(); dsn != "" {
		store, err := postgres.NewRunStore(dsn)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize run store: %w", err)
		}
		a.runs = store
		a.closers = append(a.closers, store.Close)
	} else {
		log.Info("DB_HOST not set, recording runs in memory")
		a.runs = memory.NewRunStore()
	}

	a.outputs, err = newOutputStore(ctx, cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	if opts.needQueue || opts.tryQueue {
		q, err := redis.NewQueue(cfg.RedisAddr())
		switch {
		case err == nil:
			a.queue = q
			a.closers = append(a.closers, q.Close)
		case opts.needQueue:
			a.close()
			return nil, fmt.Errorf("failed to initialize queue: %w", err)
		default:
			log.Warn("queue unavailable, async runs disabled", zap.Error(err))
		}
	}

	return a, nil
}

func newOutputStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.OutputStore, error) {
	switch cfg.OutputStore {
	case config.OutputStoreNone, "":
		return nil, nil
	case config.OutputStoreLocal:
		return storage.NewLocalOutputStore(cfg.OutputDir)
	case config.OutputStoreS3:
		return storage.NewS3OutputStore(ctx, storage.S3OutputStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			LocalCacheDir:   cfg.S3CacheDir,
		}, log)
	default:
		return nil, fmt.Errorf("unknown OUTPUT_STORE %q", cfg.OutputStore)
	}
}

// executor builds an executor over the wired stores. The queue is passed only
// when connected, so a nil *redis.Queue never hides inside the interface.
func (a *app) executor() *executor.Executor {
	var q storage.Queue
	if a.queue != nil {
		q = a.queue
	}
	cfg := executor.DefaultConfig()
	if a.cfg.ExecutorConcurrency > 0 {
		cfg.Concurrency = a.cfg.ExecutorConcurrency
	}
	return executor.New(cfg, a.task, a.runs, a.outputs, q, a.log)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(context.Background())
	}
}

func shellConfigFrom(cfg *config.Config) shell.Config {
	return shell.Config{
		Config:  task.DefaultConfig(cfg.TaskName),
		Shell:   cfg.Shell,
		Dir:     cfg.Dir,
		Command: cfg.Command,
	}
}
