// Package shell provides a task that runs a command through a shell
// interpreter and returns its combined output.
package shell

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"shelltask/pkg/executor/runner"
	"shelltask/pkg/logger"
	"shelltask/pkg/signals"
	"shelltask/pkg/task"
)

// DefaultShell is used when Config.Shell is empty.
const DefaultShell = "bash"

// Config configures a shell Task. It is copied at construction.
type Config struct {
	task.Config

	// Shell is the interpreter invoked as `<Shell> -c <command>`.
	Shell string
	// Dir, when set, is entered with `cd <Dir> && ` before the command.
	Dir string
	// Command is used when Run is called without one.
	Command string
}

// Task runs shell commands. It holds no per-run state, so one Task may be
// invoked concurrently.
type Task struct {
	task.Base

	shell   string
	dir     string
	command string

	runner runner.ProcessRunner
	log    *zap.Logger
}

// Option customizes a Task.
type Option func(*Task)

// WithRunner overrides the process runner.
func WithRunner(r runner.ProcessRunner) Option {
	return func(t *Task) { t.runner = r }
}

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Task) { t.log = l }
}

// New creates a Task from cfg. Nothing is validated here: the shell is not
// looked up and Dir is not checked.
func New(cfg Config, opts ...Option) *Task {
	if cfg.Name == "" {
		cfg.Name = "shell"
	}
	sh := cfg.Shell
	if sh == "" {
		sh = DefaultShell
	}

	t := &Task{
		Base:    task.NewBase(cfg.Config),
		shell:   sh,
		dir:     cfg.Dir,
		command: cfg.Command,
		runner:  runner.NewShellRunner(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Component("shell")
	}
	t.log = t.log.With(zap.String("task", t.Name()))

	return t
}

// Shell returns the interpreter invoked as "<shell> -c".
func (t *Task) Shell() string { return t.shell }

// Dir returns the directory prefixed as "cd <dir> && ", or "".
func (t *Task) Dir() string { return t.dir }

// DefaultCommand returns the command used when Run gets none.
func (t *Task) DefaultCommand() string { return t.command }

// Run executes command, or the configured default when command is empty.
//
// A non-empty env replaces the child's environment entirely; otherwise the
// current process environment is passed through. On exit status 0 the
// combined stdout and stderr is returned. A non-zero exit yields a
// *signals.Fail carrying the exit code and output. Errors spawning the
// shell are returned as they come from os/exec.
//
// ctx is used for logging only; the child is not killed when it is done.
func (t *Task) Run(ctx context.Context, command string, env map[string]string) ([]byte, error) {
	if command == "" {
		command = t.command
	}
	if command == "" {
		return nil, fmt.Errorf("%w: missing required argument: command", task.ErrInvalidArgument)
	}

	if t.dir != "" {
		command = fmt.Sprintf("cd %s && %s", t.dir, command)
	}

	t.log.Debug("running command",
		zap.String("shell", t.shell),
		zap.String("command", command),
		zap.Bool("env_override", len(env) > 0),
	)

	res := t.runner.Run(ctx, t.shell, []string{"-c", command}, environ(env))
	if !res.Exited {
		return nil, res.Error
	}

	if res.ExitCode != 0 {
		t.log.Warn("command failed",
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", res.Duration),
		)
		return nil, signals.NewFail(res.ExitCode, res.Output)
	}

	t.log.Debug("command finished",
		zap.Int("output_bytes", len(res.Output)),
		zap.Duration("duration", res.Duration),
	)
	return res.Output, nil
}

// Execute implements task.Runnable.
func (t *Task) Execute(ctx context.Context, inv task.Invocation) ([]byte, error) {
	return t.Run(ctx, inv.Command, inv.Env)
}

// environ turns env into KEY=VALUE pairs, or snapshots the process
// environment when env is empty.
func environ(env map[string]string) []string {
	if len(env) == 0 {
		return os.Environ()
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
