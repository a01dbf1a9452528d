package runner

import (
	"context"
	"time"
)

// Result captures the outcome of a single process run.
type Result struct {
	ExitCode int
	Exited   bool   // the process ran and reported an exit status
	Output   []byte // stdout and stderr, interleaved in emission order
	Duration time.Duration
	Error    error // spawn or wait error, if any
}

// ProcessRunner spawns one child process and waits for it.
type ProcessRunner interface {
	// Run executes name with args and the given environment. A nil env
	// inherits the current process environment.
	Run(ctx context.Context, name string, args []string, env []string) Result
}
