package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

type ShellRunner struct{}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run blocks until the child exits. The context is not bound to the
// process; the child runs to completion or until killed from outside.
func (s *ShellRunner) Run(_ context.Context, name string, args []string, env []string) Result {
	start := time.Now()

	cmd := exec.Command(name, args...)
	cmd.Env = env

	// One writer for both streams so the child shares a single pipe and
	// the output keeps its emission order.
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	duration := time.Since(start)

	exitCode, exited := 0, true
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// -1 when the child was killed by a signal
			exitCode = exitErr.ExitCode()
		} else {
			// Failed to start
			exitCode, exited = -1, false
		}
	}

	return Result{
		ExitCode: exitCode,
		Exited:   exited,
		Output:   out.Bytes(),
		Duration: duration,
		Error:    err,
	}
}
