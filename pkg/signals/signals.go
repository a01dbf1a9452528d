// Package signals defines the control-flow errors a task uses to report its
// outcome to the harness.
package signals

import (
	"errors"
	"fmt"
)

// Fail reports that a task ran and failed. It is the only error the harness
// treats as a task failure; anything else is an engine error.
//
// A Fail never wraps the low-level error that caused it.
type Fail struct {
	Message  string
	ExitCode int
	Output   []byte
}

// NewFail builds the Fail for a command that exited with exitCode.
func NewFail(exitCode int, output []byte) *Fail {
	return &Fail{
		Message:  fmt.Sprintf("Command failed with exit code %d: %s", exitCode, output),
		ExitCode: exitCode,
		Output:   output,
	}
}

func (f *Fail) Error() string {
	return f.Message
}

// AsFail returns the Fail in err's chain, if any.
func AsFail(err error) (*Fail, bool) {
	var f *Fail
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsFail reports whether err carries a Fail.
func IsFail(err error) bool {
	_, ok := AsFail(err)
	return ok
}
