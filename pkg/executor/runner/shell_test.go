package runner

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestShellRunner_Success(t *testing.T) {
	requireShell(t)

	res := NewShellRunner().Run(context.Background(), "sh", []string{"-c", "echo hello"}, nil)

	require.NoError(t, res.Error)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Output))
	assert.Greater(t, int64(res.Duration), int64(0))
}

func TestShellRunner_InterleavesStreams(t *testing.T) {
	requireShell(t)

	script := "echo one; echo two 1>&2; echo three"
	res := NewShellRunner().Run(context.Background(), "sh", []string{"-c", script}, nil)

	require.NoError(t, res.Error)
	assert.Equal(t, "one\ntwo\nthree\n", string(res.Output))
}

func TestShellRunner_ExitCode(t *testing.T) {
	requireShell(t)

	res := NewShellRunner().Run(context.Background(), "sh", []string{"-c", "echo bad; exit 7"}, nil)

	assert.Equal(t, 7, res.ExitCode)
	assert.True(t, res.Exited)
	assert.Equal(t, "bad\n", string(res.Output))
	var exitErr *exec.ExitError
	assert.True(t, errors.As(res.Error, &exitErr))
}

func TestShellRunner_ExplicitEnv(t *testing.T) {
	requireShell(t)

	res := NewShellRunner().Run(context.Background(), "sh", []string{"-c", `printf %s "$ONLY"`}, []string{"ONLY=this"})

	require.NoError(t, res.Error)
	assert.Equal(t, "this", string(res.Output))
}

func TestShellRunner_SpawnError(t *testing.T) {
	res := NewShellRunner().Run(context.Background(), "/definitely/not/a/shell", []string{"-c", "true"}, nil)

	require.Error(t, res.Error)
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, res.Exited)
	var exitErr *exec.ExitError
	assert.False(t, errors.As(res.Error, &exitErr))
}
