package main

import (
	"fmt"
	"maps"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "shelltask/configs"
	"shelltask/pkg/signals"
	"shelltask/pkg/task"
	"shelltask/pkg/tasks/shell"
)

var (
	runShell    string
	runDir      string
	runEnv      []string
	runEnvFiles []string
)

var runCmd = &cobra.Command{
	Use:   "run [command]",
	Short: "Run a command once and print its output",
	Long: `Run a command through the configured shell and print its combined
stdout and stderr.

The command defaults to SHELL_TASK_COMMAND when no argument is given.
--env and --env-file build a replacement environment for the child; without
them the child inherits this process's environment. On failure shelltask
exits with the child's exit code.`,
	Example: `  shelltask run 'echo hi'
  shelltask run --cd /tmp pwd
  shelltask run --env FOO=bar 'echo $FOO'`,
	RunE: runCommand,
}

func init() {
	runCmd.Flags().StringVar(&runShell, "shell", "", "Shell interpreter (default SHELL_TASK_SHELL or bash)")
	runCmd.Flags().StringVar(&runDir, "cd", "", "Directory to change into before running")
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "Environment entry KEY=VALUE (repeatable)")
	runCmd.Flags().StringArrayVar(&runEnvFiles, "env-file", nil, "Read environment entries from a dotenv file (repeatable)")

	rootCmd.AddCommand(runCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	env, err := buildEnv(runEnvFiles, runEnv)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), appOptions{
		service: "shelltask",
		shell: func(cfg *config.Config) shell.Config {
			sc := shellConfigFrom(cfg)
			if cmd.Flags().Changed("shell") {
				sc.Shell = runShell
			}
			if cmd.Flags().Changed("cd") {
				sc.Dir = runDir
			}
			return sc
		},
	})
	if err != nil {
		return err
	}
	defer a.close()

	inv := task.Invocation{Command: strings.Join(args, " "), Env: env}
	run, out, err := a.executor().Run(cmd.Context(), inv)

	if f, ok := signals.AsFail(err); ok {
		out = f.Output
	}
	if _, werr := cmd.OutOrStdout().Write(out); werr != nil {
		a.log.Warn("failed to write output", zap.Error(werr))
	}
	if run != nil {
		a.log.Debug("run recorded", zap.String("run_id", run.ID.String()), zap.String("state", string(run.State)))
	}
	return err
}

// buildEnv merges dotenv files in order, then KEY=VALUE pairs. It returns nil
// when nothing was given so the child inherits the ambient environment.
func buildEnv(files []string, pairs []string) (map[string]string, error) {
	if len(files) == 0 && len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string)
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", f, err)
		}
		maps.Copy(env, vars)
	}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: env entry %q is not KEY=VALUE", task.ErrInvalidArgument, p)
		}
		env[key] = value
	}
	return env, nil
}
