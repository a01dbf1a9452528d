package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"shelltask/pkg/logger"
	"shelltask/pkg/signals"
)

var dotenvFiles []string

var rootCmd = &cobra.Command{
	Use:   "shelltask",
	Short: "Run shell commands as recorded tasks",
	Long: `shelltask runs a command through a shell interpreter and returns its
combined stdout and stderr.

Commands:
  run     - execute one command in the foreground
  worker  - consume queued runs from Redis
  serve   - expose the HTTP API

Configuration is read from the environment (see configs/config.go).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if len(dotenvFiles) == 0 {
			return nil
		}
		// process configuration only; the run environment has its own flags
		if err := godotenv.Load(dotenvFiles...); err != nil {
			return fmt.Errorf("failed to load dotenv: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&dotenvFiles, "dotenv", nil, "Load process configuration from a .env file (repeatable)")
}

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err == nil {
		return
	}

	// the child's output was already written; exit with its status
	if f, ok := signals.AsFail(err); ok {
		os.Exit(failExitCode(f))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// failExitCode maps a child's exit status onto ours. Signal deaths report -1
// and become 1.
func failExitCode(f *signals.Fail) int {
	if f.ExitCode <= 0 || f.ExitCode > 255 {
		return 1
	}
	return f.ExitCode
}
