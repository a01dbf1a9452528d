package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute runs from the Redis queue",
	Long: `Consume runs submitted through the API (async mode) and execute each
one exactly once. Stops on SIGINT or SIGTERM after in-flight runs finish.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{service: "shelltask-worker", needQueue: true})
	if err != nil {
		return err
	}
	defer a.close()

	exec := a.executor()
	a.log.Info("worker ready", zap.String("executor_id", exec.ID), zap.String("shell", a.task.Shell()))
	return exec.Start(ctx)
}
