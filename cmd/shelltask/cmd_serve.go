package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shelltask/pkg/api"
	"shelltask/pkg/storage"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the run API on API_PORT. Synchronous runs execute in the request;
async runs are pushed to Redis when it is reachable.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (default API_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{service: "shelltask-api", tryQueue: true})
	if err != nil {
		return err
	}
	defer a.close()

	port := a.cfg.APIPort
	if servePort != "" {
		port = servePort
	}

	var q storage.Queue
	if a.queue != nil {
		q = a.queue
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(api.Config{
		Port:    port,
		Runner:  a.executor(),
		Runs:    a.runs,
		Outputs: a.outputs,
		Queue:   q,
		Logger:  a.log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
