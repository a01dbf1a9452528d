package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shelltask/pkg/api/middleware"
	"shelltask/pkg/models"
	"shelltask/pkg/storage"
	"shelltask/pkg/task"
)

// Runner executes and submits runs. *executor.Executor implements it.
type Runner interface {
	Run(ctx context.Context, inv task.Invocation) (*models.TaskRun, []byte, error)
	Submit(ctx context.Context, inv task.Invocation) (*models.TaskRun, error)
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger
	validator  *middleware.Validator

	runner  Runner
	runs    storage.RunStore
	outputs storage.OutputStore
	queue   storage.Queue
}

// Config holds API server configuration.
type Config struct {
	Port      string
	Runner    Runner
	Runs      storage.RunStore
	Outputs   storage.OutputStore // optional
	Queue     storage.Queue       // optional
	Validator middleware.ValidatorConfig
	Logger    *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Validator.MaxCommandLength == 0 {
		cfg.Validator = middleware.DefaultValidatorConfig()
	}

	router := gin.New()

	// order matters: request ID must be set before tracing and logging read it
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("shelltask-api"))
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.BodySizeLimitMiddleware(cfg.Validator.MaxBodySize))

	s := &Server{
		router:    router,
		log:       cfg.Logger.With(zap.String("component", "api")),
		validator: middleware.NewValidator(cfg.Validator),
		runner:    cfg.Runner,
		runs:      cfg.Runs,
		outputs:   cfg.Outputs,
		queue:     cfg.Queue,
	}

	s.registerRoutes()

	// WriteTimeout is left unset: synchronous runs have no deadline.
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.POST("", s.createRun)
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
			runs.GET("/:id/output", s.getRunOutput)
		}
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.With(zap.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		)
	}
}

// healthCheck reports which dependencies are wired. The output store and the
// queue are optional and do not degrade health.
func (s *Server) healthCheck(c *gin.Context) {
	deps := map[string]bool{
		"run_store":    s.runs != nil,
		"runner":       s.runner != nil,
		"output_store": s.outputs != nil,
		"queue":        s.queue != nil,
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !deps["run_store"] || !deps["runner"] {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
