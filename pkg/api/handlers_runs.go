package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shelltask/pkg/api/middleware"
	"shelltask/pkg/executor"
	"shelltask/pkg/models"
	"shelltask/pkg/signals"
	"shelltask/pkg/storage"
	"shelltask/pkg/task"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CreateRunRequest is the request body for triggering a run.
type CreateRunRequest struct {
	Command string            `json:"command"`
	Env     map[string]string `json:"env"`
	Async   bool              `json:"async"`
}

// RunResponse is a run record plus, for synchronous runs, its output.
type RunResponse struct {
	*models.TaskRun
	Output *string `json:"output,omitempty"`
}

func newRunResponse(run *models.TaskRun, out []byte) RunResponse {
	s := string(out)
	return RunResponse{TaskRun: run, Output: &s}
}

func (s *Server) createRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.SetRunOutcome(c, req.Async, middleware.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	if err := s.validator.ValidateCommand(req.Command); err != nil {
		middleware.SetRunOutcome(c, req.Async, middleware.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateEnv(req.Env); err != nil {
		middleware.SetRunOutcome(c, req.Async, middleware.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inv := task.Invocation{Command: req.Command, Env: req.Env}
	ctx := c.Request.Context()

	if req.Async {
		run, err := s.runner.Submit(ctx, inv)
		if errors.Is(err, executor.ErrNoQueue) {
			middleware.SetRunOutcome(c, true, middleware.OutcomeUnavailable)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async runs need a queue"})
			return
		}
		if err != nil {
			s.log.Error("failed to submit run", zap.Error(err))
			middleware.SetRunOutcome(c, true, middleware.OutcomeErrored)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit run"})
			return
		}
		middleware.SetRunOutcome(c, true, middleware.OutcomeAccepted)
		c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "state": run.State})
		return
	}

	run, out, err := s.runner.Run(ctx, inv)
	if err == nil {
		middleware.SetRunOutcome(c, false, middleware.OutcomeSucceeded)
		c.JSON(http.StatusOK, newRunResponse(run, out))
		return
	}

	if f, ok := signals.AsFail(err); ok {
		middleware.SetRunOutcome(c, false, middleware.OutcomeFailed)
		c.JSON(http.StatusUnprocessableEntity, newRunResponse(run, f.Output))
		return
	}
	if errors.Is(err, task.ErrInvalidArgument) {
		middleware.SetRunOutcome(c, false, middleware.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "run": run})
		return
	}

	s.log.Error("run errored", zap.Error(err))
	middleware.SetRunOutcome(c, false, middleware.OutcomeErrored)
	body := gin.H{"error": err.Error()}
	if run != nil {
		body["run"] = run
	}
	c.JSON(http.StatusInternalServerError, body)
}

func (s *Server) listRuns(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getRunOutput(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	if run.OutputURI == "" || s.outputs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stored output for run"})
		return
	}

	data, err := s.outputs.Retrieve(c.Request.Context(), run.OutputURI)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "output not found"})
		return
	}
	if err != nil {
		s.log.Error("failed to retrieve output", zap.String("run_id", run.ID.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to retrieve output"})
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// lookupRun resolves :id, writing the error response itself on failure.
func (s *Server) lookupRun(c *gin.Context) (*models.TaskRun, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return nil, false
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	}
	if err != nil {
		s.log.Error("failed to get run", zap.String("run_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return nil, false
	}
	return run, true
}
