package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/internal/pause"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/internal/validation"
	"github.com/rendis/weave/pkg/schema"
)

// Service ties workflow storage to the executor. It is the seam the
// HTTP handlers and the trigger scheduler both call through, so a
// scheduled run and an API run take the same path.
type Service struct {
	st        store.Store
	executor  *engine.Executor
	pause     *pause.Controller
	validator validation.Validator
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(st store.Store, x *engine.Executor, pc *pause.Controller, v validation.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{st: st, executor: x, pause: pc, validator: v, logger: logger}
}

// CreateWorkflow validates and stores a workflow definition. The
// definition must pass both the structural (JSON Schema) and semantic
// (graph compile) checks before it is accepted.
func (s *Service) CreateWorkflow(ctx context.Context, wf *store.Workflow) error {
	if wf.Definition == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is required")
	}
	if s.validator != nil {
		if err := s.validator.ValidateGraph(wf.Definition); err != nil {
			return err
		}
	}
	if _, err := engine.Compile(wf.Definition); err != nil {
		return err
	}

	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	return s.st.CreateWorkflow(ctx, wf)
}

// RunWorkflow executes a stored workflow synchronously and returns the
// result.
func (s *Service) RunWorkflow(ctx context.Context, workflowID string, variables map[string]any, trigger string) (*engine.RunResult, error) {
	wf, err := s.st.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	merged := mergeVariables(wf.Variables, variables)
	return s.executor.Run(ctx, wf.ID, wf.Definition, engine.RunOptions{
		Variables:           merged,
		Trigger:             trigger,
		DeploymentVersionID: wf.DeploymentVersionID,
	})
}

// StartWorkflow runs a stored workflow and discards the result. It
// satisfies the trigger scheduler's WorkflowStarter.
func (s *Service) StartWorkflow(ctx context.Context, workflowID string, variables map[string]any, trigger string) error {
	res, err := s.RunWorkflow(ctx, workflowID, variables, trigger)
	if err != nil {
		return err
	}
	if res.Status == schema.RunStatusFailed {
		if res.Error != nil {
			return res.Error
		}
		return fmt.Errorf("workflow %s failed", workflowID)
	}
	return nil
}

// ResumeExecution loads the latest snapshot of a paused execution and
// continues it.
func (s *Service) ResumeExecution(ctx context.Context, executionID string) (*engine.RunResult, error) {
	state, err := s.pause.Resume(ctx, executionID)
	if err != nil {
		return nil, err
	}

	wf, err := s.st.GetWorkflow(ctx, state.WorkflowID)
	if err != nil {
		return nil, err
	}

	return s.executor.Resume(ctx, wf.ID, wf.Definition, state, engine.RunOptions{
		Trigger:             "resume",
		DeploymentVersionID: wf.DeploymentVersionID,
	})
}

func mergeVariables(base map[string]any, overrides map[string]any) map[string]any {
	if len(base) == 0 {
		return overrides
	}
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
