package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/weave/internal/store"
)

// WorkflowStarter is the interface the scheduler uses to launch runs.
// Satisfied by the service layer wrapping the executor (avoids an
// import cycle with the engine).
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, workflowID string, variables map[string]any, trigger string) error
}

// TriggerSchedule is the trigger label stamped on runs started by the
// scheduler; manual runs carry "manual".
const TriggerSchedule = "schedule"

// Scheduler polls the store for due cron triggers and starts their
// workflows.
type Scheduler struct {
	store   store.Store
	starter WorkflowStarter
	parser  cron.Parser
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, starter WorkflowStarter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("trigger scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled triggers and fires those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list triggers", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, tr := range triggers {
		if tr.NextRunAt == nil || !tr.NextRunAt.After(now) {
			if !s.tryAcquire(tr.ID) {
				continue // already running (dedup)
			}
			if err := s.fire(ctx, tr, now); err != nil {
				s.logger.Error("failed to fire trigger",
					slog.String("trigger_id", tr.ID),
					slog.String("error", err.Error()),
				)
			}
			s.release(tr.ID)
		}
	}
}

// fire starts the trigger's workflow and updates its timestamps.
func (s *Scheduler) fire(ctx context.Context, tr *store.ScheduledTrigger, now time.Time) error {
	s.logger.Info("firing scheduled trigger",
		slog.String("trigger_id", tr.ID),
		slog.String("workflow_id", tr.WorkflowID),
	)

	var variables map[string]any
	if len(tr.Variables) > 0 {
		if err := json.Unmarshal(tr.Variables, &variables); err != nil {
			return s.updateStatus(ctx, tr, now, "error")
		}
	}

	err := s.starter.StartWorkflow(ctx, tr.WorkflowID, variables, TriggerSchedule)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled run failed",
			slog.String("trigger_id", tr.ID),
			slog.String("workflow_id", tr.WorkflowID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateStatus(ctx, tr, now, status)
}

func (s *Scheduler) updateStatus(ctx context.Context, tr *store.ScheduledTrigger, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(tr.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for trigger %q: %w", tr.ID, err)
	}

	return s.store.UpdateTrigger(ctx, tr.ID, store.TriggerUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the trigger as in-flight if it is
// not already running.
func (s *Scheduler) tryAcquire(triggerID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[triggerID]; ok {
		return false
	}
	s.inflight[triggerID] = struct{}{}
	return true
}

func (s *Scheduler) release(triggerID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, triggerID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("trigger scheduler stopped")
	return nil
}

// RecoverMissed fires triggers whose next_run_at passed while the
// process was down, once each.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed triggers: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, tr := range triggers {
		if tr.NextRunAt != nil && tr.NextRunAt.Before(now) {
			if !s.tryAcquire(tr.ID) {
				continue
			}
			if err := s.fire(ctx, tr, now); err != nil {
				s.logger.Error("failed to recover missed trigger",
					slog.String("trigger_id", tr.ID),
					slog.String("error", err.Error()),
				)
				s.release(tr.ID)
				continue
			}
			s.release(tr.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed triggers", slog.Int("count", recovered))
	}
	return nil
}
