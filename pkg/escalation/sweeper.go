// Package escalation implements the timeout sweeper: a periodic scan for
// overdue step instances that escalates each one to the assignee's manager
// through the same action path a human would use.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/directory"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/engine"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/otelhelper"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

const (
	defaultSchedule  = "* * * * *"
	defaultBatchSize = 100
	defaultBudget    = 30 * time.Second
)

// Config tunes the sweeper. Zero values fall back to defaults: a sweep
// every minute, 100 overdue steps per run, a 30s budget per run.
type Config struct {
	// Schedule is a standard cron expression controlling sweep cadence.
	Schedule string
	// BatchSize caps how many overdue steps one sweep processes.
	BatchSize int
	// Budget bounds the wall time of one sweep run.
	Budget time.Duration
	// Tracer, when set, records one span per sweep.
	Tracer trace.Tracer
}

// SweepStats summarizes one sweep run.
type SweepStats struct {
	Overdue   int `json:"overdue"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
	Assigned  int `json:"assigned"`
	Errors    int `json:"errors"`
}

// Sweeper periodically escalates overdue steps and retries assignment of
// pending instances. Sweeps are idempotent: each escalation commit pushes
// the step's due date forward, so a parallel or repeated sweep finds
// nothing left to do.
type Sweeper struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	directory   directory.Directory
	lock        Lock
	logger      *slog.Logger

	schedule  cron.Schedule
	batchSize int
	budget    time.Duration
	tracer    trace.Tracer

	sweeping atomic.Bool

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper. The lock may be nil for single-replica
// deployments.
func NewSweeper(eng *engine.Engine, p persistence.Persistence, dir directory.Directory, lock Lock, logger *slog.Logger, config Config) (*Sweeper, error) {
	if config.Schedule == "" {
		config.Schedule = defaultSchedule
	}

	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}

	if config.Budget <= 0 {
		config.Budget = defaultBudget
	}

	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", config.Schedule, err)
	}

	return &Sweeper{
		engine:      eng,
		persistence: p,
		directory:   dir,
		lock:        lock,
		logger:      logger.With("module", "escalation_sweeper"),
		schedule:    schedule,
		batchSize:   config.BatchSize,
		budget:      config.Budget,
		tracer:      config.Tracer,
	}, nil
}

// Start begins sweeping on the configured schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.done = make(chan struct{})
	s.started = true

	s.wg.Add(1)

	go s.run(ctx)

	s.logger.InfoContext(ctx, "Escalation sweeper started")

	return nil
}

// Stop shuts the sweeper down and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	close(s.done)
	s.wg.Wait()
	s.started = false

	s.logger.InfoContext(ctx, "Escalation sweeper stopped")

	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(time.Until(s.schedule.Next(time.Now())))

		select {
		case <-s.done:
			timer.Stop()

			return
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: escalate everything overdue, then retry pending
// instances. A sweep starting while another is still running returns
// immediately with empty stats.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	if !s.sweeping.CompareAndSwap(false, true) {
		return SweepStats{}
	}
	defer s.sweeping.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	if s.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, s.tracer, "escalation.sweep")
		defer span.End()
	}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to acquire sweep lock", "error", err)
			otelhelper.SetError(trace.SpanFromContext(ctx), err)

			return SweepStats{Errors: 1}
		}

		if !acquired {
			// Another replica is sweeping.
			return SweepStats{}
		}

		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Failed to release sweep lock", "error", err)
			}
		}()
	}

	now := time.Now().UTC()
	stats := SweepStats{}

	overdue, err := s.persistence.StepInstanceRepository().FindOverdue(ctx, now, s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to find overdue steps", "error", err)
		otelhelper.SetError(trace.SpanFromContext(ctx), err)
		stats.Errors++

		return stats
	}

	stats.Overdue = len(overdue)

	for _, step := range overdue {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "Sweep budget exhausted", "remaining", len(overdue))

			break
		}

		s.escalateStep(ctx, step, now, &stats)
	}

	s.retryPending(ctx, &stats)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("approvals.sweep.overdue", stats.Overdue),
		attribute.Int("approvals.sweep.escalated", stats.Escalated),
		attribute.Int("approvals.sweep.skipped", stats.Skipped),
		attribute.Int("approvals.sweep.assigned", stats.Assigned),
		attribute.Int("approvals.sweep.errors", stats.Errors),
	)

	if stats.Overdue > 0 || stats.Assigned > 0 || stats.Errors > 0 {
		s.logger.InfoContext(ctx, "Sweep finished",
			"overdue", stats.Overdue, "escalated", stats.Escalated,
			"skipped", stats.Skipped, "assigned", stats.Assigned, "errors", stats.Errors)
	}

	return stats
}

func (s *Sweeper) escalateStep(ctx context.Context, step *models.WorkflowStepInstance, now time.Time, stats *SweepStats) {
	logger := s.logger.With("instance_id", step.WorkflowInstanceID, "step_instance_id", step.ID)

	if step.AssignedToID == nil {
		// Role fan-out steps have no single assignee to walk up from;
		// overdue ones need a reassignment, not an automatic escalation.
		logger.WarnContext(ctx, "Overdue step has no assignee, skipping escalation")
		stats.Skipped++

		return
	}

	target, err := s.directory.ResolveManagerOf(ctx, *step.AssignedToID)
	if err != nil {
		if errors.Is(err, directory.ErrNoManager) || errors.Is(err, directory.ErrUnknownUser) {
			logger.WarnContext(ctx, "No escalation target for overdue step", "assignee_id", *step.AssignedToID)
			stats.Skipped++

			return
		}

		logger.ErrorContext(ctx, "Failed to resolve escalation target", "error", err)
		stats.Errors++

		return
	}

	_, err = s.engine.ExecuteAction(ctx, engine.ExecuteActionRequest{
		InstanceID:      step.WorkflowInstanceID,
		StepInstanceID:  step.ID,
		ActionType:      models.ActionTypeEscalate,
		PerformedBy:     models.SystemActorID,
		Comment:         fmt.Sprintf("sla breached: step %d overdue since %s", step.StepOrder, step.DueDate.Format(time.RFC3339)),
		TargetUserID:    target,
		ExpectedDueDate: step.DueDate,
		System:          true,
	})
	if err != nil {
		// A concurrent action beat us to the step; nothing is overdue
		// anymore from that observation, so this is expected noise.
		if engine.IsInvalidTransition(err) {
			logger.DebugContext(ctx, "Skipping escalation, step changed concurrently", "reason", err)
			stats.Skipped++

			return
		}

		logger.ErrorContext(ctx, "Failed to escalate overdue step", "error", err)
		stats.Errors++

		return
	}

	logger.InfoContext(ctx, "Step escalated", "target", target)
	stats.Escalated++
}

// retryPending re-resolves assignment for instances stuck without an
// assignee, so a directory change unblocks them on the next sweep.
func (s *Sweeper) retryPending(ctx context.Context, stats *SweepStats) {
	pending := models.InstanceStatusPending

	instances, err := s.persistence.InstanceRepository().List(ctx, persistence.ListInstancesOptions{
		Status: &pending,
		Limit:  s.batchSize,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list pending instances", "error", err)
		stats.Errors++

		return
	}

	for _, instance := range instances {
		if ctx.Err() != nil {
			return
		}

		assigned, err := s.engine.ResolvePending(ctx, instance.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to retry pending instance", "instance_id", instance.ID, "error", err)
			stats.Errors++

			continue
		}

		if assigned {
			stats.Assigned++
		}
	}
}
