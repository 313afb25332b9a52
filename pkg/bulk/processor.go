// Package bulk applies one action across many workflow instances with
// partial-failure semantics: each instance succeeds or fails on its own,
// and the caller gets both buckets back.
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/engine"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

const (
	defaultWorkers  = 8
	defaultMaxBatch = 100
)

// Request applies one action to every listed instance. The action is
// validated once up front; instance-level preconditions are checked per
// instance and never fail the batch as a whole.
type Request struct {
	InstanceIDs  []string          `json:"instance_ids"  validate:"required,min=1,dive,required"`
	ActionType   models.ActionType `json:"action_type"   validate:"required"`
	PerformedBy  string            `json:"performed_by"  validate:"required"`
	Comment      string            `json:"comment,omitempty"`
	TargetUserID string            `json:"target_user_id,omitempty"`
}

// Failure is one instance that could not be acted on, with the reason.
type Failure struct {
	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason"`
}

// Result partitions the batch: every requested instance id lands in
// exactly one of the two buckets.
type Result struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Processor fans a bulk request out over a bounded worker pool. Instance
// serialization is the engine's job; the pool only bounds parallelism.
type Processor struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	logger      *slog.Logger
	workers     int
	maxBatch    int
}

// NewProcessor creates a bulk processor. Zero workers or maxBatch fall
// back to defaults (8 workers, 100 instances per batch).
func NewProcessor(eng *engine.Engine, p persistence.Persistence, logger *slog.Logger, workers, maxBatch int) *Processor {
	if workers <= 0 {
		workers = defaultWorkers
	}

	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}

	return &Processor{
		engine:      eng,
		persistence: p,
		logger:      logger.With("module", "bulk_processor"),
		workers:     workers,
		maxBatch:    maxBatch,
	}
}

// Execute runs the batch. It returns an error only for a malformed
// request; instance-level problems are reported in the result's failed
// bucket instead.
func (p *Processor) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	instanceIDs := dedupe(req.InstanceIDs)

	type outcome struct {
		succeeded bool
		reason    string
	}

	outcomes := make([]outcome, len(instanceIDs))

	var wg sync.WaitGroup

	sem := make(chan struct{}, p.workers)

	for i, instanceID := range instanceIDs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := p.executeOne(ctx, req, instanceID); err != nil {
				outcomes[i] = outcome{reason: err.Error()}

				return
			}

			outcomes[i] = outcome{succeeded: true}
		}()
	}

	wg.Wait()

	result := &Result{Succeeded: []string{}, Failed: []Failure{}}

	for i, instanceID := range instanceIDs {
		if outcomes[i].succeeded {
			result.Succeeded = append(result.Succeeded, instanceID)

			continue
		}

		result.Failed = append(result.Failed, Failure{InstanceID: instanceID, Reason: outcomes[i].reason})
	}

	p.logger.InfoContext(ctx, "Bulk action finished",
		"action_type", req.ActionType, "requested", len(instanceIDs),
		"succeeded", len(result.Succeeded), "failed", len(result.Failed))

	return result, nil
}

func (p *Processor) executeOne(ctx context.Context, req Request, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}

	step, err := p.persistence.StepInstanceRepository().CurrentForInstance(ctx, instanceID)
	if err != nil {
		if persistence.IsStepInstanceNotFound(err) || persistence.IsInstanceNotFound(err) {
			return fmt.Errorf("no actionable step: %w", err)
		}

		return err
	}

	_, err = p.engine.ExecuteAction(ctx, engine.ExecuteActionRequest{
		InstanceID:     instanceID,
		StepInstanceID: step.ID,
		ActionType:     req.ActionType,
		PerformedBy:    req.PerformedBy,
		Comment:        req.Comment,
		TargetUserID:   req.TargetUserID,
	})

	return err
}

func (p *Processor) validate(req Request) error {
	if len(req.InstanceIDs) == 0 {
		return &engine.ValidationError{Field: "instance_ids", Message: "at least one instance id is required"}
	}

	if len(req.InstanceIDs) > p.maxBatch {
		return &engine.ValidationError{
			Field:   "instance_ids",
			Message: fmt.Sprintf("batch of %d exceeds the limit of %d", len(req.InstanceIDs), p.maxBatch),
		}
	}

	if req.PerformedBy == "" {
		return &engine.ValidationError{Field: "performed_by", Message: "performed_by is required"}
	}

	if !req.ActionType.Valid() {
		return &engine.ValidationError{Field: "action_type", Message: fmt.Sprintf("unknown action type %q", req.ActionType)}
	}

	if req.ActionType.RequiresComment() && strings.TrimSpace(req.Comment) == "" {
		return &engine.ValidationError{Field: "comment", Message: fmt.Sprintf("%s requires a comment", req.ActionType)}
	}

	if req.ActionType.RequiresTarget() && req.TargetUserID == "" {
		return &engine.ValidationError{Field: "target_user_id", Message: fmt.Sprintf("%s requires a target user", req.ActionType)}
	}

	return nil
}

// dedupe drops repeated ids so every requested instance lands in exactly
// one result bucket, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
