package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/bulk"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/engine"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/escalation"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/services"
)

type APIHandlers struct {
	definitionService *services.Definition
	engine            *engine.Engine
	bulkProcessor     *bulk.Processor
	sweeper           *escalation.Sweeper
	persistence       persistence.Persistence
	validator         *validator.Validate
}

func NewAPIHandlers(
	definitionService *services.Definition,
	eng *engine.Engine,
	bulkProcessor *bulk.Processor,
	sweeper *escalation.Sweeper,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		engine:            eng,
		bulkProcessor:     bulkProcessor,
		sweeper:           sweeper,
		persistence:       p,
		validator:         validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	if typeStr := c.Query("workflow_type"); typeStr != "" {
		workflowType := models.WorkflowType(typeStr)
		req.WorkflowType = &workflowType
	}

	workflows, err := h.definitionService.ListWorkflows(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:          req.Name,
		Description:   req.Description,
		WorkflowType:  req.WorkflowType,
		Status:        models.WorkflowStatus(req.Status),
		Steps:         toModelSteps(req.Steps),
		ContextSchema: req.ContextSchema,
	}

	created, err := h.definitionService.CreateWorkflow(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.definitionService.GetWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.definitionService.GetWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Status != nil {
		existing.Status = models.WorkflowStatus(*req.Status)
	}

	if req.Steps != nil {
		existing.Steps = toModelSteps(*req.Steps)
	}

	if req.ContextSchema != nil {
		existing.ContextSchema = req.ContextSchema
	}

	updated, err := h.definitionService.UpdateWorkflow(c.Context(), existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.definitionService.DeleteWorkflow(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.CreateInstance(c.Context(), engine.CreateInstanceRequest{
		WorkflowID:   req.WorkflowID,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		Priority:     models.Priority(req.Priority),
		InitiatedBy:  req.InitiatedBy,
		ContextData:  req.ContextData,
		CustomFields: req.CustomFields,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	detail, err := h.engine.GetInstanceDetail(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	opts, err := parseListInstancesOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	instances, err := h.engine.ListInstances(c.Context(), opts)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances": instances,
		"count":     len(instances),
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

func parseListInstancesOptions(c fiber.Ctx) (persistence.ListInstancesOptions, error) {
	opts := persistence.ListInstancesOptions{
		WorkflowID: c.Query("workflow_id"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		AssigneeID: c.Query("assignee_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		opts.Status = &status
	}

	if priorityStr := c.Query("priority"); priorityStr != "" {
		priority := models.Priority(priorityStr)
		opts.Priority = &priority
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return opts, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return opts, err
		}

		opts.Offset = offset
	}

	return opts, nil
}

func (h *APIHandlers) ExecuteAction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req ExecuteActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	stepInstanceID := req.StepInstanceID
	if stepInstanceID == "" {
		step, err := h.persistence.StepInstanceRepository().CurrentForInstance(c.Context(), id)
		if err != nil {
			if persistence.IsStepInstanceNotFound(err) {
				return conflict(c, "instance has no step in progress")
			}

			return internalError(c, err)
		}

		stepInstanceID = step.ID
	}

	action, err := h.engine.ExecuteAction(c.Context(), engine.ExecuteActionRequest{
		InstanceID:     id,
		StepInstanceID: stepInstanceID,
		ActionType:     req.ActionType,
		PerformedBy:    req.PerformedBy,
		Comment:        req.Comment,
		TargetUserID:   req.TargetUserID,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(action)
}

// AssignInstance manually assigns a pending instance to an actor. It is
// the administrative escape hatch for instances no rule can resolve.
func (h *APIHandlers) AssignInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req AssignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.persistence.StepInstanceRepository().CurrentForInstance(c.Context(), id)
	if err != nil {
		if persistence.IsStepInstanceNotFound(err) {
			return conflict(c, "instance has no step in progress")
		}

		return internalError(c, err)
	}

	action, err := h.engine.ExecuteAction(c.Context(), engine.ExecuteActionRequest{
		InstanceID:     id,
		StepInstanceID: step.ID,
		ActionType:     models.ActionTypeReassign,
		PerformedBy:    req.PerformedBy,
		TargetUserID:   req.AssigneeID,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(action)
}

func (h *APIHandlers) BulkAction(c fiber.Ctx) error {
	var req BulkActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.bulkProcessor.Execute(c.Context(), bulk.Request{
		InstanceIDs:  req.InstanceIDs,
		ActionType:   req.ActionType,
		PerformedBy:  req.PerformedBy,
		Comment:      req.Comment,
		TargetUserID: req.TargetUserID,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(result)
}

// TriggerSweep runs one escalation sweep on demand.
func (h *APIHandlers) TriggerSweep(c fiber.Ctx) error {
	if h.sweeper == nil {
		return notFound(c, "no sweeper configured")
	}

	stats := h.sweeper.Sweep(c.Context())

	return c.JSON(stats)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func toModelSteps(steps []StepRequest) []*models.WorkflowStep {
	out := make([]*models.WorkflowStep, 0, len(steps))

	for _, step := range steps {
		out = append(out, &models.WorkflowStep{
			Order:          step.Order,
			Name:           step.Name,
			Assignment:     step.Assignment,
			SLAHours:       step.SLAHours,
			AllowedActions: step.AllowedActions,
		})
	}

	return out
}
