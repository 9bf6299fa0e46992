// HTTP handlers for plan generation and application.
// POST /api/v1/plan/generate — goal in, structured plan out.
// POST /api/v1/plan/apply — create the plan's items on the work item platform.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/planpilot/planpilot/internal/domain/plan"
	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/infra/llm"
	"github.com/planpilot/planpilot/internal/infra/workitems"
)

// PlanService is the planning capability the handler consumes.
type PlanService interface {
	Generate(ctx context.Context, in plan.GenerateInput) (*plan.GenerateResult, error)
	Apply(ctx context.Context, parentID int, p *plan.Plan) ([]workitems.WorkItem, error)
}

// PlanHandler handles plan generation HTTP requests.
type PlanHandler struct {
	planService PlanService
}

// NewPlanHandler creates a new PlanHandler backed by the provided service.
func NewPlanHandler(planService PlanService) *PlanHandler {
	return &PlanHandler{planService: planService}
}

// GeneratePlanRequest is the request body for POST /api/v1/plan/generate.
type GeneratePlanRequest struct {
	Goal     string `json:"goal"`
	ConfigID string `json:"configId,omitempty"`
	ParentID int    `json:"parentId,omitempty"`
}

// GeneratePlanResponse is the response body for a successful generation.
type GeneratePlanResponse struct {
	Plan *plan.Plan `json:"plan"`
	Raw  string     `json:"raw"`
}

// generatePlanFailure is returned when the model answered but its output
// could not be parsed into a plan. Raw lets the client show what came back.
type generatePlanFailure struct {
	Error string `json:"error"`
	Raw   string `json:"raw"`
}

// ApplyPlanRequest is the request body for POST /api/v1/plan/apply.
type ApplyPlanRequest struct {
	ParentID int        `json:"parentId"`
	Plan     *plan.Plan `json:"plan"`
}

// ApplyPlanResponse lists the work items created on the platform.
type ApplyPlanResponse struct {
	Created []workitems.WorkItem `json:"created"`
}

// GeneratePlan handles POST /api/v1/plan/generate.
//
// Response codes:
//   - 200 OK: plan generated and parsed
//   - 400 Bad Request: invalid body or missing goal
//   - 404 Not Found: config or parent work item not found
//   - 422 Unprocessable Entity: model output did not parse as a plan (raw included)
//   - 502 Bad Gateway: upstream LLM stream failed
func (h *PlanHandler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var req GeneratePlanRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	result, svcErr := h.planService.Generate(ctx, plan.GenerateInput{
		WorkspaceID: wsID,
		ConfigID:    req.ConfigID,
		ParentID:    req.ParentID,
		Goal:        req.Goal,
	})
	if svcErr != nil {
		// Parse failures still carry the raw model output.
		if result != nil && result.Raw != "" {
			writeJSON(w, http.StatusUnprocessableEntity, generatePlanFailure{
				Error: svcErr.Error(),
				Raw:   result.Raw,
			})
			return
		}
		writeError(w, statusForPlanError(svcErr), svcErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, GeneratePlanResponse{Plan: result.Plan, Raw: result.Raw})
}

// ApplyPlan handles POST /api/v1/plan/apply.
//
// Response codes:
//   - 201 Created: all items created
//   - 400 Bad Request: invalid body or invalid plan
//   - 502 Bad Gateway: work item platform rejected a create (partial result included)
func (h *PlanHandler) ApplyPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, wsErr := getWorkspaceID(ctx); wsErr != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var req ApplyPlanRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	created, svcErr := h.planService.Apply(ctx, req.ParentID, req.Plan)
	if svcErr != nil {
		if errors.Is(svcErr, plan.ErrEmptyPlan) ||
			errors.Is(svcErr, plan.ErrInvalidItemType) ||
			errors.Is(svcErr, plan.ErrUntitledItem) {
			writeError(w, http.StatusBadRequest, svcErr.Error())
			return
		}
		// Creation can fail mid-walk; report what landed.
		writeJSON(w, http.StatusBadGateway, ApplyPlanResponse{Created: created})
		return
	}

	writeJSON(w, http.StatusCreated, ApplyPlanResponse{Created: created})
}

func statusForPlanError(err error) int {
	switch {
	case errors.Is(err, settings.ErrConfigNotFound),
		errors.Is(err, settings.ErrNoDefaultConfig),
		errors.Is(err, workitems.ErrWorkItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrMissingProvider),
		errors.Is(err, llm.ErrUnknownProvider),
		errors.Is(err, llm.ErrMissingAPIURL),
		errors.Is(err, llm.ErrMissingAPIToken):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
