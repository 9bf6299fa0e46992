package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/planpilot/planpilot/internal/domain/plan"
	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/infra/workitems"
)

type planServiceStub struct {
	generateResult *plan.GenerateResult
	generateErr    error
	applyResult    []workitems.WorkItem
	applyErr       error
	gotGenerate    plan.GenerateInput
	gotParentID    int
}

func (s *planServiceStub) Generate(_ context.Context, in plan.GenerateInput) (*plan.GenerateResult, error) {
	s.gotGenerate = in
	return s.generateResult, s.generateErr
}

func (s *planServiceStub) Apply(_ context.Context, parentID int, _ *plan.Plan) ([]workitems.WorkItem, error) {
	s.gotParentID = parentID
	return s.applyResult, s.applyErr
}

func planRequestWithActor(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(contextWithActor(req.Context(), "ws-1", "u-1"))
}

func TestPlanHandler_GeneratePlan(t *testing.T) {
	stub := &planServiceStub{generateResult: &plan.GenerateResult{
		Plan: &plan.Plan{Items: []plan.Item{{Type: "Feature", Title: "Refunds"}}},
		Raw:  `{"items":[{"type":"Feature","title":"Refunds"}]}`,
	}}
	h := NewPlanHandler(stub)

	rr := httptest.NewRecorder()
	h.GeneratePlan(rr, planRequestWithActor("/api/v1/plan/generate",
		`{"goal":"support refunds","configId":"cfg-1","parentId":42}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp GeneratePlanResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Plan == nil || len(resp.Plan.Items) != 1 || resp.Plan.Items[0].Title != "Refunds" {
		t.Errorf("unexpected plan: %+v", resp.Plan)
	}
	if stub.gotGenerate.WorkspaceID != "ws-1" || stub.gotGenerate.ParentID != 42 {
		t.Errorf("unexpected input: %+v", stub.gotGenerate)
	}
}

func TestPlanHandler_GeneratePlan_ParseFailureKeepsRaw(t *testing.T) {
	stub := &planServiceStub{
		generateResult: &plan.GenerateResult{Raw: "I cannot plan that."},
		generateErr:    plan.ErrNoPlanInOutput,
	}
	h := NewPlanHandler(stub)

	rr := httptest.NewRecorder()
	h.GeneratePlan(rr, planRequestWithActor("/api/v1/plan/generate", `{"goal":"?"}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp generatePlanFailure
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Raw != "I cannot plan that." {
		t.Errorf("Raw = %q", resp.Raw)
	}
	if resp.Error == "" {
		t.Error("expected error message")
	}
}

func TestPlanHandler_GeneratePlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config not found", settings.ErrConfigNotFound, http.StatusNotFound},
		{"parent not found", workitems.ErrWorkItemNotFound, http.StatusNotFound},
		{"stream failed", errors.New("upstream hung up"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPlanHandler(&planServiceStub{generateErr: tt.err})
			rr := httptest.NewRecorder()
			h.GeneratePlan(rr, planRequestWithActor("/api/v1/plan/generate", `{"goal":"x"}`))
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestPlanHandler_GeneratePlan_Validation(t *testing.T) {
	h := NewPlanHandler(&planServiceStub{})

	t.Run("missing goal", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.GeneratePlan(rr, planRequestWithActor("/api/v1/plan/generate", `{}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("missing workspace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/plan/generate",
			bytes.NewBufferString(`{"goal":"x"}`))
		rr := httptest.NewRecorder()
		h.GeneratePlan(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})
}

func TestPlanHandler_ApplyPlan(t *testing.T) {
	created := []workitems.WorkItem{
		{ID: 101, Type: "Feature", Title: "Refunds", ParentID: 42},
		{ID: 102, Type: "Story", Title: "Refund API", ParentID: 101},
	}
	stub := &planServiceStub{applyResult: created}
	h := NewPlanHandler(stub)

	body := `{"parentId":42,"plan":{"items":[{"type":"Feature","title":"Refunds","children":[{"type":"Story","title":"Refund API"}]}]}}`
	rr := httptest.NewRecorder()
	h.ApplyPlan(rr, planRequestWithActor("/api/v1/plan/apply", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp ApplyPlanResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Created) != 2 || resp.Created[1].ID != 102 {
		t.Errorf("unexpected created items: %+v", resp.Created)
	}
	if stub.gotParentID != 42 {
		t.Errorf("parentID = %d, want 42", stub.gotParentID)
	}
}

func TestPlanHandler_ApplyPlan_InvalidPlan(t *testing.T) {
	h := NewPlanHandler(&planServiceStub{applyErr: plan.ErrEmptyPlan})

	rr := httptest.NewRecorder()
	h.ApplyPlan(rr, planRequestWithActor("/api/v1/plan/apply", `{"parentId":1,"plan":{"items":[]}}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestPlanHandler_ApplyPlan_PartialFailure(t *testing.T) {
	partial := []workitems.WorkItem{{ID: 101, Type: "Feature", Title: "Refunds"}}
	h := NewPlanHandler(&planServiceStub{applyResult: partial, applyErr: errors.New("create Story: 503")})

	body := `{"parentId":1,"plan":{"items":[{"type":"Feature","title":"Refunds"}]}}`
	rr := httptest.NewRecorder()
	h.ApplyPlan(rr, planRequestWithActor("/api/v1/plan/apply", body))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	var resp ApplyPlanResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Created) != 1 {
		t.Errorf("expected partial result, got %+v", resp.Created)
	}
}
