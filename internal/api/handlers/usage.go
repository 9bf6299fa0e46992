// HTTP handlers for usage queries.
// GET /api/v1/usage — recent usage rows; GET /api/v1/usage/summary — totals.
package handlers

import (
	"net/http"

	"github.com/planpilot/planpilot/internal/domain/usage"
)

// UsageHandler handles usage query HTTP requests.
type UsageHandler struct {
	recorder *usage.Recorder
}

// NewUsageHandler creates a new UsageHandler backed by the provided recorder.
func NewUsageHandler(recorder *usage.Recorder) *UsageHandler {
	return &UsageHandler{recorder: recorder}
}

// ListUsageResponse is the response body for listing usage rows.
type ListUsageResponse struct {
	Data []usage.Record `json:"data"`
}

// ListUsage handles GET /api/v1/usage
func (h *UsageHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	records, svcErr := h.recorder.List(ctx, wsID, parseLimitParam(r, 0))
	if svcErr != nil {
		writeError(w, http.StatusInternalServerError, "failed to list usage")
		return
	}

	writeJSON(w, http.StatusOK, ListUsageResponse{Data: records})
}

// SummarizeUsage handles GET /api/v1/usage/summary
func (h *UsageHandler) SummarizeUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	summary, svcErr := h.recorder.Summarize(ctx, wsID)
	if svcErr != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize usage")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
