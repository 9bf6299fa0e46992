// Handler helper functions and shared response plumbing.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/planpilot/planpilot/internal/api/ctxkeys"
)

const (
	headerContentType = "Content-Type"
	mimeJSON          = "application/json"

	errMissingWorkspaceID = "workspace context missing"
	errInvalidBody        = "invalid request body"
	errFailedToEncode     = "failed to encode response"
)

// getWorkspaceID retrieves workspace_id from context.
// Uses ctxkeys.WorkspaceID — same type+value as AuthMiddleware injection.
func getWorkspaceID(ctx context.Context) (string, error) {
	wsID, ok := ctx.Value(ctxkeys.WorkspaceID).(string)
	if !ok || wsID == "" {
		return "", fmt.Errorf("workspace_id not found in context")
	}
	return wsID, nil
}

// getUserID retrieves user_id from context.
func getUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(ctxkeys.UserID).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user_id not found in context")
	}
	return userID, nil
}

// parseLimitParam extracts a positive limit from the query string, returning
// fallback when absent or unusable. Services clamp their own maximums.
func parseLimitParam(r *http.Request, fallback int) int {
	if lim, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && lim > 0 {
		return lim
	}
	return fallback
}

// writeError responds with a JSON error body and the given status code.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		http.Error(w, `{"error":"failed to encode error response"}`, http.StatusInternalServerError)
	}
}

// writeJSON responds with the given status code and JSON body.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"error":"`+errFailedToEncode+`"}`, http.StatusInternalServerError)
	}
}
