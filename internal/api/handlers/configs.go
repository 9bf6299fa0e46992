// HTTP handlers for LLM config CRUD endpoints.
// API tokens come in on create/update and only ever leave masked.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/infra/llm"
)

// ConfigHandler handles HTTP requests for LLM config operations.
type ConfigHandler struct {
	configService *settings.Service
}

// NewConfigHandler creates a new ConfigHandler instance.
func NewConfigHandler(configService *settings.Service) *ConfigHandler {
	return &ConfigHandler{configService: configService}
}

// CreateConfigRequest is the request body for creating an LLM config.
type CreateConfigRequest struct {
	Name                 string  `json:"name"`
	Provider             string  `json:"provider"`
	APIURL               string  `json:"apiUrl"`
	APIToken             string  `json:"apiToken"`
	Temperature          float64 `json:"temperature,omitempty"`
	MaxTokens            int     `json:"maxTokens,omitempty"`
	CostPerMillionTokens float64 `json:"costPerMillionTokens,omitempty"`
	IsDefault            bool    `json:"isDefault,omitempty"`
}

// UpdateConfigRequest is the request body for updating an LLM config.
// Omitted fields keep their stored values.
type UpdateConfigRequest struct {
	Name                 *string  `json:"name,omitempty"`
	APIURL               *string  `json:"apiUrl,omitempty"`
	APIToken             *string  `json:"apiToken,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	MaxTokens            *int     `json:"maxTokens,omitempty"`
	CostPerMillionTokens *float64 `json:"costPerMillionTokens,omitempty"`
}

// ConfigResponse is the response body for config operations.
// APIToken is always masked.
type ConfigResponse struct {
	ID                   string  `json:"id"`
	WorkspaceID          string  `json:"workspaceId"`
	Name                 string  `json:"name"`
	Provider             string  `json:"provider"`
	APIURL               string  `json:"apiUrl"`
	APIToken             string  `json:"apiToken"`
	Temperature          float64 `json:"temperature"`
	MaxTokens            int     `json:"maxTokens"`
	CostPerMillionTokens float64 `json:"costPerMillionTokens"`
	IsDefault            bool    `json:"isDefault"`
	CreatedAt            string  `json:"createdAt"`
	UpdatedAt            string  `json:"updatedAt"`
}

// ListConfigsResponse is the response body for listing configs.
type ListConfigsResponse struct {
	Data []ConfigResponse `json:"data"`
}

// CreateConfig handles POST /api/v1/configs
func (h *ConfigHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	var req CreateConfigRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	cfg, svcErr := h.configService.Create(ctx, settings.CreateConfigInput{
		WorkspaceID:          wsID,
		Name:                 req.Name,
		Provider:             llm.Provider(req.Provider),
		APIURL:               req.APIURL,
		APIToken:             req.APIToken,
		Temperature:          req.Temperature,
		MaxTokens:            req.MaxTokens,
		CostPerMillionTokens: req.CostPerMillionTokens,
		IsDefault:            req.IsDefault,
	})
	if svcErr != nil {
		writeError(w, statusForConfigError(svcErr), svcErr.Error())
		return
	}

	writeJSON(w, http.StatusCreated, configToResponse(cfg))
}

// ListConfigs handles GET /api/v1/configs
func (h *ConfigHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	configs, svcErr := h.configService.List(ctx, wsID)
	if svcErr != nil {
		writeError(w, http.StatusInternalServerError, "failed to list configs")
		return
	}

	resp := ListConfigsResponse{Data: make([]ConfigResponse, 0, len(configs))}
	for _, cfg := range configs {
		resp.Data = append(resp.Data, configToResponse(cfg))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetConfig handles GET /api/v1/configs/{id}
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	cfg, svcErr := h.configService.Get(ctx, wsID, chi.URLParam(r, "id"))
	if svcErr != nil {
		writeError(w, statusForConfigError(svcErr), svcErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, configToResponse(cfg))
}

// UpdateConfig handles PUT /api/v1/configs/{id}
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	var req UpdateConfigRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	cfg, svcErr := h.configService.Update(ctx, settings.UpdateConfigInput{
		WorkspaceID:          wsID,
		ID:                   chi.URLParam(r, "id"),
		Name:                 req.Name,
		APIURL:               req.APIURL,
		APIToken:             req.APIToken,
		Temperature:          req.Temperature,
		MaxTokens:            req.MaxTokens,
		CostPerMillionTokens: req.CostPerMillionTokens,
	})
	if svcErr != nil {
		writeError(w, statusForConfigError(svcErr), svcErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, configToResponse(cfg))
}

// SetDefaultConfig handles PUT /api/v1/configs/{id}/default
func (h *ConfigHandler) SetDefaultConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	if svcErr := h.configService.SetDefault(ctx, wsID, chi.URLParam(r, "id")); svcErr != nil {
		writeError(w, statusForConfigError(svcErr), svcErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteConfig handles DELETE /api/v1/configs/{id}
func (h *ConfigHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, wsErr := getWorkspaceID(ctx)
	if wsErr != nil {
		writeError(w, http.StatusBadRequest, errMissingWorkspaceID)
		return
	}

	if svcErr := h.configService.Delete(ctx, wsID, chi.URLParam(r, "id")); svcErr != nil {
		writeError(w, statusForConfigError(svcErr), svcErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func configToResponse(cfg *settings.Config) ConfigResponse {
	return ConfigResponse{
		ID:                   cfg.ID,
		WorkspaceID:          cfg.WorkspaceID,
		Name:                 cfg.Name,
		Provider:             string(cfg.Provider),
		APIURL:               cfg.APIURL,
		APIToken:             settings.MaskToken(cfg.APIToken),
		Temperature:          cfg.Temperature,
		MaxTokens:            cfg.MaxTokens,
		CostPerMillionTokens: cfg.CostPerMillionTokens,
		IsDefault:            cfg.IsDefault,
		CreatedAt:            cfg.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            cfg.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// statusForConfigError maps settings and llm validation errors to HTTP codes.
func statusForConfigError(err error) int {
	switch {
	case errors.Is(err, settings.ErrConfigNotFound), errors.Is(err, settings.ErrNoDefaultConfig):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrMissingProvider),
		errors.Is(err, llm.ErrUnknownProvider),
		errors.Is(err, llm.ErrMissingAPIURL),
		errors.Is(err, llm.ErrMissingAPIToken),
		errors.Is(err, settings.ErrNameRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
