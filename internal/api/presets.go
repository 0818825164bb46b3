package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablehost/fable/internal/db"
	"github.com/fablehost/fable/internal/models"
	"github.com/fablehost/fable/internal/pipeline"
)

// PresetRequest represents the request body for creating or replacing a
// preset.
type PresetRequest struct {
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	PromptMain      string  `json:"prompt_main,omitempty"`
	PromptJailbreak string  `json:"prompt_jailbreak,omitempty"`
	PromptAssistant string  `json:"prompt_assistant,omitempty"`
	Model           string  `json:"model,omitempty"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
	StreamOutput    bool    `json:"stream_output"`
}

func (req *PresetRequest) toModel(userID string) *models.Preset {
	return &models.Preset{
		UserID:          userID,
		Name:            req.Name,
		Description:     req.Description,
		PromptMain:      req.PromptMain,
		PromptJailbreak: req.PromptJailbreak,
		PromptAssistant: req.PromptAssistant,
		Model:           req.Model,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		TopP:            req.TopP,
		TopK:            req.TopK,
		StreamOutput:    req.StreamOutput,
	}
}

// handleCreatePreset creates a preset.
func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var req PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	preset := req.toModel(userID(r))
	if err := s.store.InsertPreset(r.Context(), preset); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, preset)
}

// handleListPresets lists the requesting user's presets.
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.store.ListPresets(r.Context(), userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"presets": presets,
		"count":   len(presets),
	})
}

// handleGetPreset returns one preset.
func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	preset, err := s.authorizedPreset(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	successResponse(w, preset)
}

// handleUpdatePreset replaces a preset wholesale.
func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	preset, err := s.authorizedPreset(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	updated := req.toModel(userID(r))
	updated.ID = preset.ID
	updated.CreatedAt = preset.CreatedAt
	if err := s.store.UpdatePreset(r.Context(), updated); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, updated)
}

// handleDeletePreset removes a preset.
func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	preset, err := s.authorizedPreset(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.DeletePreset(r.Context(), preset.ID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleApplyPreset copies a preset's prompt modules and generation
// parameters onto an agent.
func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	preset, err := s.authorizedPreset(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	agent, err := s.authorizedAgent(r, chi.URLParam(r, "agentID"), false)
	if err != nil {
		writeErr(w, err)
		return
	}

	preset.Apply(agent)
	err = s.store.UpdateAgent(r.Context(), agent.ID, db.AgentUpdate{
		PromptMain:      &agent.PromptMain,
		PromptJailbreak: &agent.PromptJailbreak,
		PromptAssistant: &agent.PromptAssistant,
		Model:           &agent.Model,
		Temperature:     &agent.Temperature,
		MaxOutputTokens: &agent.MaxOutputTokens,
		TopP:            &agent.TopP,
		TopK:            &agent.TopK,
		StreamOutput:    &agent.StreamOutput,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, agent)
}

// authorizedPreset loads a preset and checks ownership.
func (s *Server) authorizedPreset(r *http.Request, id string) (*models.Preset, error) {
	preset, err := s.store.GetPreset(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if preset == nil {
		return nil, fmt.Errorf("preset %s: %w", id, pipeline.ErrNotFound)
	}
	if preset.UserID != userID(r) {
		return nil, fmt.Errorf("preset %s: %w", id, pipeline.ErrForbidden)
	}
	return preset, nil
}
