package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fablehost/fable/internal/completion"
	"github.com/fablehost/fable/internal/models"
)

// UpdateSettingsRequest represents the request body for saving user settings
type UpdateSettingsRequest struct {
	Theme              string   `json:"theme,omitempty"`
	DefaultModel       string   `json:"default_model,omitempty"`
	DefaultTemperature float64  `json:"default_temperature"`
	StreamOutput       bool     `json:"stream_output"`
	APIBaseURL         string   `json:"api_base_url,omitempty"`
	APIKey             string   `json:"api_key,omitempty"`
	Preferences        string   `json:"preferences,omitempty"`
	AgentOrder         []string `json:"agent_order,omitempty"`
	GroupOrder         []string `json:"group_order,omitempty"`
}

// TestSettingsRequest represents the request body for the connectivity check.
// Empty fields fall back to the saved settings.
type TestSettingsRequest struct {
	APIBaseURL string `json:"api_base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
}

// handleGetSettings returns the requesting user's settings. A user who never
// saved any gets an empty default document.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context(), userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	if settings == nil {
		settings = &models.UserSettings{UserID: userID(r)}
	}

	successResponse(w, settings)
}

// handleUpdateSettings replaces the requesting user's settings. An omitted
// api_key keeps the stored one, so clients never need to echo the secret.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	apiKey := req.APIKey
	if apiKey == "" {
		existing, err := s.store.GetSettings(r.Context(), userID(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		if existing != nil {
			apiKey = existing.APIKey
		}
	}

	settings := &models.UserSettings{
		UserID:             userID(r),
		Theme:              req.Theme,
		DefaultModel:       req.DefaultModel,
		DefaultTemperature: req.DefaultTemperature,
		StreamOutput:       req.StreamOutput,
		APIBaseURL:         req.APIBaseURL,
		APIKey:             apiKey,
		Preferences:        req.Preferences,
		AgentOrder:         req.AgentOrder,
		GroupOrder:         req.GroupOrder,
	}
	if err := s.store.UpsertSettings(r.Context(), settings); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, settings)
}

// handleTestSettings checks that an inference endpoint answers a model
// listing, without saving anything.
func (s *Server) handleTestSettings(w http.ResponseWriter, r *http.Request) {
	var req TestSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	cfg := completion.Config{BaseURL: req.APIBaseURL, APIKey: req.APIKey}
	if cfg.BaseURL == "" {
		settings, err := s.store.GetSettings(r.Context(), userID(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		if settings == nil || settings.APIBaseURL == "" {
			errorResponse(w, http.StatusBadRequest, "no endpoint to test")
			return
		}
		cfg.BaseURL = settings.APIBaseURL
		if cfg.APIKey == "" {
			cfg.APIKey = settings.APIKey
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ids, err := s.client.ListModels(ctx, cfg)
	if err != nil {
		successResponse(w, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	successResponse(w, map[string]interface{}{
		"ok":     true,
		"models": ids,
	})
}
