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

// CreateAgentRequest represents the request body for creating an agent
type CreateAgentRequest struct {
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	AvatarURL       string             `json:"avatar_url,omitempty"`
	PromptMain      string             `json:"prompt_main,omitempty"`
	PromptJailbreak string             `json:"prompt_jailbreak,omitempty"`
	PromptAssistant string             `json:"prompt_assistant,omitempty"`
	Model           string             `json:"model,omitempty"`
	Temperature     float64            `json:"temperature"`
	MaxOutputTokens int                `json:"max_output_tokens"`
	TopP            float64            `json:"top_p"`
	TopK            int                `json:"top_k"`
	StreamOutput    bool               `json:"stream_output"`
	StyleSettings   string             `json:"style_settings,omitempty"`
	RegexRules      []models.RegexRule `json:"regex_rules,omitempty"`
	IsPublic        bool               `json:"is_public"`
	SortOrder       int                `json:"sort_order"`
}

// UpdateAgentRequest represents the request body for updating an agent;
// absent fields are left unchanged.
type UpdateAgentRequest struct {
	Name            *string             `json:"name,omitempty"`
	Description     *string             `json:"description,omitempty"`
	AvatarURL       *string             `json:"avatar_url,omitempty"`
	PromptMain      *string             `json:"prompt_main,omitempty"`
	PromptJailbreak *string             `json:"prompt_jailbreak,omitempty"`
	PromptAssistant *string             `json:"prompt_assistant,omitempty"`
	Model           *string             `json:"model,omitempty"`
	Temperature     *float64            `json:"temperature,omitempty"`
	MaxOutputTokens *int                `json:"max_output_tokens,omitempty"`
	TopP            *float64            `json:"top_p,omitempty"`
	TopK            *int                `json:"top_k,omitempty"`
	StreamOutput    *bool               `json:"stream_output,omitempty"`
	StyleSettings   *string             `json:"style_settings,omitempty"`
	RegexRules      *[]models.RegexRule `json:"regex_rules,omitempty"`
	IsPublic        *bool               `json:"is_public,omitempty"`
	SortOrder       *int                `json:"sort_order,omitempty"`
}

// CreateTopicRequest represents the request body for creating a topic
type CreateTopicRequest struct {
	Name      string `json:"name,omitempty"`
	SortOrder int    `json:"sort_order,omitempty"`
}

// handleCreateAgent creates a new agent for the requesting user.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	agent := &models.Agent{
		UserID:          userID(r),
		Name:            req.Name,
		Description:     req.Description,
		AvatarURL:       req.AvatarURL,
		PromptMain:      req.PromptMain,
		PromptJailbreak: req.PromptJailbreak,
		PromptAssistant: req.PromptAssistant,
		Model:           req.Model,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		TopP:            req.TopP,
		TopK:            req.TopK,
		StreamOutput:    req.StreamOutput,
		StyleSettings:   req.StyleSettings,
		RegexRules:      req.RegexRules,
		IsPublic:        req.IsPublic,
		SortOrder:       req.SortOrder,
	}
	if err := s.store.InsertAgent(r.Context(), agent); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, agent)
}

// handleListAgents lists the requesting user's agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context(), userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

// handleGetAgent returns one agent.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authorizedAgent(r, chi.URLParam(r, "id"), true)
	if err != nil {
		writeErr(w, err)
		return
	}
	successResponse(w, agent)
}

// handleUpdateAgent applies a partial update to an agent.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authorizedAgent(r, chi.URLParam(r, "id"), false)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	err = s.store.UpdateAgent(r.Context(), agent.ID, db.AgentUpdate{
		Name:            req.Name,
		Description:     req.Description,
		AvatarURL:       req.AvatarURL,
		PromptMain:      req.PromptMain,
		PromptJailbreak: req.PromptJailbreak,
		PromptAssistant: req.PromptAssistant,
		Model:           req.Model,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		TopP:            req.TopP,
		TopK:            req.TopK,
		StreamOutput:    req.StreamOutput,
		StyleSettings:   req.StyleSettings,
		RegexRules:      req.RegexRules,
		IsPublic:        req.IsPublic,
		SortOrder:       req.SortOrder,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleDeleteAgent removes an agent and everything scoped to it.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authorizedAgent(r, chi.URLParam(r, "id"), false)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.DeleteAgent(r.Context(), agent.ID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleCreateTopic creates a conversation topic under an agent.
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authorizedAgent(r, chi.URLParam(r, "id"), true)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	topic := &models.Topic{
		AgentID:   agent.ID,
		Name:      req.Name,
		SortOrder: req.SortOrder,
	}
	if err := s.store.InsertTopic(r.Context(), topic); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, topic)
}

// handleListTopics lists an agent's topics.
func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authorizedAgent(r, chi.URLParam(r, "id"), true)
	if err != nil {
		writeErr(w, err)
		return
	}

	topics, err := s.store.ListTopics(r.Context(), agent.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"topics": topics,
		"count":  len(topics),
	})
}

// handleRenameTopic changes a topic's name.
func (s *Server) handleRenameTopic(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")

	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	if _, _, err := s.resolveTopic(r, topicID); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.RenameTopic(r.Context(), topicID, req.Name); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleDeleteTopic removes a topic and its messages.
func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")

	if _, _, err := s.resolveTopic(r, topicID); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.DeleteTopic(r.Context(), topicID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// authorizedAgent loads an agent and checks access. Reads may touch public
// agents; mutations require ownership.
func (s *Server) authorizedAgent(r *http.Request, id string, allowPublic bool) (*models.Agent, error) {
	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s: %w", id, pipeline.ErrNotFound)
	}
	if agent.UserID != userID(r) && !(allowPublic && agent.IsPublic) {
		return nil, fmt.Errorf("agent %s: %w", id, pipeline.ErrForbidden)
	}
	return agent, nil
}
