package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablehost/fable/internal/models"
	"github.com/fablehost/fable/internal/pipeline"
)

// CreateGroupRequest represents the request body for creating a group
type CreateGroupRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	MemberAgentIDs []string `json:"member_agent_ids,omitempty"`
}

// handleCreateGroup creates a multi-agent group with an optional initial
// roster.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	for _, agentID := range req.MemberAgentIDs {
		if _, err := s.authorizedAgent(r, agentID, true); err != nil {
			writeErr(w, err)
			return
		}
	}

	group := &models.Group{
		UserID:         userID(r),
		Name:           req.Name,
		Description:    req.Description,
		MemberAgentIDs: req.MemberAgentIDs,
	}
	if err := s.store.InsertGroup(r.Context(), group); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, group)
}

// handleListGroups lists the requesting user's groups.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context(), userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleGetGroup returns one group with its roster.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.authorizedGroup(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	successResponse(w, group)
}

// UpdateGroupRequest represents the request body for updating a group
type UpdateGroupRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// handleUpdateGroup renames a group or replaces its description. Omitted
// fields keep their stored values.
func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.authorizedGroup(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req UpdateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			errorResponse(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		group.Name = *req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}

	if err := s.store.UpdateGroup(r.Context(), group.ID, group.Name, group.Description); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, group)
}

// handleDeleteGroup removes a group, its membership rows, and its messages.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.authorizedGroup(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.DeleteGroup(r.Context(), group.ID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleAddGroupMember adds an agent to a group's roster. Adding an existing
// member succeeds without duplicating it.
func (s *Server) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	group, err := s.authorizedGroup(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	agent, err := s.authorizedAgent(r, chi.URLParam(r, "agentID"), true)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.AddGroupMember(r.Context(), group.ID, agent.ID, len(group.MemberAgentIDs)); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleRemoveGroupMember removes an agent from a group's roster.
func (s *Server) handleRemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	group, err := s.authorizedGroup(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.RemoveGroupMember(r.Context(), group.ID, chi.URLParam(r, "agentID")); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// authorizedGroup loads a group and checks ownership.
func (s *Server) authorizedGroup(r *http.Request, id string) (*models.Group, error) {
	group, err := s.store.GetGroup(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("group %s: %w", id, pipeline.ErrNotFound)
	}
	if group.UserID != userID(r) {
		return nil, fmt.Errorf("group %s: %w", id, pipeline.ErrForbidden)
	}
	return group, nil
}
