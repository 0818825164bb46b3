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

// CreateWorldBookRequest represents the request body for creating a worldbook
type CreateWorldBookRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	AgentID     *string `json:"agent_id,omitempty"`
	IsEnabled   bool    `json:"is_enabled"`
	IsPublic    bool    `json:"is_public"`
	ScanDepth   int     `json:"scan_depth,omitempty"`
	TokenBudget int     `json:"token_budget,omitempty"`
}

// UpdateWorldBookRequest represents the request body for updating a
// worldbook; absent fields are left unchanged. agent_id uses a sentinel
// object so that null explicitly clears the scope.
type UpdateWorldBookRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	AgentID     *json.RawMessage `json:"agent_id,omitempty"`
	IsEnabled   *bool            `json:"is_enabled,omitempty"`
	IsPublic    *bool            `json:"is_public,omitempty"`
	ScanDepth   *int             `json:"scan_depth,omitempty"`
	TokenBudget *int             `json:"token_budget,omitempty"`
}

// CreateEntryRequest represents the request body for creating a lore entry
type CreateEntryRequest struct {
	Name          string   `json:"name,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Content       string   `json:"content"`
	IsEnabled     bool     `json:"is_enabled"`
	IsConstant    bool     `json:"is_constant"`
	Priority      int      `json:"priority"`
	SortOrder     int      `json:"sort_order"`
	Position      string   `json:"position,omitempty"`
	Depth         int      `json:"depth,omitempty"`
	Selective     bool     `json:"selective"`
	SecondaryKeys string   `json:"secondary_keys,omitempty"`
}

// UpdateEntryRequest represents the request body for updating a lore entry
type UpdateEntryRequest struct {
	Name          *string   `json:"name,omitempty"`
	Keywords      *[]string `json:"keywords,omitempty"`
	Content       *string   `json:"content,omitempty"`
	IsEnabled     *bool     `json:"is_enabled,omitempty"`
	IsConstant    *bool     `json:"is_constant,omitempty"`
	Priority      *int      `json:"priority,omitempty"`
	SortOrder     *int      `json:"sort_order,omitempty"`
	Position      *string   `json:"position,omitempty"`
	Depth         *int      `json:"depth,omitempty"`
	Selective     *bool     `json:"selective,omitempty"`
	SecondaryKeys *string   `json:"secondary_keys,omitempty"`
}

// handleCreateWorldBook creates a worldbook, globally scoped or tied to one
// agent.
func (s *Server) handleCreateWorldBook(w http.ResponseWriter, r *http.Request) {
	var req CreateWorldBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	if req.AgentID != nil {
		if _, err := s.authorizedAgent(r, *req.AgentID, false); err != nil {
			writeErr(w, err)
			return
		}
	}

	wb := &models.WorldBook{
		UserID:      userID(r),
		Name:        req.Name,
		Description: req.Description,
		AgentID:     req.AgentID,
		IsEnabled:   req.IsEnabled,
		IsPublic:    req.IsPublic,
		ScanDepth:   req.ScanDepth,
		TokenBudget: req.TokenBudget,
	}
	if err := s.store.InsertWorldBook(r.Context(), wb); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, wb)
}

// handleListWorldBooks lists the requesting user's worldbooks.
func (s *Server) handleListWorldBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.store.ListWorldBooks(r.Context(), userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"worldbooks": books,
		"count":      len(books),
	})
}

// handleGetWorldBook returns one worldbook with its entries.
func (s *Server) handleGetWorldBook(w http.ResponseWriter, r *http.Request) {
	wb, err := s.authorizedWorldBook(r, chi.URLParam(r, "id"), true)
	if err != nil {
		writeErr(w, err)
		return
	}

	entries, err := s.store.ListEntries(r.Context(), wb.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	wb.Entries = entries

	successResponse(w, wb)
}

// handleUpdateWorldBook applies a partial update to a worldbook.
func (s *Server) handleUpdateWorldBook(w http.ResponseWriter, r *http.Request) {
	wb, err := s.authorizedWorldBook(r, chi.URLParam(r, "id"), false)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req UpdateWorldBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	update := db.WorldBookUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsEnabled:   req.IsEnabled,
		IsPublic:    req.IsPublic,
		ScanDepth:   req.ScanDepth,
		TokenBudget: req.TokenBudget,
	}
	if req.AgentID != nil {
		update.SetAgentID = true
		var agentID *string
		if err := json.Unmarshal(*req.AgentID, &agentID); err != nil {
			errorResponse(w, http.StatusBadRequest, "invalid agent_id")
			return
		}
		if agentID != nil {
			if _, err := s.authorizedAgent(r, *agentID, false); err != nil {
				writeErr(w, err)
				return
			}
		}
		update.AgentID = agentID
	}

	if err := s.store.UpdateWorldBook(r.Context(), wb.ID, update); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleDeleteWorldBook removes a worldbook and its entries.
func (s *Server) handleDeleteWorldBook(w http.ResponseWriter, r *http.Request) {
	wb, err := s.authorizedWorldBook(r, chi.URLParam(r, "id"), false)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.DeleteWorldBook(r.Context(), wb.ID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleCreateEntry adds a lore entry to a worldbook.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	wb, err := s.authorizedWorldBook(r, chi.URLParam(r, "id"), false)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	entry := &models.WorldBookEntry{
		WorldBookID:   wb.ID,
		Name:          req.Name,
		Content:       req.Content,
		IsEnabled:     req.IsEnabled,
		IsConstant:    req.IsConstant,
		Priority:      req.Priority,
		SortOrder:     req.SortOrder,
		Position:      req.Position,
		Depth:         req.Depth,
		Selective:     req.Selective,
		SecondaryKeys: req.SecondaryKeys,
	}
	entry.SetKeywords(req.Keywords)

	if err := s.store.InsertEntry(r.Context(), entry); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, entry)
}

// handleListEntries lists a worldbook's entries.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	wb, err := s.authorizedWorldBook(r, chi.URLParam(r, "id"), true)
	if err != nil {
		writeErr(w, err)
		return
	}

	entries, err := s.store.ListEntries(r.Context(), wb.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleUpdateEntry applies a partial update to a lore entry.
func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.authorizedEntry(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	err = s.store.UpdateEntry(r.Context(), entry.ID, db.EntryUpdate{
		Name:          req.Name,
		Keywords:      req.Keywords,
		Content:       req.Content,
		IsEnabled:     req.IsEnabled,
		IsConstant:    req.IsConstant,
		Priority:      req.Priority,
		SortOrder:     req.SortOrder,
		Position:      req.Position,
		Depth:         req.Depth,
		Selective:     req.Selective,
		SecondaryKeys: req.SecondaryKeys,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleDeleteEntry removes a lore entry.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.authorizedEntry(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.DeleteEntry(r.Context(), entry.ID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// authorizedWorldBook loads a worldbook and checks access. Reads may touch
// public books; mutations require ownership.
func (s *Server) authorizedWorldBook(r *http.Request, id string, allowPublic bool) (*models.WorldBook, error) {
	wb, err := s.store.GetWorldBook(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if wb == nil {
		return nil, fmt.Errorf("worldbook %s: %w", id, pipeline.ErrNotFound)
	}
	if wb.UserID != userID(r) && !(allowPublic && wb.IsPublic) {
		return nil, fmt.Errorf("worldbook %s: %w", id, pipeline.ErrForbidden)
	}
	return wb, nil
}

// authorizedEntry loads a lore entry and checks ownership through its
// worldbook.
func (s *Server) authorizedEntry(r *http.Request, id string) (*models.WorldBookEntry, error) {
	entry, err := s.store.GetEntry(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("entry %s: %w", id, pipeline.ErrNotFound)
	}
	if _, err := s.authorizedWorldBook(r, entry.WorldBookID, false); err != nil {
		return nil, err
	}
	return entry, nil
}
