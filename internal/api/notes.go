package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fablehost/fable/internal/models"
	"github.com/fablehost/fable/internal/pipeline"
)

// CreateNoteRequest represents the request body for creating a note or folder
type CreateNoteRequest struct {
	ParentID  *string `json:"parent_id,omitempty"`
	IsFolder  bool    `json:"is_folder"`
	Title     string  `json:"title"`
	Content   string  `json:"content,omitempty"`
	SortOrder int     `json:"sort_order,omitempty"`
}

// UpdateNoteRequest represents the request body for editing a note
type UpdateNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// MoveNoteRequest represents the request body for reparenting a note.
// A null parent_id moves the note to the root.
type MoveNoteRequest struct {
	ParentID *string `json:"parent_id"`
}

// handleCreateNote creates a note or folder, optionally inside a folder.
func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		errorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	note := &models.Note{
		UserID:    userID(r),
		ParentID:  req.ParentID,
		IsFolder:  req.IsFolder,
		Title:     req.Title,
		Content:   req.Content,
		SortOrder: req.SortOrder,
	}
	if err := s.store.InsertNote(r.Context(), note); err != nil {
		writeNoteErr(w, err)
		return
	}

	successResponse(w, note)
}

// handleListNotes returns the user's full note tree as a flat list.
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.ListNotes(r.Context(), userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"notes": notes,
		"count": len(notes),
	})
}

// handleGetNote returns one note.
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.authorizedNote(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	successResponse(w, note)
}

// handleUpdateNote edits a note's title and content.
func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.authorizedNote(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		errorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.store.UpdateNote(r.Context(), note.ID, req.Title, req.Content); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleMoveNote reparents a note. Moves that would create a cycle are
// rejected.
func (s *Server) handleMoveNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.authorizedNote(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req MoveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := s.store.MoveNote(r.Context(), note.ID, req.ParentID); err != nil {
		writeNoteErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleDeleteNote removes a note; folders cascade through descendants.
func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.authorizedNote(r, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.DeleteNote(r.Context(), note.ID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// writeNoteErr maps the note store's structural validation failures (missing
// parent, non-folder parent, cycle) to 400 rather than 500.
func writeNoteErr(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "cannot move note"),
		strings.Contains(msg, "parent note"):
		errorResponse(w, http.StatusBadRequest, msg)
	default:
		writeErr(w, err)
	}
}

// authorizedNote loads a note and checks ownership.
func (s *Server) authorizedNote(r *http.Request, id string) (*models.Note, error) {
	note, err := s.store.GetNote(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, fmt.Errorf("note %s: %w", id, pipeline.ErrNotFound)
	}
	if note.UserID != userID(r) {
		return nil, fmt.Errorf("note %s: %w", id, pipeline.ErrForbidden)
	}
	return note, nil
}
