package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fablehost/fable/internal/models"
	"github.com/fablehost/fable/internal/pipeline"
)

// SendMessageRequest represents the request body for appending a user message
type SendMessageRequest struct {
	TopicID     string   `json:"topic_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// GenerateRequest represents the request body for a generation turn
type GenerateRequest struct {
	TopicID string `json:"topic_id"`
}

// EditMessageRequest represents the request body for editing a message
type EditMessageRequest struct {
	Content string `json:"content"`
}

// streamFrame is one SSE data payload of a streaming generation.
type streamFrame struct {
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// resolveTopic loads a topic and its agent and checks the requesting user may
// use them.
func (s *Server) resolveTopic(r *http.Request, topicID string) (*models.Topic, *models.Agent, error) {
	topic, err := s.store.GetTopic(r.Context(), topicID)
	if err != nil {
		return nil, nil, err
	}
	if topic == nil {
		return nil, nil, fmt.Errorf("topic %s: %w", topicID, pipeline.ErrNotFound)
	}

	agent, err := s.store.GetAgent(r.Context(), topic.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if agent == nil {
		return nil, nil, fmt.Errorf("agent %s: %w", topic.AgentID, pipeline.ErrNotFound)
	}
	if agent.UserID != userID(r) && !agent.IsPublic {
		return nil, nil, fmt.Errorf("agent %s: %w", agent.ID, pipeline.ErrForbidden)
	}
	return topic, agent, nil
}

// handleSend appends a user message to a topic without generating a reply.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.TopicID == "" {
		errorResponse(w, http.StatusBadRequest, "topic_id is required")
		return
	}
	if req.Content == "" {
		errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	topic, agent, err := s.resolveTopic(r, req.TopicID)
	if err != nil {
		writeErr(w, err)
		return
	}

	msg := &models.ChatMessage{
		AgentID:     agent.ID,
		TopicID:     topic.ID,
		UserID:      userID(r),
		Role:        models.RoleUser,
		Content:     req.Content,
		Attachments: req.Attachments,
	}
	if err := s.store.InsertMessage(r.Context(), msg); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, msg)
}

// handleGenerate runs a generation turn for a topic, either as a single JSON
// reply or as an SSE stream depending on the agent's stream setting.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.TopicID == "" {
		errorResponse(w, http.StatusBadRequest, "topic_id is required")
		return
	}

	s.runGeneration(w, r, req.TopicID)
}

// handleRegenerate discards the topic's latest assistant reply and generates
// a fresh one from the remaining history.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.TopicID == "" {
		errorResponse(w, http.StatusBadRequest, "topic_id is required")
		return
	}

	if _, _, err := s.resolveTopic(r, req.TopicID); err != nil {
		writeErr(w, err)
		return
	}

	history, err := s.store.ListMessages(r.Context(), req.TopicID, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			if err := s.store.SoftDeleteMessage(r.Context(), history[i].ID); err != nil {
				writeErr(w, err)
				return
			}
			break
		}
	}

	s.runGeneration(w, r, req.TopicID)
}

func (s *Server) runGeneration(w http.ResponseWriter, r *http.Request, topicID string) {
	job, err := s.generator.Prepare(r.Context(), userID(r), topicID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if !job.Streaming() {
		msg, err := job.Run(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		successResponse(w, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		job.Close()
		errorResponse(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	events, err := job.Stream(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		var frame streamFrame
		switch {
		case ev.Err != nil:
			frame = streamFrame{Error: ev.Err.Error()}
		case ev.Done:
			frame = streamFrame{Done: true, MessageID: ev.MessageID}
		default:
			frame = streamFrame{Content: ev.Content}
		}

		data, err := json.Marshal(frame)
		if err != nil {
			s.log.Error("failed to marshal stream frame", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// handleHistory returns a topic's visible messages in chronological order.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")

	if _, _, err := s.resolveTopic(r, topicID); err != nil {
		writeErr(w, err)
		return
	}

	messages, err := s.store.ListMessages(r.Context(), topicID, false)
	if err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

// handleEditMessage replaces a message's content and marks it edited.
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := s.authorizedMessage(r, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.EditMessage(r.Context(), msg.ID, req.Content); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleDeleteMessage soft-deletes a message. Deleting an already deleted
// message succeeds.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := s.authorizedMessage(r, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.SoftDeleteMessage(r.Context(), msg.ID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// handleClearTopic soft-deletes every message in a topic.
func (s *Server) handleClearTopic(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")

	if _, _, err := s.resolveTopic(r, topicID); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.ClearTopicMessages(r.Context(), topicID); err != nil {
		writeErr(w, err)
		return
	}

	successResponse(w, map[string]interface{}{"success": true})
}

// authorizedMessage loads a message and checks the requesting user owns it.
func (s *Server) authorizedMessage(r *http.Request, id string) (*models.ChatMessage, error) {
	msg, err := s.store.GetMessage(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", id, pipeline.ErrNotFound)
	}
	if msg.UserID != userID(r) {
		return nil, fmt.Errorf("message %s: %w", id, pipeline.ErrForbidden)
	}
	return msg, nil
}
