package models

import (
	"encoding/json"
	"time"
)

// Topic is one conversation thread belonging to an agent. Messages within a
// topic form an append-only sequence ordered by creation time.
type Topic struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is a single turn in a topic. Messages are immutable once
// created except for explicit edits (which set IsEdited) and soft deletion.
// Soft-deleted messages stay in storage but are excluded from history.
type ChatMessage struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id,omitempty"`
	TopicID string `json:"topic_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	UserID  string `json:"user_id"`

	Role    string `json:"role"`
	Content string `json:"content"`

	// RespondingAgentID records which group member produced a reply in a
	// group chat; empty for direct agent topics.
	RespondingAgentID string `json:"responding_agent_id,omitempty"`

	Attachments []string `json:"attachments,omitempty"`
	TokenCount  int      `json:"token_count,omitempty"`
	IsEdited    bool     `json:"is_edited"`
	IsDeleted   bool     `json:"is_deleted"`

	// Branching: parent reference by id, never by pointer.
	ParentMessageID string `json:"parent_message_id,omitempty"`
	BranchName      string `json:"branch_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EncodeAttachments serializes an attachment list for storage.
func EncodeAttachments(attachments []string) string {
	if len(attachments) == 0 {
		return ""
	}
	data, _ := json.Marshal(attachments)
	return string(data)
}

// DecodeAttachments parses a stored attachment list, tolerating empty and
// corrupt columns.
func DecodeAttachments(raw string) []string {
	if raw == "" {
		return nil
	}
	var attachments []string
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil
	}
	return attachments
}
