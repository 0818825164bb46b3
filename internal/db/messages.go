package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehost/fable/internal/models"
)

const messageColumns = `id, agent_id, topic_id, group_id, user_id, role, content,
	responding_agent_id, attachments, token_count, is_edited, is_deleted,
	parent_message_id, branch_name, created_at, updated_at`

// InsertMessage appends a message to its topic, generating ID and timestamps.
func (s *Store) InsertMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Role == "" {
		m.Role = models.RoleUser
	}

	query := `
		INSERT INTO chat_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, nullable(m.AgentID), nullable(m.TopicID), nullable(m.GroupID), m.UserID,
		m.Role, m.Content, nullable(m.RespondingAgentID),
		nullable(models.EncodeAttachments(m.Attachments)), m.TokenCount,
		m.IsEdited, m.IsDeleted, nullable(m.ParentMessageID), nullable(m.BranchName),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID. Returns nil if not found.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// ListMessages returns a topic's messages in chronological order.
// Soft-deleted messages are excluded unless includeDeleted is set.
func (s *Store) ListMessages(ctx context.Context, topicID string, includeDeleted bool) ([]models.ChatMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE topic_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// EditMessage replaces a message's content and marks it edited.
func (s *Store) EditMessage(ctx context.Context, id, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET content = ?, is_edited = TRUE, updated_at = ?
		WHERE id = ?
	`, content, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("message not found: %s", id)
	}
	return nil
}

// SoftDeleteMessage marks a message deleted. Deleting an already-deleted
// message is a no-op, not an error.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET is_deleted = TRUE, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// ClearTopicMessages soft-deletes every message in a topic.
func (s *Store) ClearTopicMessages(ctx context.Context, topicID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET is_deleted = TRUE, updated_at = ?
		WHERE topic_id = ?
	`, time.Now().UTC(), topicID)
	if err != nil {
		return fmt.Errorf("failed to clear topic messages: %w", err)
	}
	return nil
}

// CountMessages reports how many non-deleted messages a topic holds.
func (s *Store) CountMessages(ctx context.Context, topicID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_messages WHERE topic_id = ? AND is_deleted = FALSE
	`, topicID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var agentID, topicID, groupID, respondingAgentID sql.NullString
	var attachments, parentMessageID, branchName sql.NullString
	var tokenCount sql.NullInt64

	err := row.Scan(
		&m.ID, &agentID, &topicID, &groupID, &m.UserID, &m.Role, &m.Content,
		&respondingAgentID, &attachments, &tokenCount, &m.IsEdited, &m.IsDeleted,
		&parentMessageID, &branchName, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.AgentID = agentID.String
	m.TopicID = topicID.String
	m.GroupID = groupID.String
	m.RespondingAgentID = respondingAgentID.String
	m.Attachments = models.DecodeAttachments(attachments.String)
	m.TokenCount = int(tokenCount.Int64)
	m.ParentMessageID = parentMessageID.String
	m.BranchName = branchName.String

	return &m, nil
}

// nullable maps empty strings to NULL so optional columns stay NULL rather
// than holding empty-string sentinels.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
