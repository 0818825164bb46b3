package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehost/fable/internal/models"
)

// InsertTopic adds a new conversation thread under an agent.
func (s *Store) InsertTopic(ctx context.Context, t *models.Topic) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Name == "" {
		t.Name = "New Topic"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topics (id, agent_id, name, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.AgentID, t.Name, t.SortOrder, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert topic: %w", err)
	}
	return nil
}

// GetTopic retrieves a topic by ID. Returns nil if not found.
func (s *Store) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, name, sort_order, created_at, updated_at
		FROM topics WHERE id = ?
	`, id).Scan(&t.ID, &t.AgentID, &t.Name, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return &t, nil
}

// ListTopics returns all topics under an agent, ordered for display.
func (s *Store) ListTopics(ctx context.Context, agentID string) ([]models.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, name, sort_order, created_at, updated_at
		FROM topics WHERE agent_id = ?
		ORDER BY sort_order, created_at
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Name, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// RenameTopic updates a topic's display name.
func (s *Store) RenameTopic(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE topics SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to rename topic: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("topic not found: %s", id)
	}
	return nil
}

// DeleteTopic removes a topic and all its messages.
func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE topic_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete topic messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}

	return tx.Commit()
}
