package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehost/fable/internal/models"
)

// InsertGroup adds a new group chat roster.
func (s *Store) InsertGroup(ctx context.Context, g *models.Group) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, user_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.ID, g.UserID, g.Name, g.Description, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	for i, agentID := range g.MemberAgentIDs {
		if err := s.AddGroupMember(ctx, g.ID, agentID, i); err != nil {
			return err
		}
	}
	return nil
}

// GetGroup retrieves a group with its member roster. Returns nil if not
// found.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM groups WHERE id = ?
	`, id).Scan(&g.ID, &g.UserID, &g.Name, &description, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	g.Description = description.String

	members, err := s.listGroupMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	g.MemberAgentIDs = members
	return &g, nil
}

// ListGroups returns all groups owned by a user, with member rosters.
func (s *Store) ListGroups(ctx context.Context, userID string) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM groups WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		var description sql.NullString
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &description, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Description = description.String
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		members, err := s.listGroupMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].MemberAgentIDs = members
	}
	return groups, nil
}

// UpdateGroup renames a group and replaces its description.
func (s *Store) UpdateGroup(ctx context.Context, id, name, description string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE groups SET name = ?, description = ?, updated_at = ? WHERE id = ?
	`, name, description, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("group not found: %s", id)
	}
	return nil
}

// AddGroupMember adds an agent to a group roster. Adding an existing member
// is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, agentID string, sortOrder int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, agent_id, sort_order)
		VALUES (?, ?, ?)
	`, groupID, agentID, sortOrder)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember drops an agent from a group roster.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = ? AND agent_id = ?
	`, groupID, agentID)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return nil
}

// DeleteGroup removes a group, its roster, and its messages.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete group members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete group messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	return tx.Commit()
}

func (s *Store) listGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id FROM group_members WHERE group_id = ? ORDER BY sort_order
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}
