package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fablehost/fable/internal/models"
)

// InsertNote adds a note or folder. A non-nil parent must exist, belong to
// the same user, and be a folder.
func (s *Store) InsertNote(ctx context.Context, n *models.Note) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	if n.ParentID != nil {
		parent, err := s.GetNote(ctx, *n.ParentID)
		if err != nil {
			return err
		}
		if parent == nil || parent.UserID != n.UserID {
			return fmt.Errorf("parent note not found: %s", *n.ParentID)
		}
		if !parent.IsFolder {
			return fmt.Errorf("parent note is not a folder: %s", *n.ParentID)
		}
	}

	var parentID interface{}
	if n.ParentID != nil {
		parentID = *n.ParentID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, parent_id, is_folder, title, content, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, parentID, n.IsFolder, n.Title, n.Content, n.SortOrder, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by ID. Returns nil if not found.
func (s *Store) GetNote(ctx context.Context, id string) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, parent_id, is_folder, title, content, sort_order, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

// ListNotes returns every note owned by a user; the client reconstructs the
// tree from parent references.
func (s *Store) ListNotes(ctx context.Context, userID string) ([]models.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, parent_id, is_folder, title, content, sort_order, created_at, updated_at
		FROM notes WHERE user_id = ?
		ORDER BY sort_order, created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// UpdateNote changes a note's title and content.
func (s *Store) UpdateNote(ctx context.Context, id, title, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title = ?, content = ?, updated_at = ? WHERE id = ?
	`, title, content, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("note not found: %s", id)
	}
	return nil
}

// MoveNote reparents a note. A nil parent moves it to the root. The walk to
// root from the new parent must not pass through the note itself; otherwise
// the move would create a cycle and is rejected.
func (s *Store) MoveNote(ctx context.Context, id string, newParentID *string) error {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("note not found: %s", id)
	}

	if newParentID != nil {
		if *newParentID == id {
			return fmt.Errorf("cannot move note into itself")
		}
		parent, err := s.GetNote(ctx, *newParentID)
		if err != nil {
			return err
		}
		if parent == nil || parent.UserID != n.UserID {
			return fmt.Errorf("parent note not found: %s", *newParentID)
		}
		if !parent.IsFolder {
			return fmt.Errorf("parent note is not a folder: %s", *newParentID)
		}

		// Walk from the new parent up to the root; finding the moved
		// note on that path means the move would create a cycle.
		for cur := parent; cur.ParentID != nil; {
			if *cur.ParentID == id {
				return fmt.Errorf("cannot move note into its own descendant")
			}
			next, err := s.GetNote(ctx, *cur.ParentID)
			if err != nil {
				return err
			}
			if next == nil {
				break
			}
			cur = next
		}
	}

	var parentID interface{}
	if newParentID != nil {
		parentID = *newParentID
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE notes SET parent_id = ?, updated_at = ? WHERE id = ?
	`, parentID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to move note: %w", err)
	}
	return nil
}

// DeleteNote removes a note and, for folders, every descendant. Descendant
// ids are collected first, then deleted in one batch.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	ids, err := s.collectNoteTree(ctx, id)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("note not found: %s", id)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, noteID := range ids {
		args[i] = noteID
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM notes WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	return nil
}

// collectNoteTree gathers a note's id plus all descendant ids,
// breadth-first.
func (s *Store) collectNoteTree(ctx context.Context, rootID string) ([]string, error) {
	root, err := s.GetNote(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	ids := []string{rootID}
	frontier := []string{rootID}
	for len(frontier) > 0 {
		var next []string
		for _, parentID := range frontier {
			rows, err := s.db.QueryContext(ctx, `SELECT id FROM notes WHERE parent_id = ?`, parentID)
			if err != nil {
				return nil, fmt.Errorf("failed to collect note children: %w", err)
			}
			for rows.Next() {
				var childID string
				if err := rows.Scan(&childID); err != nil {
					rows.Close()
					return nil, err
				}
				next = append(next, childID)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return nil, err
			}
			rows.Close()
		}
		ids = append(ids, next...)
		frontier = next
	}
	return ids, nil
}

func scanNote(row rowScanner) (*models.Note, error) {
	var n models.Note
	var parentID, content sql.NullString

	err := row.Scan(&n.ID, &n.UserID, &parentID, &n.IsFolder, &n.Title, &content,
		&n.SortOrder, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		n.ParentID = &parentID.String
	}
	n.Content = content.String
	return &n, nil
}
