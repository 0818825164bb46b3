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

const worldbookColumns = `id, user_id, name, description, agent_id, is_enabled,
	is_public, scan_depth, token_budget, created_at, updated_at`

const entryColumns = `id, worldbook_id, name, keywords, content, is_enabled,
	is_constant, priority, sort_order, position, depth, selective,
	secondary_keys, created_at, updated_at`

// InsertWorldBook adds a new worldbook.
func (s *Store) InsertWorldBook(ctx context.Context, wb *models.WorldBook) error {
	if wb.ID == "" {
		wb.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if wb.CreatedAt.IsZero() {
		wb.CreatedAt = now
	}
	wb.UpdatedAt = now
	if wb.ScanDepth == 0 {
		wb.ScanDepth = 5
	}
	if wb.TokenBudget == 0 {
		wb.TokenBudget = 1000
	}

	var agentID interface{}
	if wb.AgentID != nil {
		agentID = *wb.AgentID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worldbooks (`+worldbookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, wb.ID, wb.UserID, wb.Name, wb.Description, agentID, wb.IsEnabled,
		wb.IsPublic, wb.ScanDepth, wb.TokenBudget, wb.CreatedAt, wb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert worldbook: %w", err)
	}
	return nil
}

// GetWorldBook retrieves a worldbook by ID. Returns nil if not found.
func (s *Store) GetWorldBook(ctx context.Context, id string) (*models.WorldBook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+worldbookColumns+` FROM worldbooks WHERE id = ?`, id)
	wb, err := scanWorldBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worldbook: %w", err)
	}
	return wb, nil
}

// ListWorldBooks returns all worldbooks owned by a user.
func (s *Store) ListWorldBooks(ctx context.Context, userID string) ([]models.WorldBook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+worldbookColumns+` FROM worldbooks
		WHERE user_id = ?
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list worldbooks: %w", err)
	}
	defer rows.Close()
	return collectWorldBooks(rows)
}

// ActiveLore returns the user's enabled worldbooks whose scope covers the
// given agent (scoped to it, or global), each populated with its enabled
// entries in sort order. Iteration order is stable: books by creation time,
// entries by sort order then creation time.
func (s *Store) ActiveLore(ctx context.Context, userID, agentID string) ([]models.WorldBook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+worldbookColumns+` FROM worldbooks
		WHERE user_id = ? AND is_enabled = TRUE
		  AND (agent_id = ? OR agent_id IS NULL)
		ORDER BY created_at
	`, userID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active worldbooks: %w", err)
	}
	defer rows.Close()

	books, err := collectWorldBooks(rows)
	if err != nil {
		return nil, err
	}

	for i := range books {
		entries, err := s.listEntries(ctx, books[i].ID, true)
		if err != nil {
			return nil, err
		}
		books[i].Entries = entries
	}
	return books, nil
}

// WorldBookUpdate holds the mutable worldbook fields; nil pointers are left
// unchanged. SetAgentID distinguishes "leave scope alone" from "clear scope".
type WorldBookUpdate struct {
	Name        *string
	Description *string
	SetAgentID  bool
	AgentID     *string
	IsEnabled   *bool
	IsPublic    *bool
	ScanDepth   *int
	TokenBudget *int
}

// UpdateWorldBook applies the provided fields to an existing worldbook.
func (s *Store) UpdateWorldBook(ctx context.Context, id string, params WorldBookUpdate) error {
	var updates []string
	var args []interface{}

	if params.Name != nil {
		updates = append(updates, "name = ?")
		args = append(args, *params.Name)
	}
	if params.Description != nil {
		updates = append(updates, "description = ?")
		args = append(args, *params.Description)
	}
	if params.SetAgentID {
		updates = append(updates, "agent_id = ?")
		if params.AgentID != nil {
			args = append(args, *params.AgentID)
		} else {
			args = append(args, nil)
		}
	}
	if params.IsEnabled != nil {
		updates = append(updates, "is_enabled = ?")
		args = append(args, *params.IsEnabled)
	}
	if params.IsPublic != nil {
		updates = append(updates, "is_public = ?")
		args = append(args, *params.IsPublic)
	}
	if params.ScanDepth != nil {
		updates = append(updates, "scan_depth = ?")
		args = append(args, *params.ScanDepth)
	}
	if params.TokenBudget != nil {
		updates = append(updates, "token_budget = ?")
		args = append(args, *params.TokenBudget)
	}

	if len(updates) == 0 {
		return fmt.Errorf("no updates provided")
	}
	updates = append(updates, "updated_at = ?")
	args = append(args, time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE worldbooks SET %s WHERE id = ?", strings.Join(updates, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update worldbook: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("worldbook not found: %s", id)
	}
	return nil
}

// DeleteWorldBook removes a worldbook and its entries.
func (s *Store) DeleteWorldBook(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM worldbook_entries WHERE worldbook_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete worldbook entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM worldbooks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete worldbook: %w", err)
	}

	return tx.Commit()
}

// InsertEntry adds a lore entry to a worldbook.
func (s *Store) InsertEntry(ctx context.Context, e *models.WorldBookEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Position == "" {
		e.Position = models.PositionBeforeChar
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worldbook_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.WorldBookID, e.Name, nullable(e.KeywordsRaw), e.Content, e.IsEnabled,
		e.IsConstant, e.Priority, e.SortOrder, e.Position, e.Depth, e.Selective,
		nullable(e.SecondaryKeys), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a lore entry by ID. Returns nil if not found.
func (s *Store) GetEntry(ctx context.Context, id string) (*models.WorldBookEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM worldbook_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns every entry of a worldbook in sort order.
func (s *Store) ListEntries(ctx context.Context, worldbookID string) ([]models.WorldBookEntry, error) {
	return s.listEntries(ctx, worldbookID, false)
}

func (s *Store) listEntries(ctx context.Context, worldbookID string, enabledOnly bool) ([]models.WorldBookEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM worldbook_entries WHERE worldbook_id = ?`
	if enabledOnly {
		query += ` AND is_enabled = TRUE`
	}
	query += ` ORDER BY sort_order, created_at`

	rows, err := s.db.QueryContext(ctx, query, worldbookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []models.WorldBookEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// EntryUpdate holds the mutable entry fields; nil pointers are left
// unchanged.
type EntryUpdate struct {
	Name          *string
	Keywords      *[]string
	Content       *string
	IsEnabled     *bool
	IsConstant    *bool
	Priority      *int
	SortOrder     *int
	Position      *string
	Depth         *int
	Selective     *bool
	SecondaryKeys *string
}

// UpdateEntry applies the provided fields to an existing entry.
func (s *Store) UpdateEntry(ctx context.Context, id string, params EntryUpdate) error {
	var updates []string
	var args []interface{}

	set := func(col string, val interface{}) {
		updates = append(updates, col+" = ?")
		args = append(args, val)
	}

	if params.Name != nil {
		set("name", *params.Name)
	}
	if params.Keywords != nil {
		set("keywords", models.EncodeKeywords(*params.Keywords))
	}
	if params.Content != nil {
		set("content", *params.Content)
	}
	if params.IsEnabled != nil {
		set("is_enabled", *params.IsEnabled)
	}
	if params.IsConstant != nil {
		set("is_constant", *params.IsConstant)
	}
	if params.Priority != nil {
		set("priority", *params.Priority)
	}
	if params.SortOrder != nil {
		set("sort_order", *params.SortOrder)
	}
	if params.Position != nil {
		set("position", *params.Position)
	}
	if params.Depth != nil {
		set("depth", *params.Depth)
	}
	if params.Selective != nil {
		set("selective", *params.Selective)
	}
	if params.SecondaryKeys != nil {
		set("secondary_keys", *params.SecondaryKeys)
	}

	if len(updates) == 0 {
		return fmt.Errorf("no updates provided")
	}
	set("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE worldbook_entries SET %s WHERE id = ?", strings.Join(updates, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("entry not found: %s", id)
	}
	return nil
}

// DeleteEntry removes a lore entry.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM worldbook_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("entry not found: %s", id)
	}
	return nil
}

func scanWorldBook(row rowScanner) (*models.WorldBook, error) {
	var wb models.WorldBook
	var description, agentID sql.NullString

	err := row.Scan(
		&wb.ID, &wb.UserID, &wb.Name, &description, &agentID, &wb.IsEnabled,
		&wb.IsPublic, &wb.ScanDepth, &wb.TokenBudget, &wb.CreatedAt, &wb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	wb.Description = description.String
	if agentID.Valid {
		wb.AgentID = &agentID.String
	}
	return &wb, nil
}

func collectWorldBooks(rows *sql.Rows) ([]models.WorldBook, error) {
	var books []models.WorldBook
	for rows.Next() {
		wb, err := scanWorldBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *wb)
	}
	return books, rows.Err()
}

func scanEntry(row rowScanner) (*models.WorldBookEntry, error) {
	var e models.WorldBookEntry
	var keywords, secondaryKeys sql.NullString

	err := row.Scan(
		&e.ID, &e.WorldBookID, &e.Name, &keywords, &e.Content, &e.IsEnabled,
		&e.IsConstant, &e.Priority, &e.SortOrder, &e.Position, &e.Depth,
		&e.Selective, &secondaryKeys, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.KeywordsRaw = keywords.String
	e.SecondaryKeys = secondaryKeys.String
	return &e, nil
}
