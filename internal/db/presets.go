package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehost/fable/internal/models"
)

const presetColumns = `id, user_id, name, description, prompt_main, prompt_jailbreak,
	prompt_assistant, model, temperature, max_output_tokens, top_p, top_k,
	stream_output, created_at, updated_at`

// InsertPreset adds a new preset.
func (s *Store) InsertPreset(ctx context.Context, p *models.Preset) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presets (`+presetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.Description, p.PromptMain, p.PromptJailbreak,
		p.PromptAssistant, p.Model, p.Temperature, p.MaxOutputTokens, p.TopP, p.TopK,
		p.StreamOutput, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert preset: %w", err)
	}
	return nil
}

// GetPreset retrieves a preset by ID. Returns nil if not found.
func (s *Store) GetPreset(ctx context.Context, id string) (*models.Preset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+presetColumns+` FROM presets WHERE id = ?`, id)
	p, err := scanPreset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preset: %w", err)
	}
	return p, nil
}

// ListPresets returns all presets owned by a user.
func (s *Store) ListPresets(ctx context.Context, userID string) ([]models.Preset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+presetColumns+` FROM presets WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	var presets []models.Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		presets = append(presets, *p)
	}
	return presets, rows.Err()
}

// UpdatePreset replaces a preset's contents wholesale.
func (s *Store) UpdatePreset(ctx context.Context, p *models.Preset) error {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE presets SET name = ?, description = ?, prompt_main = ?, prompt_jailbreak = ?,
			prompt_assistant = ?, model = ?, temperature = ?, max_output_tokens = ?,
			top_p = ?, top_k = ?, stream_output = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Description, p.PromptMain, p.PromptJailbreak, p.PromptAssistant,
		p.Model, p.Temperature, p.MaxOutputTokens, p.TopP, p.TopK, p.StreamOutput,
		p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update preset: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("preset not found: %s", p.ID)
	}
	return nil
}

// DeletePreset removes a preset.
func (s *Store) DeletePreset(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("preset not found: %s", id)
	}
	return nil
}

func scanPreset(row rowScanner) (*models.Preset, error) {
	var p models.Preset
	var description, promptMain, promptJailbreak, promptAssistant, model sql.NullString

	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &description, &promptMain, &promptJailbreak,
		&promptAssistant, &model, &p.Temperature, &p.MaxOutputTokens, &p.TopP, &p.TopK,
		&p.StreamOutput, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.PromptMain = promptMain.String
	p.PromptJailbreak = promptJailbreak.String
	p.PromptAssistant = promptAssistant.String
	p.Model = model.String
	return &p, nil
}
