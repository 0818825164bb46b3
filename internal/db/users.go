package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehost/fable/internal/models"
)

// InsertUser adds a new account.
func (s *Store) InsertUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, is_admin, created_at)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.Username, u.IsAdmin, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID. Returns nil if not found.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, is_admin, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetSettings retrieves a user's settings row. Returns nil if the user has
// never saved settings.
func (s *Store) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	var st models.UserSettings
	var theme, defaultModel, apiBaseURL, apiKey sql.NullString
	var preferences, agentOrder, groupOrder sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, theme, default_model, default_temperature, stream_output,
		       api_base_url, api_key, preferences, agent_order, group_order, updated_at
		FROM user_settings WHERE user_id = ?
	`, userID).Scan(
		&st.ID, &st.UserID, &theme, &defaultModel, &st.DefaultTemperature, &st.StreamOutput,
		&apiBaseURL, &apiKey, &preferences, &agentOrder, &groupOrder, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	st.Theme = theme.String
	st.DefaultModel = defaultModel.String
	st.APIBaseURL = apiBaseURL.String
	st.APIKey = apiKey.String
	st.Preferences = preferences.String
	st.AgentOrder = models.DecodeOrder(agentOrder.String)
	st.GroupOrder = models.DecodeOrder(groupOrder.String)

	return &st, nil
}

// UpsertSettings creates or replaces a user's settings row.
func (s *Store) UpsertSettings(ctx context.Context, st *models.UserSettings) error {
	st.UpdatedAt = time.Now().UTC()

	existing, err := s.GetSettings(ctx, st.UserID)
	if err != nil {
		return err
	}

	if existing == nil {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO user_settings (id, user_id, theme, default_model, default_temperature,
				stream_output, api_base_url, api_key, preferences, agent_order, group_order, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ID, st.UserID, st.Theme, nullable(st.DefaultModel), st.DefaultTemperature,
			st.StreamOutput, nullable(st.APIBaseURL), nullable(st.APIKey),
			nullable(st.Preferences), nullable(models.EncodeOrder(st.AgentOrder)),
			nullable(models.EncodeOrder(st.GroupOrder)), st.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert settings: %w", err)
		}
		return nil
	}

	st.ID = existing.ID
	_, err = s.db.ExecContext(ctx, `
		UPDATE user_settings SET theme = ?, default_model = ?, default_temperature = ?,
			stream_output = ?, api_base_url = ?, api_key = ?, preferences = ?,
			agent_order = ?, group_order = ?, updated_at = ?
		WHERE user_id = ?
	`, st.Theme, nullable(st.DefaultModel), st.DefaultTemperature, st.StreamOutput,
		nullable(st.APIBaseURL), nullable(st.APIKey), nullable(st.Preferences),
		nullable(models.EncodeOrder(st.AgentOrder)), nullable(models.EncodeOrder(st.GroupOrder)),
		st.UpdatedAt, st.UserID)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}
