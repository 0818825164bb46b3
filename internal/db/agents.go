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

const agentColumns = `id, user_id, name, description, avatar_url,
	prompt_main, prompt_jailbreak, prompt_assistant,
	model, temperature, context_token_limit, max_output_tokens, top_p, top_k,
	stream_output, style_settings, regex_rules, is_public, sort_order,
	created_at, updated_at`

// InsertAgent adds a new agent, generating its ID and timestamps.
func (s *Store) InsertAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO agents (` + agentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.Name, a.Description, a.AvatarURL,
		a.PromptMain, a.PromptJailbreak, a.PromptAssistant,
		a.Model, a.Temperature, a.ContextTokenLimit, a.MaxOutputTokens, a.TopP, a.TopK,
		a.StreamOutput, a.StyleSettings, models.EncodeRegexRules(a.RegexRules),
		a.IsPublic, a.SortOrder, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves a single agent by ID. Returns nil if not found.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents owned by a user, ordered for display.
func (s *Store) ListAgents(ctx context.Context, userID string) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE user_id = ?
		ORDER BY sort_order, created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// AgentUpdate holds the mutable agent fields; nil pointers are left
// unchanged.
type AgentUpdate struct {
	Name            *string
	Description     *string
	AvatarURL       *string
	PromptMain      *string
	PromptJailbreak *string
	PromptAssistant *string
	Model           *string
	Temperature     *float64
	MaxOutputTokens *int
	TopP            *float64
	TopK            *int
	StreamOutput    *bool
	StyleSettings   *string
	RegexRules      *[]models.RegexRule
	IsPublic        *bool
	SortOrder       *int
}

// UpdateAgent applies the provided fields to an existing agent.
func (s *Store) UpdateAgent(ctx context.Context, id string, params AgentUpdate) error {
	var updates []string
	var args []interface{}

	set := func(col string, val interface{}) {
		updates = append(updates, col+" = ?")
		args = append(args, val)
	}

	if params.Name != nil {
		set("name", *params.Name)
	}
	if params.Description != nil {
		set("description", *params.Description)
	}
	if params.AvatarURL != nil {
		set("avatar_url", *params.AvatarURL)
	}
	if params.PromptMain != nil {
		set("prompt_main", *params.PromptMain)
	}
	if params.PromptJailbreak != nil {
		set("prompt_jailbreak", *params.PromptJailbreak)
	}
	if params.PromptAssistant != nil {
		set("prompt_assistant", *params.PromptAssistant)
	}
	if params.Model != nil {
		set("model", *params.Model)
	}
	if params.Temperature != nil {
		set("temperature", *params.Temperature)
	}
	if params.MaxOutputTokens != nil {
		set("max_output_tokens", *params.MaxOutputTokens)
	}
	if params.TopP != nil {
		set("top_p", *params.TopP)
	}
	if params.TopK != nil {
		set("top_k", *params.TopK)
	}
	if params.StreamOutput != nil {
		set("stream_output", *params.StreamOutput)
	}
	if params.StyleSettings != nil {
		set("style_settings", *params.StyleSettings)
	}
	if params.RegexRules != nil {
		set("regex_rules", models.EncodeRegexRules(*params.RegexRules))
	}
	if params.IsPublic != nil {
		set("is_public", *params.IsPublic)
	}
	if params.SortOrder != nil {
		set("sort_order", *params.SortOrder)
	}

	if len(updates) == 0 {
		return fmt.Errorf("no updates provided")
	}
	set("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE agents SET %s WHERE id = ?", strings.Join(updates, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	return nil
}

// DeleteAgent removes an agent and cascades through its topics, messages,
// and agent-scoped worldbooks.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cascade := []string{
		`DELETE FROM chat_messages WHERE agent_id = ?`,
		`DELETE FROM topics WHERE agent_id = ?`,
		`DELETE FROM worldbook_entries WHERE worldbook_id IN (SELECT id FROM worldbooks WHERE agent_id = ?)`,
		`DELETE FROM worldbooks WHERE agent_id = ?`,
		`DELETE FROM group_members WHERE agent_id = ?`,
		`DELETE FROM agents WHERE id = ?`,
	}
	for _, q := range cascade {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete agent: %w", err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var description, avatarURL, promptMain, promptJailbreak, promptAssistant sql.NullString
	var model, styleSettings, regexRules sql.NullString

	err := row.Scan(
		&a.ID, &a.UserID, &a.Name, &description, &avatarURL,
		&promptMain, &promptJailbreak, &promptAssistant,
		&model, &a.Temperature, &a.ContextTokenLimit, &a.MaxOutputTokens, &a.TopP, &a.TopK,
		&a.StreamOutput, &styleSettings, &regexRules, &a.IsPublic, &a.SortOrder,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Description = description.String
	a.AvatarURL = avatarURL.String
	a.PromptMain = promptMain.String
	a.PromptJailbreak = promptJailbreak.String
	a.PromptAssistant = promptAssistant.String
	a.Model = model.String
	a.StyleSettings = styleSettings.String
	a.RegexRules = models.DecodeRegexRules(regexRules.String)

	return &a, nil
}
