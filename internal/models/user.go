package models

import (
	"encoding/json"
	"time"
)

// User is an account owning agents, topics, worldbooks, notes, and presets.
// Authentication itself happens upstream; the server only needs identity for
// ownership checks.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSettings holds per-user preferences and the inference endpoint
// configuration consumed by the generation pipeline.
type UserSettings struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Theme              string  `json:"theme,omitempty"`
	DefaultModel       string  `json:"default_model,omitempty"`
	DefaultTemperature float64 `json:"default_temperature"`
	StreamOutput       bool    `json:"stream_output"`

	// APIBaseURL and APIKey point at an OpenAI-compatible completions
	// backend. An empty base URL is a configuration error at generation
	// time, never a crash.
	APIBaseURL string `json:"api_base_url,omitempty"`
	APIKey     string `json:"-"`

	// Preferences is an opaque JSON document owned by the client.
	Preferences string `json:"preferences,omitempty"`

	AgentOrder []string `json:"agent_order,omitempty"`
	GroupOrder []string `json:"group_order,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// EncodeOrder serializes an id ordering list for storage.
func EncodeOrder(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

// DecodeOrder parses a stored id ordering list.
func DecodeOrder(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}
