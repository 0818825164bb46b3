package models

import (
	"encoding/json"
	"time"
)

// RegexRule is one user-authored rewrite rule applied to generated text.
// Rules are stored as an ordered JSON list on the agent and compiled lazily
// at application time, never at rest.
type RegexRule struct {
	Pattern         string `json:"pattern"`
	Replacement     string `json:"replacement"`
	Enabled         bool   `json:"enabled"`
	CaseInsensitive bool   `json:"case_insensitive"`
	Global          bool   `json:"global"`
}

// Agent is a configured persona: layered prompt modules, generation
// parameters, and an ordered rewrite rule set.
type Agent struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	// Prompt modules, in context order: main -> lore-before -> assistant
	// notes -> lore-after -> history -> jailbreak.
	PromptMain      string `json:"prompt_main,omitempty"`
	PromptJailbreak string `json:"prompt_jailbreak,omitempty"`
	PromptAssistant string `json:"prompt_assistant,omitempty"`

	Model             string  `json:"model,omitempty"`
	Temperature       float64 `json:"temperature"`
	ContextTokenLimit int     `json:"context_token_limit"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	StreamOutput      bool    `json:"stream_output"`

	// StyleSettings is an opaque JSON document owned by the client;
	// the server stores and returns it without interpreting it.
	StyleSettings string      `json:"style_settings,omitempty"`
	RegexRules    []RegexRule `json:"regex_rules,omitempty"`

	IsPublic  bool      `json:"is_public"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EncodeRegexRules serializes an ordered rule list for storage.
func EncodeRegexRules(rules []RegexRule) string {
	if len(rules) == 0 {
		return ""
	}
	data, _ := json.Marshal(rules)
	return string(data)
}

// DecodeRegexRules parses a stored rule list. Unparseable input yields an
// empty list rather than an error: a corrupt rule column must never block
// generation.
func DecodeRegexRules(raw string) []RegexRule {
	if raw == "" {
		return nil
	}
	var rules []RegexRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil
	}
	return rules
}
