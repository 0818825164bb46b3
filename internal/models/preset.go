package models

import "time"

// Preset is a reusable template of prompt modules and generation parameters
// that can be applied to an agent in one step.
type Preset struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	PromptMain      string `json:"prompt_main,omitempty"`
	PromptJailbreak string `json:"prompt_jailbreak,omitempty"`
	PromptAssistant string `json:"prompt_assistant,omitempty"`

	Model           string  `json:"model,omitempty"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
	StreamOutput    bool    `json:"stream_output"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Apply copies the preset's prompt modules and generation parameters onto an
// agent. Identity, visibility, and rewrite rules are left untouched.
func (p *Preset) Apply(a *Agent) {
	a.PromptMain = p.PromptMain
	a.PromptJailbreak = p.PromptJailbreak
	a.PromptAssistant = p.PromptAssistant
	a.Model = p.Model
	a.Temperature = p.Temperature
	a.MaxOutputTokens = p.MaxOutputTokens
	a.TopP = p.TopP
	a.TopK = p.TopK
	a.StreamOutput = p.StreamOutput
}
