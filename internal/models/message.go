package models

// Message roles understood by the pipeline and the completions API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single role-tagged content block in an assembled context,
// shaped to match the chat-completions wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
