package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Lore entry positions within the assembled context.
const (
	PositionBeforeChar = "before_char"
	PositionAfterChar  = "after_char"
	// PositionAtDepth is accepted and stored but not placed by the
	// assembler; depth-based interleaving into history is unspecified.
	PositionAtDepth = "at_depth"
)

// WorldBook is a collection of conditionally-injected lore entries. A book
// scoped to an agent applies only to that agent; an unscoped book applies to
// every agent of its owner.
type WorldBook struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// AgentID is nil for global books.
	AgentID *string `json:"agent_id,omitempty"`

	IsEnabled bool `json:"is_enabled"`
	IsPublic  bool `json:"is_public"`

	// ScanDepth is how many trailing messages are scanned for keyword
	// matches. TokenBudget is stored but advisory; no truncation is
	// performed against it.
	ScanDepth   int `json:"scan_depth"`
	TokenBudget int `json:"token_budget"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Entries is populated by store queries that load the book together
	// with its enabled entries, in sort order.
	Entries []WorldBookEntry `json:"entries,omitempty"`
}

// WorldBookEntry is one lore fragment with its activation rules.
type WorldBookEntry struct {
	ID          string `json:"id"`
	WorldBookID string `json:"worldbook_id"`
	Name        string `json:"name"`

	// KeywordsRaw is the stored trigger list: a JSON array for entries
	// written by this server, or a legacy comma-separated string.
	KeywordsRaw string `json:"-"`
	Content     string `json:"content"`

	IsEnabled  bool `json:"is_enabled"`
	IsConstant bool `json:"is_constant"`

	Priority  int `json:"priority"`
	SortOrder int `json:"sort_order"`

	Position string `json:"position"`
	Depth    int    `json:"depth"`

	// Selective entries activate on keyword match; non-selective,
	// non-constant entries never activate.
	Selective     bool   `json:"selective"`
	SecondaryKeys string `json:"secondary_keys,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Keywords returns the entry's trigger strings, decoding either storage
// format.
func (e *WorldBookEntry) Keywords() []string {
	return DecodeKeywords(e.KeywordsRaw)
}

// SetKeywords replaces the entry's trigger strings, writing the JSON-array
// storage format.
func (e *WorldBookEntry) SetKeywords(keywords []string) {
	e.KeywordsRaw = EncodeKeywords(keywords)
}

// MarshalJSON exposes the decoded keyword list instead of the raw column.
func (e WorldBookEntry) MarshalJSON() ([]byte, error) {
	type alias WorldBookEntry
	return json.Marshal(struct {
		alias
		Keywords []string `json:"keywords"`
	}{alias(e), e.Keywords()})
}

// EncodeKeywords serializes a keyword list for storage as a JSON array.
func EncodeKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	data, _ := json.Marshal(keywords)
	return string(data)
}

// DecodeKeywords parses a stored keyword list. JSON arrays are the current
// format; anything that fails to parse is treated as the legacy
// comma-separated form.
func DecodeKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(raw), &keywords); err == nil {
		return keywords
	}
	var out []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
