package models

import "time"

// Group is a multi-agent chat roster. Turn-taking policy lives client-side;
// the server stores membership and routes generated replies through the same
// pipeline as direct topics.
type Group struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// MemberAgentIDs is populated by store queries, in sort order.
	MemberAgentIDs []string `json:"member_agent_ids,omitempty"`
}
