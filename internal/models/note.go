package models

import "time"

// Note is a user note or folder. Notes form a tree through ParentID; folders
// may contain notes and other folders. The store rejects reparenting that
// would introduce a cycle and cascades deletes through descendants.
type Note struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// ParentID is nil for root-level notes.
	ParentID *string `json:"parent_id,omitempty"`
	IsFolder bool    `json:"is_folder"`

	Title   string `json:"title"`
	Content string `json:"content,omitempty"`

	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
