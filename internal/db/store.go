package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Store wraps DuckDB operations for all persisted entities.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath and ensures the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize sets up the database schema.
func (s *Store) initialize() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR PRIMARY KEY,
			username VARCHAR NOT NULL UNIQUE,
			is_admin BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS user_settings (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL UNIQUE,
			theme VARCHAR DEFAULT 'dark',
			default_model VARCHAR,
			default_temperature DOUBLE DEFAULT 0.7,
			stream_output BOOLEAN DEFAULT TRUE,
			api_base_url VARCHAR,
			api_key VARCHAR,
			preferences TEXT,
			agent_order TEXT,
			group_order TEXT,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			description TEXT,
			avatar_url VARCHAR,
			prompt_main TEXT,
			prompt_jailbreak TEXT,
			prompt_assistant TEXT,
			model VARCHAR,
			temperature DOUBLE DEFAULT 0.7,
			context_token_limit INTEGER DEFAULT 4000,
			max_output_tokens INTEGER DEFAULT 1000,
			top_p DOUBLE DEFAULT 0.9,
			top_k INTEGER DEFAULT 40,
			stream_output BOOLEAN DEFAULT TRUE,
			style_settings TEXT,
			regex_rules TEXT,
			is_public BOOLEAN DEFAULT FALSE,
			sort_order INTEGER DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_agents_user_id ON agents (user_id);

		CREATE TABLE IF NOT EXISTS topics (
			id VARCHAR PRIMARY KEY,
			agent_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			sort_order INTEGER DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_topics_agent_id ON topics (agent_id);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id VARCHAR PRIMARY KEY,
			agent_id VARCHAR,
			topic_id VARCHAR,
			group_id VARCHAR,
			user_id VARCHAR NOT NULL,
			role VARCHAR NOT NULL,
			content TEXT NOT NULL,
			responding_agent_id VARCHAR,
			attachments TEXT,
			token_count INTEGER,
			is_edited BOOLEAN DEFAULT FALSE,
			is_deleted BOOLEAN DEFAULT FALSE,
			parent_message_id VARCHAR,
			branch_name VARCHAR,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_topic_id ON chat_messages (topic_id);
		CREATE INDEX IF NOT EXISTS idx_messages_created_at ON chat_messages (created_at);

		CREATE TABLE IF NOT EXISTS worldbooks (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			description TEXT,
			agent_id VARCHAR,
			is_enabled BOOLEAN DEFAULT TRUE,
			is_public BOOLEAN DEFAULT FALSE,
			scan_depth INTEGER DEFAULT 5,
			token_budget INTEGER DEFAULT 1000,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_worldbooks_user_id ON worldbooks (user_id);

		CREATE TABLE IF NOT EXISTS worldbook_entries (
			id VARCHAR PRIMARY KEY,
			worldbook_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			keywords TEXT,
			content TEXT NOT NULL,
			is_enabled BOOLEAN DEFAULT TRUE,
			is_constant BOOLEAN DEFAULT FALSE,
			priority INTEGER DEFAULT 0,
			sort_order INTEGER DEFAULT 0,
			position VARCHAR DEFAULT 'before_char',
			depth INTEGER DEFAULT 0,
			selective BOOLEAN DEFAULT TRUE,
			secondary_keys TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_entries_worldbook_id ON worldbook_entries (worldbook_id);

		CREATE TABLE IF NOT EXISTS presets (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			description TEXT,
			prompt_main TEXT,
			prompt_jailbreak TEXT,
			prompt_assistant TEXT,
			model VARCHAR,
			temperature DOUBLE DEFAULT 0.7,
			max_output_tokens INTEGER DEFAULT 1000,
			top_p DOUBLE DEFAULT 0.9,
			top_k INTEGER DEFAULT 40,
			stream_output BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_presets_user_id ON presets (user_id);

		CREATE TABLE IF NOT EXISTS groups (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_groups_user_id ON groups (user_id);

		CREATE TABLE IF NOT EXISTS group_members (
			group_id VARCHAR NOT NULL,
			agent_id VARCHAR NOT NULL,
			sort_order INTEGER DEFAULT 0,
			PRIMARY KEY (group_id, agent_id)
		);

		CREATE TABLE IF NOT EXISTS notes (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL,
			parent_id VARCHAR,
			is_folder BOOLEAN DEFAULT FALSE,
			title VARCHAR NOT NULL,
			content TEXT,
			sort_order INTEGER DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_notes_user_id ON notes (user_id);
		CREATE INDEX IF NOT EXISTS idx_notes_parent_id ON notes (parent_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
