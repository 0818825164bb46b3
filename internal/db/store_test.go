package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fablehost/fable/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "test.duckdb"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedAgent inserts a user and one agent for that user.
func seedAgent(t *testing.T, store *Store, username string) *models.Agent {
	t.Helper()
	ctx := context.Background()

	user := &models.User{Username: username}
	if err := store.InsertUser(ctx, user); err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}

	agent := &models.Agent{UserID: user.ID, Name: username + "-agent"}
	if err := store.InsertAgent(ctx, agent); err != nil {
		t.Fatalf("failed to insert agent: %v", err)
	}
	return agent
}

func seedTopic(t *testing.T, store *Store, agentID string) *models.Topic {
	t.Helper()

	topic := &models.Topic{AgentID: agentID}
	if err := store.InsertTopic(context.Background(), topic); err != nil {
		t.Fatalf("failed to insert topic: %v", err)
	}
	return topic
}

func TestStorePing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "alice")

	agent.RegexRules = []models.RegexRule{
		{Pattern: "foo", Replacement: "bar", Enabled: true, Global: true},
	}
	name := "renamed"
	if err := store.UpdateAgent(ctx, agent.ID, AgentUpdate{
		Name:       &name,
		RegexRules: &agent.RegexRules,
	}); err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	got, err := store.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Name != "renamed" {
		t.Errorf("expected renamed agent, got %q", got.Name)
	}
	if len(got.RegexRules) != 1 || got.RegexRules[0].Pattern != "foo" {
		t.Errorf("regex rules did not round-trip: %+v", got.RegexRules)
	}

	missing, err := store.GetAgent(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetAgent for missing id failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing agent")
	}
}
