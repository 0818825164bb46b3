package db

import (
	"context"
	"testing"

	"github.com/fablehost/fable/internal/models"
)

func insertBook(t *testing.T, store *Store, userID string, agentID *string, enabled bool) *models.WorldBook {
	t.Helper()

	wb := &models.WorldBook{
		UserID:    userID,
		Name:      "book",
		AgentID:   agentID,
		IsEnabled: enabled,
	}
	if err := store.InsertWorldBook(context.Background(), wb); err != nil {
		t.Fatalf("InsertWorldBook failed: %v", err)
	}
	return wb
}

func TestActiveLoreScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "alice")
	other := seedAgent(t, store, "bob")

	global := insertBook(t, store, agent.UserID, nil, true)
	scoped := insertBook(t, store, agent.UserID, &agent.ID, true)
	insertBook(t, store, agent.UserID, &other.ID, true)  // other agent's scope
	insertBook(t, store, agent.UserID, nil, false)       // disabled
	insertBook(t, store, other.UserID, nil, true)        // other user

	books, err := store.ActiveLore(ctx, agent.UserID, agent.ID)
	if err != nil {
		t.Fatalf("ActiveLore failed: %v", err)
	}

	if len(books) != 2 {
		t.Fatalf("expected global + scoped book, got %d", len(books))
	}
	got := map[string]bool{books[0].ID: true, books[1].ID: true}
	if !got[global.ID] || !got[scoped.ID] {
		t.Errorf("wrong books selected: %v", got)
	}
}

func TestActiveLoreLoadsEnabledEntriesOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "alice")
	wb := insertBook(t, store, agent.UserID, nil, true)

	on := &models.WorldBookEntry{WorldBookID: wb.ID, Content: "on", IsEnabled: true}
	off := &models.WorldBookEntry{WorldBookID: wb.ID, Content: "off", IsEnabled: false}
	for _, e := range []*models.WorldBookEntry{on, off} {
		if err := store.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry failed: %v", err)
		}
	}

	books, err := store.ActiveLore(ctx, agent.UserID, agent.ID)
	if err != nil {
		t.Fatalf("ActiveLore failed: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("expected 1 book, got %d", len(books))
	}
	if len(books[0].Entries) != 1 || books[0].Entries[0].Content != "on" {
		t.Errorf("expected only the enabled entry, got %+v", books[0].Entries)
	}
}

func TestEntryKeywordsFormats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "alice")
	wb := insertBook(t, store, agent.UserID, nil, true)

	t.Run("json array round-trips", func(t *testing.T) {
		entry := &models.WorldBookEntry{WorldBookID: wb.ID, Content: "lore", IsEnabled: true}
		entry.SetKeywords([]string{"dragon", "wyrm"})
		if err := store.InsertEntry(ctx, entry); err != nil {
			t.Fatalf("InsertEntry failed: %v", err)
		}

		got, err := store.GetEntry(ctx, entry.ID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		keywords := got.Keywords()
		if len(keywords) != 2 || keywords[0] != "dragon" || keywords[1] != "wyrm" {
			t.Errorf("keywords did not round-trip: %v", keywords)
		}
	})

	t.Run("legacy comma format decodes", func(t *testing.T) {
		entry := &models.WorldBookEntry{
			WorldBookID: wb.ID,
			Content:     "legacy lore",
			IsEnabled:   true,
			KeywordsRaw: "castle, moat , keep",
		}
		if err := store.InsertEntry(ctx, entry); err != nil {
			t.Fatalf("InsertEntry failed: %v", err)
		}

		got, err := store.GetEntry(ctx, entry.ID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		keywords := got.Keywords()
		want := []string{"castle", "moat", "keep"}
		if len(keywords) != len(want) {
			t.Fatalf("expected %v, got %v", want, keywords)
		}
		for i, w := range want {
			if keywords[i] != w {
				t.Errorf("keyword %d: expected %q, got %q", i, w, keywords[i])
			}
		}
	})
}

func TestWorldBookUpdateScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "alice")
	wb := insertBook(t, store, agent.UserID, &agent.ID, true)

	// Clearing the scope makes the book global.
	if err := store.UpdateWorldBook(ctx, wb.ID, WorldBookUpdate{SetAgentID: true}); err != nil {
		t.Fatalf("UpdateWorldBook failed: %v", err)
	}

	got, err := store.GetWorldBook(ctx, wb.ID)
	if err != nil {
		t.Fatalf("GetWorldBook failed: %v", err)
	}
	if got.AgentID != nil {
		t.Errorf("expected cleared scope, got %v", *got.AgentID)
	}
}

func TestDeleteWorldBookCascadesEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "alice")
	wb := insertBook(t, store, agent.UserID, nil, true)

	entry := &models.WorldBookEntry{WorldBookID: wb.ID, Content: "lore", IsEnabled: true}
	if err := store.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("InsertEntry failed: %v", err)
	}

	if err := store.DeleteWorldBook(ctx, wb.ID); err != nil {
		t.Fatalf("DeleteWorldBook failed: %v", err)
	}

	got, err := store.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got != nil {
		t.Error("expected entry deleted with its book")
	}
}
