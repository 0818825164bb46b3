package lore

import (
	"testing"

	"github.com/fablehost/fable/internal/models"
)

func entry(name string, opts func(*models.WorldBookEntry)) models.WorldBookEntry {
	e := models.WorldBookEntry{
		Name:      name,
		Content:   name + " content",
		IsEnabled: true,
		Position:  models.PositionBeforeChar,
	}
	if opts != nil {
		opts(&e)
	}
	return e
}

func history(contents ...string) []models.Message {
	var msgs []models.Message
	for _, c := range contents {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: c})
	}
	return msgs
}

func TestSelectActivation(t *testing.T) {
	t.Run("constant entry always activates", func(t *testing.T) {
		books := []models.WorldBook{{
			ScanDepth: 5,
			Entries: []models.WorldBookEntry{
				entry("always", func(e *models.WorldBookEntry) { e.IsConstant = true }),
			},
		}}

		got := Select(books, history("nothing relevant here"))
		if len(got) != 1 {
			t.Fatalf("expected 1 activation, got %d", len(got))
		}
	})

	t.Run("selective entry activates on keyword match", func(t *testing.T) {
		books := []models.WorldBook{{
			ScanDepth: 5,
			Entries: []models.WorldBookEntry{
				entry("dragon", func(e *models.WorldBookEntry) {
					e.Selective = true
					e.SetKeywords([]string{"dragon"})
				}),
			},
		}}

		got := Select(books, history("I saw a DRAGON in the hills"))
		if len(got) != 1 {
			t.Fatalf("expected keyword match to activate, got %d activations", len(got))
		}

		got = Select(books, history("a quiet day in town"))
		if len(got) != 0 {
			t.Fatalf("expected no activation without keyword, got %d", len(got))
		}
	})

	t.Run("non-selective non-constant entry never activates", func(t *testing.T) {
		books := []models.WorldBook{{
			ScanDepth: 5,
			Entries: []models.WorldBookEntry{
				entry("inert", func(e *models.WorldBookEntry) {
					e.SetKeywords([]string{"inert"})
				}),
			},
		}}

		got := Select(books, history("inert inert inert"))
		if len(got) != 0 {
			t.Fatalf("expected no activation, got %d", len(got))
		}
	})

	t.Run("selective entry with no keywords never activates", func(t *testing.T) {
		books := []models.WorldBook{{
			ScanDepth: 5,
			Entries: []models.WorldBookEntry{
				entry("empty", func(e *models.WorldBookEntry) { e.Selective = true }),
			},
		}}

		got := Select(books, history("anything at all"))
		if len(got) != 0 {
			t.Fatalf("expected no activation, got %d", len(got))
		}
	})

	t.Run("disabled entry never activates", func(t *testing.T) {
		books := []models.WorldBook{{
			ScanDepth: 5,
			Entries: []models.WorldBookEntry{
				entry("off", func(e *models.WorldBookEntry) {
					e.IsEnabled = false
					e.IsConstant = true
				}),
			},
		}}

		got := Select(books, history("hello"))
		if len(got) != 0 {
			t.Fatalf("expected no activation for disabled entry, got %d", len(got))
		}
	})
}

func TestSelectScanDepth(t *testing.T) {
	t.Run("only the last N messages are scanned", func(t *testing.T) {
		books := []models.WorldBook{{
			ScanDepth: 2,
			Entries: []models.WorldBookEntry{
				entry("castle", func(e *models.WorldBookEntry) {
					e.Selective = true
					e.SetKeywords([]string{"castle"})
				}),
			},
		}}

		// Keyword appears only in the oldest message, outside the window.
		got := Select(books, history("the castle looms", "turn two", "turn three"))
		if len(got) != 0 {
			t.Fatalf("expected keyword outside scan window to be ignored, got %d activations", len(got))
		}

		got = Select(books, history("turn one", "turn two", "the castle looms"))
		if len(got) != 1 {
			t.Fatalf("expected keyword inside scan window to activate, got %d", len(got))
		}
	})

	t.Run("scan depth is the max across books", func(t *testing.T) {
		deep := models.WorldBook{
			ScanDepth: 10,
			Entries:   []models.WorldBookEntry{entry("padding", nil)},
		}
		shallow := models.WorldBook{
			ScanDepth: 1,
			Entries: []models.WorldBookEntry{
				entry("river", func(e *models.WorldBookEntry) {
					e.Selective = true
					e.SetKeywords([]string{"river"})
				}),
			},
		}

		// The river keyword is 3 messages back; the deep book's depth
		// governs the shared window.
		got := Select([]models.WorldBook{deep, shallow},
			history("across the river", "turn", "turn", "turn"))
		if len(got) != 1 {
			t.Fatalf("expected shared max scan depth, got %d activations", len(got))
		}
	})
}

func TestSelectPriorityOrdering(t *testing.T) {
	mk := func(name string, priority int) models.WorldBookEntry {
		return entry(name, func(e *models.WorldBookEntry) {
			e.IsConstant = true
			e.Priority = priority
		})
	}

	books := []models.WorldBook{{
		ScanDepth: 5,
		Entries: []models.WorldBookEntry{
			mk("A", 1),
			mk("B", 10),
			mk("C", 5),
		},
	}}

	got := Select(books, history("hi"))
	if len(got) != 3 {
		t.Fatalf("expected 3 activations, got %d", len(got))
	}

	want := []string{"B content", "C content", "A content"}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("position %d: expected %q, got %q", i, w, got[i].Content)
		}
	}
}

func TestSelectEqualPriorityKeepsEncounterOrder(t *testing.T) {
	mk := func(name string) models.WorldBookEntry {
		return entry(name, func(e *models.WorldBookEntry) { e.IsConstant = true })
	}

	books := []models.WorldBook{
		{ScanDepth: 5, Entries: []models.WorldBookEntry{mk("first"), mk("second")}},
		{ScanDepth: 5, Entries: []models.WorldBookEntry{mk("third")}},
	}

	got := Select(books, history("hi"))
	want := []string{"first content", "second content", "third content"}
	if len(got) != len(want) {
		t.Fatalf("expected %d activations, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("position %d: expected %q, got %q", i, w, got[i].Content)
		}
	}
}

func TestSelectNoBooks(t *testing.T) {
	if got := Select(nil, history("hello")); got != nil {
		t.Fatalf("expected nil for no books, got %v", got)
	}
}
