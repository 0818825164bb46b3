// Package lore decides which worldbook entries are injected into a
// generation's context.
package lore

import (
	"sort"
	"strings"

	"github.com/fablehost/fable/internal/models"
)

// Activation is one entry selected for injection, carrying just what the
// assembler needs.
type Activation struct {
	Content  string
	Position string
	Depth    int
	Priority int
}

// Select scans the tail of the message history against the given worldbooks
// and returns the activated entries, sorted by priority descending. Equal
// priorities keep encounter order (book order, then entry order), so results
// are deterministic for a given store ordering.
//
// Select is a pure function: it never mutates its inputs and performs no
// I/O. Callers pass books already filtered to enabled, in-scope ones with
// enabled entries loaded.
func Select(books []models.WorldBook, history []models.Message) []Activation {
	if len(books) == 0 {
		return nil
	}

	// The scan window is shared across books: the deepest declared depth
	// governs all of them.
	scanDepth := 0
	for _, wb := range books {
		if wb.ScanDepth > scanDepth {
			scanDepth = wb.ScanDepth
		}
	}

	buffer := scanBuffer(history, scanDepth)

	var activated []Activation
	for _, wb := range books {
		for _, entry := range wb.Entries {
			if !entry.IsEnabled {
				continue
			}
			if !shouldActivate(&entry, buffer) {
				continue
			}
			activated = append(activated, Activation{
				Content:  entry.Content,
				Position: entry.Position,
				Depth:    entry.Depth,
				Priority: entry.Priority,
			})
		}
	}

	sort.SliceStable(activated, func(i, j int) bool {
		return activated[i].Priority > activated[j].Priority
	})

	return activated
}

// shouldActivate applies the activation rules: constant entries always fire;
// selective entries fire on a case-insensitive keyword hit; everything else
// never fires. A selective entry with no keywords cannot fire.
func shouldActivate(entry *models.WorldBookEntry, buffer string) bool {
	if entry.IsConstant {
		return true
	}
	if !entry.Selective {
		return false
	}
	for _, keyword := range entry.Keywords() {
		if keyword == "" {
			continue
		}
		if strings.Contains(buffer, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// scanBuffer concatenates the last scanDepth message contents, case-folded,
// into a single search string.
func scanBuffer(history []models.Message, scanDepth int) string {
	start := 0
	if len(history) > scanDepth {
		start = len(history) - scanDepth
	}

	var parts []string
	for _, msg := range history[start:] {
		parts = append(parts, msg.Content)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
