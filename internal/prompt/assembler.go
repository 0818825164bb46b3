// Package prompt assembles an agent's layered prompt modules, activated lore,
// and chat history into the ordered message list sent to the completions
// backend.
package prompt

import (
	"strings"

	"github.com/fablehost/fable/internal/lore"
	"github.com/fablehost/fable/internal/models"
)

// assistantNotesLabel marks the assistant-notes module inside the system
// preamble so it reads as a secondary note rather than primary persona text.
const assistantNotesLabel = "[Assistant Notes]"

// Assemble builds the completion context in fixed order:
//
//  1. a single system block holding the agent's main prompt, before_char
//     lore, labeled assistant notes, and after_char lore (double-newline
//     joined; omitted entirely when all parts are empty),
//  2. the chat history verbatim, in chronological order,
//  3. a trailing system block with the jailbreak prompt, placed last so it
//     has maximal positional influence.
//
// Lore activations keep the order produced by the selector. Entries with an
// at_depth position are not placed; depth-based interleaving is
// intentionally unsupported.
func Assemble(agent *models.Agent, activated []lore.Activation, history []models.Message) []models.Message {
	var context []models.Message

	var preamble []string
	if agent.PromptMain != "" {
		preamble = append(preamble, agent.PromptMain)
	}
	for _, entry := range activated {
		if entry.Position == models.PositionBeforeChar {
			preamble = append(preamble, entry.Content)
		}
	}
	if agent.PromptAssistant != "" {
		preamble = append(preamble, assistantNotesLabel+"\n"+agent.PromptAssistant)
	}
	for _, entry := range activated {
		if entry.Position == models.PositionAfterChar {
			preamble = append(preamble, entry.Content)
		}
	}

	if len(preamble) > 0 {
		context = append(context, models.Message{
			Role:    models.RoleSystem,
			Content: strings.Join(preamble, "\n\n"),
		})
	}

	for _, msg := range history {
		role := msg.Role
		if role == "" {
			role = models.RoleUser
		}
		context = append(context, models.Message{Role: role, Content: msg.Content})
	}

	if agent.PromptJailbreak != "" {
		context = append(context, models.Message{
			Role:    models.RoleSystem,
			Content: agent.PromptJailbreak,
		})
	}

	return context
}
