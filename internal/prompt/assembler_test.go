package prompt

import (
	"strings"
	"testing"

	"github.com/fablehost/fable/internal/lore"
	"github.com/fablehost/fable/internal/models"
)

func TestAssembleFullShape(t *testing.T) {
	agent := &models.Agent{
		PromptMain:      "You are a storyteller.",
		PromptAssistant: "Keep replies short.",
		PromptJailbreak: "Stay in character.",
	}
	activated := []lore.Activation{
		{Content: "The kingdom of Eld.", Position: models.PositionBeforeChar},
		{Content: "Winter is near.", Position: models.PositionAfterChar},
	}
	history := []models.Message{
		{Role: models.RoleUser, Content: "Tell me a story."},
		{Role: models.RoleAssistant, Content: "Once upon a time..."},
	}

	got := Assemble(agent, activated, history)

	if len(got) != 4 {
		t.Fatalf("expected 4 messages (preamble, 2 history, jailbreak), got %d", len(got))
	}

	preamble := got[0]
	if preamble.Role != models.RoleSystem {
		t.Errorf("expected system preamble, got role %q", preamble.Role)
	}
	wantPreamble := strings.Join([]string{
		"You are a storyteller.",
		"The kingdom of Eld.",
		"[Assistant Notes]\nKeep replies short.",
		"Winter is near.",
	}, "\n\n")
	if preamble.Content != wantPreamble {
		t.Errorf("preamble mismatch:\nwant %q\ngot  %q", wantPreamble, preamble.Content)
	}

	if got[1].Content != "Tell me a story." || got[1].Role != models.RoleUser {
		t.Errorf("unexpected first history message: %+v", got[1])
	}
	if got[2].Content != "Once upon a time..." || got[2].Role != models.RoleAssistant {
		t.Errorf("unexpected second history message: %+v", got[2])
	}

	tail := got[3]
	if tail.Role != models.RoleSystem || tail.Content != "Stay in character." {
		t.Errorf("unexpected trailing jailbreak block: %+v", tail)
	}
}

func TestAssembleEmptyModules(t *testing.T) {
	t.Run("no preamble parts yields no system block", func(t *testing.T) {
		agent := &models.Agent{}
		history := []models.Message{{Role: models.RoleUser, Content: "hi"}}

		got := Assemble(agent, nil, history)
		if len(got) != 1 {
			t.Fatalf("expected history only, got %d messages", len(got))
		}
		if got[0].Role != models.RoleUser {
			t.Errorf("expected user message, got role %q", got[0].Role)
		}
	})

	t.Run("empty history still produces preamble and jailbreak", func(t *testing.T) {
		agent := &models.Agent{PromptMain: "main", PromptJailbreak: "jb"}

		got := Assemble(agent, nil, nil)
		if len(got) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(got))
		}
		if got[0].Content != "main" || got[1].Content != "jb" {
			t.Errorf("unexpected assembly: %+v", got)
		}
	})
}

func TestAssembleMissingRoleDefaultsToUser(t *testing.T) {
	agent := &models.Agent{}
	history := []models.Message{{Content: "no role set"}}

	got := Assemble(agent, nil, history)
	if len(got) != 1 || got[0].Role != models.RoleUser {
		t.Fatalf("expected role to default to user, got %+v", got)
	}
}

func TestAssembleAtDepthNotPlaced(t *testing.T) {
	agent := &models.Agent{PromptMain: "main"}
	activated := []lore.Activation{
		{Content: "buried lore", Position: models.PositionAtDepth, Depth: 2},
	}

	got := Assemble(agent, activated, nil)
	for _, msg := range got {
		if strings.Contains(msg.Content, "buried lore") {
			t.Fatalf("at_depth entry must not be placed, found in %q", msg.Content)
		}
	}
}

func TestAssembleLoreKeepsSelectorOrder(t *testing.T) {
	agent := &models.Agent{}
	activated := []lore.Activation{
		{Content: "high", Position: models.PositionBeforeChar},
		{Content: "low", Position: models.PositionBeforeChar},
	}

	got := Assemble(agent, activated, nil)
	if len(got) != 1 {
		t.Fatalf("expected single system block, got %d", len(got))
	}
	if got[0].Content != "high\n\nlow" {
		t.Errorf("expected selector order preserved, got %q", got[0].Content)
	}
}
