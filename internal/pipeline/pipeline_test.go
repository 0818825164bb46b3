package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fablehost/fable/internal/completion"
	"github.com/fablehost/fable/internal/models"
)

type fakeStore struct {
	topic    *models.Topic
	agent    *models.Agent
	settings *models.UserSettings
	history  []models.ChatMessage
	books    []models.WorldBook

	inserted []models.ChatMessage
}

func (f *fakeStore) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	if f.topic != nil && f.topic.ID == id {
		return f.topic, nil
	}
	return nil, nil
}

func (f *fakeStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	if f.agent != nil && f.agent.ID == id {
		return f.agent, nil
	}
	return nil, nil
}

func (f *fakeStore) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	return f.settings, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, topicID string, includeDeleted bool) ([]models.ChatMessage, error) {
	return f.history, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == "" {
		m.ID = fmt.Sprintf("msg-%d", len(f.inserted)+1)
	}
	f.inserted = append(f.inserted, *m)
	return nil
}

func (f *fakeStore) ActiveLore(ctx context.Context, userID, agentID string) ([]models.WorldBook, error) {
	return f.books, nil
}

type fakeCompleter struct {
	text        string
	completeErr error

	events    []completion.StreamEvent
	streamErr error

	lastReq completion.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, cfg completion.Config, req completion.Request) (string, *completion.Usage, error) {
	f.lastReq = req
	return f.text, nil, f.completeErr
}

func (f *fakeCompleter) Stream(ctx context.Context, cfg completion.Config, req completion.Request) (<-chan completion.StreamEvent, error) {
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan completion.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newFixture() (*fakeStore, *fakeCompleter, *Generator) {
	store := &fakeStore{
		topic: &models.Topic{ID: "topic-1", AgentID: "agent-1"},
		agent: &models.Agent{ID: "agent-1", UserID: "user-1", Model: "agent-model"},
		settings: &models.UserSettings{
			UserID:     "user-1",
			APIBaseURL: "http://upstream.test",
		},
		history: []models.ChatMessage{
			{ID: "m1", Role: models.RoleUser, Content: "hello"},
		},
	}
	client := &fakeCompleter{}
	return store, client, NewGenerator(store, client, nil)
}

func TestRunPersistsOnce(t *testing.T) {
	store, client, gen := newFixture()
	client.text = "a reply"

	job, err := gen.Prepare(context.Background(), "user-1", "topic-1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	msg, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("expected exactly one persisted message, got %d", len(store.inserted))
	}
	got := store.inserted[0]
	if got.Role != models.RoleAssistant || got.Content != "a reply" {
		t.Errorf("unexpected persisted message: %+v", got)
	}
	if got.TopicID != "topic-1" || got.AgentID != "agent-1" || got.UserID != "user-1" {
		t.Errorf("persisted message missing scope fields: %+v", got)
	}
	if msg.ID == "" {
		t.Error("expected assigned message id")
	}
}

func TestRunAppliesRewriteRules(t *testing.T) {
	store, client, gen := newFixture()
	store.agent.RegexRules = []models.RegexRule{
		{Pattern: "foo", Replacement: "bar", Enabled: true, Global: true},
	}
	client.text = "foo and foo"

	job, err := gen.Prepare(context.Background(), "user-1", "topic-1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	msg, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if msg.Content != "bar and bar" {
		t.Errorf("expected rewritten reply, got %q", msg.Content)
	}
}

func TestRunUpstreamFailurePersistsNothing(t *testing.T) {
	store, client, gen := newFixture()
	client.completeErr = &completion.UpstreamError{Status: 500, Err: errors.New("boom")}

	job, err := gen.Prepare(context.Background(), "user-1", "topic-1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected upstream error")
	}

	if len(store.inserted) != 0 {
		t.Fatalf("failed generation must persist nothing, got %d messages", len(store.inserted))
	}
}

func TestStreamRelaysAndPersistsOnce(t *testing.T) {
	store, client, gen := newFixture()
	client.events = []completion.StreamEvent{
		{Content: "Hel"}, {Content: "lo"}, {Content: "!"},
	}

	job, err := gen.Prepare(context.Background(), "user-1", "topic-1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	events, err := job.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var fragments []string
	var doneID string
	for ev := range events {
		switch {
		case ev.Err != nil:
			t.Fatalf("unexpected stream error: %v", ev.Err)
		case ev.Done:
			doneID = ev.MessageID
		default:
			fragments = append(fragments, ev.Content)
		}
	}

	want := []string{"Hel", "lo", "!"}
	if len(fragments) != len(want) {
		t.Fatalf("expected %d fragments, got %v", len(want), fragments)
	}
	for i, w := range want {
		if fragments[i] != w {
			t.Errorf("fragment %d: expected %q, got %q", i, w, fragments[i])
		}
	}

	if len(store.inserted) != 1 {
		t.Fatalf("expected exactly one persisted message, got %d", len(store.inserted))
	}
	if store.inserted[0].Content != "Hello!" {
		t.Errorf("expected accumulated reply, got %q", store.inserted[0].Content)
	}
	if doneID == "" || doneID != store.inserted[0].ID {
		t.Errorf("done frame must carry the persisted id, got %q vs %q", doneID, store.inserted[0].ID)
	}
}

func TestStreamErrorPersistsNothing(t *testing.T) {
	store, client, gen := newFixture()
	client.events = []completion.StreamEvent{
		{Content: "partial"},
		{Err: &completion.UpstreamError{Err: errors.New("connection reset")}},
	}

	job, err := gen.Prepare(context.Background(), "user-1", "topic-1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	events, err := job.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var sawErr bool
	for ev := range events {
		if ev.Err != nil {
			sawErr = true
		}
		if ev.Done {
			t.Error("broken stream must not emit done")
		}
	}

	if !sawErr {
		t.Fatal("expected terminal error event")
	}
	if len(store.inserted) != 0 {
		t.Fatalf("broken stream must persist nothing, got %d messages", len(store.inserted))
	}
}

func TestPrepareValidation(t *testing.T) {
	t.Run("unknown topic", func(t *testing.T) {
		_, _, gen := newFixture()
		_, err := gen.Prepare(context.Background(), "user-1", "no-such-topic")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("foreign private agent", func(t *testing.T) {
		_, _, gen := newFixture()
		_, err := gen.Prepare(context.Background(), "someone-else", "topic-1")
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("foreign public agent is allowed", func(t *testing.T) {
		store, client, gen := newFixture()
		store.agent.IsPublic = true
		client.text = "ok"

		job, err := gen.Prepare(context.Background(), "someone-else", "topic-1")
		if err != nil {
			t.Fatalf("expected public agent to be usable, got %v", err)
		}
		job.Close()
	})

	t.Run("missing settings", func(t *testing.T) {
		store, _, gen := newFixture()
		store.settings = nil
		_, err := gen.Prepare(context.Background(), "user-1", "topic-1")
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("empty base url", func(t *testing.T) {
		store, _, gen := newFixture()
		store.settings.APIBaseURL = ""
		_, err := gen.Prepare(context.Background(), "user-1", "topic-1")
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})
}

func TestTopicLock(t *testing.T) {
	_, client, gen := newFixture()
	client.text = "reply"

	job, err := gen.Prepare(context.Background(), "user-1", "topic-1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if _, err := gen.Prepare(context.Background(), "user-1", "topic-1"); !errors.Is(err, ErrGenerationInProgress) {
		t.Errorf("expected ErrGenerationInProgress while locked, got %v", err)
	}

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Run released the lock; the topic is usable again.
	job2, err := gen.Prepare(context.Background(), "user-1", "topic-1")
	if err != nil {
		t.Fatalf("expected lock released after Run, got %v", err)
	}
	job2.Close()
}

func TestPrepareBuildsRequest(t *testing.T) {
	t.Run("agent model wins", func(t *testing.T) {
		store, client, gen := newFixture()
		store.settings.DefaultModel = "default-model"
		client.text = "r"

		job, _ := gen.Prepare(context.Background(), "user-1", "topic-1")
		job.Run(context.Background())

		if client.lastReq.Model != "agent-model" {
			t.Errorf("expected agent model, got %q", client.lastReq.Model)
		}
	})

	t.Run("falls back to default model", func(t *testing.T) {
		store, client, gen := newFixture()
		store.agent.Model = ""
		store.settings.DefaultModel = "default-model"
		client.text = "r"

		job, _ := gen.Prepare(context.Background(), "user-1", "topic-1")
		job.Run(context.Background())

		if client.lastReq.Model != "default-model" {
			t.Errorf("expected default model fallback, got %q", client.lastReq.Model)
		}
	})

	t.Run("zero temperature is sent as stored", func(t *testing.T) {
		store, client, gen := newFixture()
		store.agent.Temperature = 0
		store.settings.DefaultTemperature = 0.9
		client.text = "r"

		job, _ := gen.Prepare(context.Background(), "user-1", "topic-1")
		job.Run(context.Background())

		if client.lastReq.Temperature != 0 {
			t.Errorf("expected greedy temperature preserved, got %v", client.lastReq.Temperature)
		}
	})

	t.Run("context includes lore and history", func(t *testing.T) {
		store, client, gen := newFixture()
		store.agent.PromptMain = "main prompt"
		store.books = []models.WorldBook{{
			ScanDepth: 5,
			Entries: []models.WorldBookEntry{{
				Content:    "constant lore",
				IsEnabled:  true,
				IsConstant: true,
				Position:   models.PositionBeforeChar,
			}},
		}}
		client.text = "r"

		job, err := gen.Prepare(context.Background(), "user-1", "topic-1")
		if err != nil {
			t.Fatalf("Prepare failed: %v", err)
		}
		job.Run(context.Background())

		msgs := client.lastReq.Messages
		if len(msgs) != 2 {
			t.Fatalf("expected preamble plus history, got %d messages", len(msgs))
		}
		if msgs[0].Role != models.RoleSystem {
			t.Errorf("expected system preamble first, got %q", msgs[0].Role)
		}
		if msgs[0].Content != "main prompt\n\nconstant lore" {
			t.Errorf("unexpected preamble: %q", msgs[0].Content)
		}
		if msgs[1].Content != "hello" {
			t.Errorf("expected history message, got %q", msgs[1].Content)
		}
	})
}
