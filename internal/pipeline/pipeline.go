// Package pipeline orchestrates a generation turn: ownership checks, lore
// selection, context assembly, the upstream completion call, rewrite rules,
// and exactly-once persistence of the assistant reply.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fablehost/fable/internal/completion"
	"github.com/fablehost/fable/internal/lore"
	"github.com/fablehost/fable/internal/models"
	"github.com/fablehost/fable/internal/prompt"
	"github.com/fablehost/fable/internal/rewrite"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetSettings(ctx context.Context, userID string) (*models.UserSettings, error)
	ListMessages(ctx context.Context, topicID string, includeDeleted bool) ([]models.ChatMessage, error)
	InsertMessage(ctx context.Context, m *models.ChatMessage) error
	ActiveLore(ctx context.Context, userID, agentID string) ([]models.WorldBook, error)
}

// Completer is the upstream completion surface, blocking and streaming.
type Completer interface {
	Complete(ctx context.Context, cfg completion.Config, req completion.Request) (string, *completion.Usage, error)
	Stream(ctx context.Context, cfg completion.Config, req completion.Request) (<-chan completion.StreamEvent, error)
}

// Event is one frame of a streaming generation as seen by callers: a content
// fragment, a terminal done frame carrying the persisted message id, or a
// terminal error. Nothing follows a Done or Err event.
type Event struct {
	Content   string
	Done      bool
	MessageID string
	Err       error
}

// Generator runs generation turns. It holds one advisory lock per topic so a
// topic never has two in-flight generations.
type Generator struct {
	store  Store
	client Completer
	log    *zap.Logger

	mu   sync.Mutex
	busy map[string]struct{}
}

// NewGenerator creates a Generator.
func NewGenerator(store Store, client Completer, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		store:  store,
		client: client,
		log:    log,
		busy:   make(map[string]struct{}),
	}
}

// Job is one prepared generation turn holding the topic lock. Exactly one of
// Run or Stream must be called; either path releases the lock when finished.
// Close releases the lock for a job that was prepared but never run.
type Job struct {
	g     *Generator
	agent *models.Agent

	userID  string
	topicID string

	cfg completion.Config
	req completion.Request

	release sync.Once
}

// Prepare validates a generation request and acquires the topic lock. It
// resolves the topic and agent, checks ownership, requires a configured
// inference endpoint, loads the visible history and in-scope lore, and
// assembles the full completion request. No upstream call is made yet.
func (g *Generator) Prepare(ctx context.Context, userID, topicID string) (*Job, error) {
	topic, err := g.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}

	agent, err := g.store.GetAgent(ctx, topic.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s: %w", topic.AgentID, ErrNotFound)
	}
	if agent.UserID != userID && !agent.IsPublic {
		return nil, fmt.Errorf("agent %s: %w", agent.ID, ErrForbidden)
	}

	settings, err := g.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil || settings.APIBaseURL == "" {
		return nil, ErrNotConfigured
	}

	if err := g.acquire(topicID); err != nil {
		return nil, err
	}
	job := &Job{g: g, agent: agent, userID: userID, topicID: topicID}

	// From here on any failure must release the lock before returning.
	history, err := g.store.ListMessages(ctx, topicID, false)
	if err != nil {
		job.Close()
		return nil, err
	}
	books, err := g.store.ActiveLore(ctx, userID, agent.ID)
	if err != nil {
		job.Close()
		return nil, err
	}

	messages := make([]models.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, models.Message{Role: m.Role, Content: m.Content})
	}

	activated := lore.Select(books, messages)
	assembled := prompt.Assemble(agent, activated, messages)

	model := agent.Model
	if model == "" {
		model = settings.DefaultModel
	}
	job.cfg = completion.Config{BaseURL: settings.APIBaseURL, APIKey: settings.APIKey}
	job.req = completion.Request{
		Model:       model,
		Messages:    assembled,
		// The agent's temperature goes through as stored, zero included;
		// 0.0 is a valid greedy-sampling choice, not an unset marker.
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxOutputTokens,
		TopP:        agent.TopP,
	}

	g.log.Debug("prepared generation",
		zap.String("topic_id", topicID),
		zap.String("agent_id", agent.ID),
		zap.Int("context_messages", len(assembled)),
		zap.Int("lore_activations", len(activated)))

	return job, nil
}

func (g *Generator) acquire(topicID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.busy[topicID]; held {
		return ErrGenerationInProgress
	}
	g.busy[topicID] = struct{}{}
	return nil
}

// Streaming reports whether the agent is configured for streaming output.
func (j *Job) Streaming() bool { return j.agent.StreamOutput }

// Close releases the topic lock. Safe to call more than once; Run and Stream
// call it themselves.
func (j *Job) Close() {
	j.release.Do(func() {
		j.g.mu.Lock()
		delete(j.g.busy, j.topicID)
		j.g.mu.Unlock()
	})
}

// Run executes the turn in blocking mode: one upstream call, rewrite rules,
// then a single persisted assistant message.
func (j *Job) Run(ctx context.Context) (*models.ChatMessage, error) {
	defer j.Close()

	text, usage, err := j.g.client.Complete(ctx, j.cfg, j.req)
	if err != nil {
		return nil, err
	}

	msg, err := j.persist(ctx, text, usage)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Stream executes the turn in streaming mode. Content fragments are relayed
// in arrival order while the full reply accumulates server-side. Only a
// cleanly ended stream is rewritten and persisted; a mid-stream error or a
// canceled ctx persists nothing. The returned channel is closed after the
// terminal event.
func (j *Job) Stream(ctx context.Context) (<-chan Event, error) {
	upstream, err := j.g.client.Stream(ctx, j.cfg, j.req)
	if err != nil {
		j.Close()
		return nil, err
	}

	events := make(chan Event)
	go j.relay(ctx, upstream, events)
	return events, nil
}

func (j *Job) relay(ctx context.Context, upstream <-chan completion.StreamEvent, events chan<- Event) {
	defer close(events)
	defer j.Close()

	var full []byte
	for ev := range upstream {
		if ev.Err != nil {
			j.g.log.Warn("stream failed mid-generation",
				zap.String("topic_id", j.topicID), zap.Error(ev.Err))
			events <- Event{Err: ev.Err}
			return
		}
		full = append(full, ev.Content...)

		select {
		case events <- Event{Content: ev.Content}:
		case <-ctx.Done():
			// Caller went away; ctx cancellation also aborts the
			// upstream request. Nothing is persisted.
			j.g.log.Debug("caller disconnected mid-stream",
				zap.String("topic_id", j.topicID))
			return
		}
	}

	if err := ctx.Err(); err != nil {
		return
	}

	msg, err := j.persist(ctx, string(full), nil)
	if err != nil {
		events <- Event{Err: err}
		return
	}
	events <- Event{Done: true, MessageID: msg.ID}
}

// persist applies the agent's rewrite rules and stores the assistant reply.
func (j *Job) persist(ctx context.Context, text string, usage *completion.Usage) (*models.ChatMessage, error) {
	text = rewrite.Apply(text, j.agent.RegexRules, j.g.log)

	msg := &models.ChatMessage{
		AgentID: j.agent.ID,
		TopicID: j.topicID,
		UserID:  j.userID,
		Role:    models.RoleAssistant,
		Content: text,
	}
	if usage != nil {
		msg.TokenCount = usage.CompletionTokens
	}
	if err := j.g.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant reply: %w", err)
	}

	j.g.log.Info("generation complete",
		zap.String("topic_id", j.topicID),
		zap.String("agent_id", j.agent.ID),
		zap.String("message_id", msg.ID),
		zap.Int("reply_chars", len(text)))

	return msg, nil
}
