// Package completion talks to an OpenAI-compatible chat-completions backend,
// in blocking or streaming mode.
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fablehost/fable/internal/models"
)

// requestTimeout bounds a blocking call and the whole lifetime of a stream.
// Exceeding it is a timeout failure, never a silent truncation.
const requestTimeout = 120 * time.Second

// maxLineSize is the scanner buffer ceiling for a single SSE line.
const maxLineSize = 1 << 20

// Config identifies the backend for one call. It comes from per-user
// settings, so it is per-request rather than baked into the client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Request is the generation payload shaped for /v1/chat/completions.
type Request struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	TopP        float64          `json:"top_p"`
	Stream      bool             `json:"stream"`
}

// Usage is the model-reported token accounting from a blocking response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one element of a streaming response sequence: a content
// fragment, or a terminal error. After an event with a non-nil Err the
// channel is closed.
type StreamEvent struct {
	Content string
	Err     error
}

// UpstreamError reports a failed call to the inference backend. Status is
// zero when the failure happened before an HTTP status was received.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream returned status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client issues requests to the completions backend.
type Client struct {
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a completion client. The underlying HTTP client timeout
// covers the full response body, so it also bounds stream lifetime.
func NewClient(log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}
}

// chatResponse matches the blocking response shape.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// chatChunk matches one streamed SSE data line.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete issues a blocking completion call and returns the full assistant
// text plus reported usage (nil if the backend omitted it).
func (c *Client) Complete(ctx context.Context, cfg Config, req Request) (string, *Usage, error) {
	req.Stream = false
	resp, err := c.post(ctx, cfg, req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, &UpstreamError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("response contained no choices")}
	}

	return parsed.Choices[0].Message.Content, parsed.Usage, nil
}

// Stream issues a streaming completion call. Failures before the stream is
// established (request build, connect, non-2xx) are returned directly; once
// the channel is returned, read failures arrive as a terminal error event.
// Fragments are delivered in arrival order. Canceling ctx aborts the
// upstream request.
func (c *Client) Stream(ctx context.Context, cfg Config, req Request) (<-chan StreamEvent, error) {
	req.Stream = true
	resp, err := c.post(ctx, cfg, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &UpstreamError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	events := make(chan StreamEvent)
	go c.readStream(ctx, resp.Body, events)
	return events, nil
}

// readStream parses SSE lines from the response body into events. Lines are
// `data: <json>` chunks; malformed JSON is skipped rather than fatal, and a
// `[DONE]` payload ends the stream cleanly. Sends race ctx cancellation so an
// abandoned consumer never strands this goroutine.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			return
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Debug("skipping malformed stream line", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
			continue
		}
		select {
		case events <- StreamEvent{Content: *chunk.Choices[0].Delta.Content}:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case events <- StreamEvent{Err: &UpstreamError{Err: fmt.Errorf("stream read failed: %w", err)}}:
		case <-ctx.Done():
		}
	}
}

// ListModels queries /v1/models, used as a connectivity check for a user's
// endpoint configuration.
func (c *Client) ListModels(ctx context.Context, cfg Config) ([]string, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/v1/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) post(ctx context.Context, cfg Config, req Request) (*http.Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	return resp, nil
}
