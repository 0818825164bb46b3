package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fablehost/fable/internal/models"
)

func testRequest() Request {
	return Request{
		Model: "test-model",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hello"},
		},
		Temperature: 0.7,
		MaxTokens:   128,
	}
}

func TestComplete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hi there"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
		})
	}))
	defer srv.Close()

	client := NewClient(nil)
	cfg := Config{BaseURL: srv.URL, APIKey: "secret"}

	text, usage, err := client.Complete(context.Background(), cfg, testRequest())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "hi there" {
		t.Errorf("expected %q, got %q", "hi there", text)
	}
	if usage == nil || usage.CompletionTokens != 3 {
		t.Errorf("unexpected usage: %+v", usage)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["stream"] != false {
		t.Errorf("blocking call must send stream=false, got %v", gotBody["stream"])
	}
}

func TestCompleteUpstreamFailure(t *testing.T) {
	t.Run("non-2xx becomes UpstreamError with status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := NewClient(nil)
		_, _, err := client.Complete(context.Background(), Config{BaseURL: srv.URL}, testRequest())

		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}
		if upstream.Status != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", upstream.Status)
		}
	})

	t.Run("no choices is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
		}))
		defer srv.Close()

		client := NewClient(nil)
		_, _, err := client.Complete(context.Background(), Config{BaseURL: srv.URL}, testRequest())
		if err == nil {
			t.Fatal("expected error for empty choices")
		}
	})

	t.Run("unreachable host becomes UpstreamError without status", func(t *testing.T) {
		client := NewClient(nil)
		_, _, err := client.Complete(context.Background(),
			Config{BaseURL: "http://127.0.0.1:1"}, testRequest())

		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}
		if upstream.Status != 0 {
			t.Errorf("expected zero status for connect failure, got %d", upstream.Status)
		}
	})
}

func chunkLine(content string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{"content": content}},
		},
	})
	return "data: " + string(data) + "\n\n"
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, chunkLine("Hel"))
		fmt.Fprint(w, chunkLine("lo"))
		fmt.Fprint(w, "data: not json at all\n\n")
		fmt.Fprint(w, ": comment line\n\n")
		fmt.Fprint(w, chunkLine("!"))
		fmt.Fprint(w, "data: [DONE]\n\n")
		// Anything after the terminator must be ignored.
		fmt.Fprint(w, chunkLine("ignored"))
	}))
	defer srv.Close()

	client := NewClient(nil)
	events, err := client.Stream(context.Background(), Config{BaseURL: srv.URL}, testRequest())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var fragments []string
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		fragments = append(fragments, ev.Content)
	}

	want := []string{"Hel", "lo", "!"}
	if len(fragments) != len(want) {
		t.Fatalf("expected %d fragments, got %d: %v", len(want), len(fragments), fragments)
	}
	for i, w := range want {
		if fragments[i] != w {
			t.Errorf("fragment %d: expected %q, got %q", i, w, fragments[i])
		}
	}
}

func TestStreamNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(nil)
	_, err := client.Stream(context.Background(), Config{BaseURL: srv.URL}, testRequest())

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", upstream.Status)
	}
}

func TestStreamMidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, chunkLine("partial"))
		w.(http.Flusher).Flush()
		// Kill the connection before [DONE] so the client sees a broken
		// stream rather than a clean end.
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	client := NewClient(nil)
	events, err := client.Stream(context.Background(), Config{BaseURL: srv.URL}, testRequest())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var fragments []string
	var streamErr error
	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
			continue
		}
		fragments = append(fragments, ev.Content)
	}

	if len(fragments) != 1 || fragments[0] != "partial" {
		t.Errorf("expected the delivered fragment, got %v", fragments)
	}
	if streamErr == nil {
		t.Fatal("expected a terminal stream error")
	}
	var upstream *UpstreamError
	if !errors.As(streamErr, &upstream) {
		t.Errorf("expected UpstreamError, got %v", streamErr)
	}
}

func TestStreamRequestsStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("streaming call must send stream=true, got %v", body["stream"])
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(nil)
	events, err := client.Stream(context.Background(), Config{BaseURL: srv.URL}, testRequest())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	for range events {
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "model-a"}, {"id": "model-b"}},
		})
	}))
	defer srv.Close()

	client := NewClient(nil)
	ids, err := client.ListModels(context.Background(), Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "model-a" || ids[1] != "model-b" {
		t.Errorf("unexpected model ids: %v", ids)
	}
}

func TestBaseURLTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("trailing slash mishandled, path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(nil)
	if _, _, err := client.Complete(context.Background(), Config{BaseURL: srv.URL + "/"}, testRequest()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}
