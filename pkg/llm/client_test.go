package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithModel("gpt-4o-mini"),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, srv
}

func TestClientComplete(t *testing.T) {
	var captured map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&captured)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "  Très bien, une margherita.  "}},
			},
			"usage": map[string]int{"prompt_tokens": 42, "completion_tokens": 9, "total_tokens": 51},
		})
	})

	resp, err := client.Complete(context.Background(), &Request{
		System:  "contexte restaurant",
		History: []Exchange{{User: "bonjour", Assistant: "bonsoir"}},
		Prompt:  "une margherita",
		Thread:  "thread-1",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.Text != "Très bien, une margherita." {
		t.Errorf("Text = %q, want trimmed reply", resp.Text)
	}
	if resp.Thread != "thread-1" {
		t.Errorf("Thread = %q, want handle echoed back", resp.Thread)
	}
	if resp.Usage.TotalTokens != 51 {
		t.Errorf("TotalTokens = %d, want 51", resp.Usage.TotalTokens)
	}

	// The wire payload flattens system + history + prompt in order.
	msgs, _ := captured["messages"].([]interface{})
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.(map[string]interface{})["role"].(string)
	}
	want := []string{"system", "user", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("message roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("role %d = %q, want %q", i, roles[i], want[i])
		}
	}
}

func TestClientCompleteAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	})

	_, err := client.Complete(context.Background(), &Request{Prompt: "bonjour"})
	if err == nil {
		t.Fatal("Complete() error = nil, want API error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if !apiErr.IsRateLimited() || !apiErr.IsRetryable() {
		t.Errorf("APIError = %+v, want rate limited and retryable", apiErr)
	}
	if apiErr.Message != "rate limited" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestClientCompleteNoChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"gpt-4o-mini","choices":[]}`)
	})

	_, err := client.Complete(context.Background(), &Request{Prompt: "bonjour"})
	if !errors.Is(err, ErrNoChoices) {
		t.Errorf("Complete() error = %v, want ErrNoChoices", err)
	}
}

func TestClientStream(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["stream"] != true {
			t.Error("stream flag not set on streaming request")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Oui \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"bien sûr.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), &Request{Prompt: "livraison ?"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	var text string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		text += chunk.Delta
		if chunk.Done {
			break
		}
	}
	if text != "Oui bien sûr." {
		t.Errorf("streamed text = %q", text)
	}
}

func TestClientStreamSkipsMalformedEvents(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, ": comment line\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), &Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if chunk.Delta != "ok" {
		t.Errorf("Delta = %q, want ok", chunk.Delta)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewClient() error = %v, want ErrNoAPIKey", err)
	}
}

func TestChain(t *testing.T) {
	t.Run("first provider wins", func(t *testing.T) {
		primary := NewMock("du premier")
		backup := NewMock("du second")
		chain, err := NewChain(primary, backup)
		if err != nil {
			t.Fatalf("NewChain() error = %v", err)
		}

		resp, err := chain.Complete(context.Background(), &Request{Prompt: "bonjour"})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if resp.Text != "du premier" {
			t.Errorf("Text = %q", resp.Text)
		}
		if backup.CallCount("Complete") != 0 {
			t.Error("backup should not be called when primary succeeds")
		}
	})

	t.Run("falls back on failure", func(t *testing.T) {
		primary := WithError(errors.New("down"))
		backup := NewMock("du second")
		chain, _ := NewChain(primary, backup)

		resp, err := chain.Complete(context.Background(), &Request{Prompt: "bonjour"})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if resp.Text != "du second" {
			t.Errorf("Text = %q", resp.Text)
		}
	})

	t.Run("aggregates when all fail", func(t *testing.T) {
		chain, _ := NewChain(
			WithError(errors.New("down one")),
			WithError(errors.New("down two")),
		)

		_, err := chain.Complete(context.Background(), &Request{Prompt: "bonjour"})
		var chainErr *ChainError
		if !errors.As(err, &chainErr) {
			t.Fatalf("error type = %T, want *ChainError", err)
		}
		if len(chainErr.Errors) != 2 {
			t.Errorf("aggregated errors = %d, want 2", len(chainErr.Errors))
		}
	})

	t.Run("requires a provider", func(t *testing.T) {
		if _, err := NewChain(); err == nil {
			t.Error("NewChain() with no providers should fail")
		}
	})
}
