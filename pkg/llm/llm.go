// Package llm provides a unified interface for completion providers.
//
// The package abstracts chat completions behind a single Provider
// interface, enabling seamless switching between backends that implement
// the OpenAI-compatible API (OpenAI, Ollama, vLLM, Together, Groq, etc.).
// Requests carry the restaurant system context, a bounded window of prior
// exchanges, and an opaque conversation-thread handle for providers that
// keep server-side state.
//
// Example usage:
//
//	client, _ := llm.NewClient(
//	    llm.WithAPIKey(os.Getenv("LLM_API_KEY")),
//	    llm.WithModel("gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Complete(ctx, &llm.Request{
//	    System: restaurantContext,
//	    Prompt: "Je voudrais deux pizzas margherita",
//	})
package llm

import "context"

// Provider is the completion interface consumed by the turn coordinator.
// Implementations must be safe for concurrent use by multiple call sessions.
type Provider interface {
	// Complete generates a full reply for the request.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream generates a streaming reply for incremental synthesis.
	Stream(ctx context.Context, req *Request) (Stream, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a streaming reply. It is lazy, finite and non-restartable.
type Stream interface {
	// Recv returns the next chunk. A chunk with Done set ends the stream.
	Recv() (*Chunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// Chunk is a piece of a streaming reply.
type Chunk struct {
	// Delta is the incremental text content.
	Delta string

	// Done is true when the stream is complete.
	Done bool
}

// Exchange is one recorded (user utterance, assistant utterance) pair.
// Exchanges are appended in arrival order and read-only once appended.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Request for a completion.
type Request struct {
	// System is the per-restaurant context prompt.
	System string

	// History is the bounded window of recent exchanges, oldest first.
	// Callers are expected to pass a window, not the full conversation.
	History []Exchange

	// Prompt is the current user utterance.
	Prompt string

	// Thread is an opaque conversation handle for providers that keep
	// server-side state. Round-tripped verbatim; never interpreted.
	Thread string

	// Model overrides the default model.
	Model string

	// MaxTokens limits the reply length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64
}

// Response from a completion.
type Response struct {
	// Text is the assistant's reply.
	Text string

	// Thread is the (possibly new) conversation handle to persist on the
	// session and pass back on the next request.
	Thread string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// message is the wire-level chat message.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildMessages flattens a request into the chat message sequence:
// system context, then the history window as alternating user/assistant
// messages, then the current prompt.
func buildMessages(req *Request) []message {
	msgs := make([]message, 0, 2*len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, message{Role: "system", Content: req.System})
	}
	for _, ex := range req.History {
		msgs = append(msgs, message{Role: "user", Content: ex.User})
		msgs = append(msgs, message{Role: "assistant", Content: ex.Assistant})
	}
	msgs = append(msgs, message{Role: "user", Content: req.Prompt})
	return msgs
}
