package llm

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// CompleteFunc is called when Complete is invoked.
	// If nil, returns Text with the request thread echoed back.
	CompleteFunc func(ctx context.Context, req *Request) (*Response, error)

	// StreamFunc is called when Stream is invoked.
	// If nil, Text is replayed as a sequence of single-word deltas.
	StreamFunc func(ctx context.Context, req *Request) (Stream, error)

	// Text is the default reply when CompleteFunc is nil.
	Text string

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method  string
	Prompt  string
	History []Exchange
	Time    time.Time
}

// NewMock creates a mock provider that replies with the given text.
func NewMock(text string) *Mock {
	return &Mock{Text: text}
}

// WithError returns a mock whose every method fails with err.
func WithError(err error) *Mock {
	return &Mock{
		CompleteFunc: func(ctx context.Context, req *Request) (*Response, error) {
			return nil, WrapError("mock", err)
		},
		StreamFunc: func(ctx context.Context, req *Request) (Stream, error) {
			return nil, WrapError("mock", err)
		},
		HealthFunc: func(ctx context.Context) error {
			return WrapError("mock", err)
		},
	}
}

// Complete calls CompleteFunc and records the call.
func (m *Mock) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.recordCall("Complete", req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &Response{Text: m.Text, Thread: req.Thread}, nil
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, req *Request) (Stream, error) {
	m.recordCall("Stream", req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return NewTextStream(m.Text), nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call and returns nil.
func (m *Mock) Close() error {
	m.recordCall("Close", nil)
	return nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method string, req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := MockCall{Method: method, Time: time.Now()}
	if req != nil {
		call.Prompt = req.Prompt
		call.History = append([]Exchange(nil), req.History...)
	}
	m.calls = append(m.calls, call)
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears the recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// TextStream replays fixed text as a word-by-word stream. Useful in tests
// and as the default mock stream.
type TextStream struct {
	words []string
	pos   int
}

// NewTextStream creates a stream over the given text.
func NewTextStream(text string) *TextStream {
	var words []string
	for _, w := range splitWordsKeepingSpace(text) {
		words = append(words, w)
	}
	return &TextStream{words: words}
}

// Recv returns the next word as a delta.
func (s *TextStream) Recv() (*Chunk, error) {
	if s.pos >= len(s.words) {
		return &Chunk{Done: true}, nil
	}
	delta := s.words[s.pos]
	s.pos++
	return &Chunk{Delta: delta, Done: s.pos >= len(s.words)}, nil
}

// Close is a no-op.
func (s *TextStream) Close() error {
	return nil
}

// splitWordsKeepingSpace splits text into word-plus-trailing-space deltas
// so that rejoining the deltas reproduces the original text.
func splitWordsKeepingSpace(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
