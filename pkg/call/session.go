package call

import (
	"sync"
	"time"

	"github.com/ordelio/go-ordelio/pkg/llm"
)

// Session is the live state of one call. Exchange history and the
// conversation thread handle are guarded for concurrent readers (the
// monitor endpoints) while the coordinator goroutine writes.
type Session struct {
	CallSid        string
	StreamSid      string
	RestaurantID   string
	RestaurantName string
	StartedAt      time.Time

	mu        sync.RWMutex
	exchanges []llm.Exchange
	thread    string
}

// NewSession creates a session for a started call.
func NewSession(callSid, streamSid, restaurantID, restaurantName string) *Session {
	return &Session{
		CallSid:        callSid,
		StreamSid:      streamSid,
		RestaurantID:   restaurantID,
		RestaurantName: restaurantName,
		StartedAt:      time.Now(),
	}
}

// Record appends one completed exchange.
func (s *Session) Record(ex llm.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, ex)
}

// History returns a copy of the last n exchanges, oldest first. n <= 0
// returns the full history.
func (s *Session) History(n int) []llm.Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && len(s.exchanges) > n {
		start = len(s.exchanges) - n
	}
	out := make([]llm.Exchange, len(s.exchanges)-start)
	copy(out, s.exchanges[start:])
	return out
}

// Exchanges returns the number of completed exchanges.
func (s *Session) Exchanges() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exchanges)
}

// Thread returns the opaque conversation handle from the last reply.
func (s *Session) Thread() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thread
}

// SetThread stores the conversation handle for the next request.
func (s *Session) SetThread(thread string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thread = thread
}

// Duration returns how long the call has been running.
func (s *Session) Duration() time.Duration {
	return time.Since(s.StartedAt)
}

// Snapshot is the monitor view of a session.
type Snapshot struct {
	CallSid         string    `json:"call_sid"`
	Restaurant      string    `json:"restaurant"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Exchanges       int       `json:"exchanges"`
}

// Snapshot captures the session state for monitoring endpoints.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		CallSid:         s.CallSid,
		Restaurant:      s.RestaurantName,
		StartedAt:       s.StartedAt,
		DurationSeconds: int(s.Duration().Seconds()),
		Exchanges:       s.Exchanges(),
	}
}
