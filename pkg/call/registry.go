package call

import "sync"

// Registry tracks active call sessions by call SID. Safe for concurrent
// use by the per-call goroutines and the monitor endpoints.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session, replacing any previous session with the same
// call SID. Returns true if a session was replaced.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.sessions[s.CallSid]
	r.sessions[s.CallSid] = s
	return replaced
}

// Get returns the session for a call SID.
func (r *Registry) Get(callSid string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callSid]
	return s, ok
}

// Unregister removes a session. Removing an absent SID is a no-op, so
// teardown paths can call it unconditionally. Returns true if a session
// was removed.
func (r *Registry) Unregister(callSid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[callSid]
	delete(r.sessions, callSid)
	return ok
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns a point-in-time view of all active sessions.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}
