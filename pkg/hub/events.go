package hub

import (
	"time"

	"github.com/ordelio/go-ordelio/pkg/call"
	"github.com/ordelio/go-ordelio/pkg/llm"
)

// Event kinds published to monitor clients.
const (
	EventCallStarted = "call_started"
	EventTurn        = "turn"
	EventCallEnded   = "call_ended"
)

// Event is the monitor wire format.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	Call *call.Snapshot `json:"call,omitempty"`

	CallSid   string `json:"call_sid,omitempty"`
	User      string `json:"user,omitempty"`
	Assistant string `json:"assistant,omitempty"`
}

// Notifier publishes call lifecycle events to a hub. It satisfies the
// coordinator's event sink interface.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates a notifier backed by the given hub.
func NewNotifier(h *Hub) *Notifier {
	return &Notifier{hub: h}
}

// CallStarted publishes a call start event.
func (n *Notifier) CallStarted(snap call.Snapshot) {
	n.hub.BroadcastJSON(Event{
		Type: EventCallStarted,
		Time: time.Now(),
		Call: &snap,
	})
}

// Turn publishes one completed exchange.
func (n *Notifier) Turn(callSid string, ex llm.Exchange) {
	n.hub.BroadcastJSON(Event{
		Type:      EventTurn,
		Time:      time.Now(),
		CallSid:   callSid,
		User:      ex.User,
		Assistant: ex.Assistant,
	})
}

// CallEnded publishes a call teardown event with final stats.
func (n *Notifier) CallEnded(snap call.Snapshot) {
	n.hub.BroadcastJSON(Event{
		Type: EventCallEnded,
		Time: time.Now(),
		Call: &snap,
	})
}
