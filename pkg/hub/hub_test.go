package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ordelio/go-ordelio/pkg/call"
	"github.com/ordelio/go-ordelio/pkg/llm"
)

// fakeClient registers a bare client on the hub without a real socket.
func fakeClient(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan []byte, buffer)}
	h.register <- c
	return c
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestHubBroadcast(t *testing.T) {
	h := New("test")
	go h.Run()

	a := fakeClient(h, 4)
	b := fakeClient(h, 4)

	waitForClients(t, h, 2)

	h.Broadcast([]byte(`{"hello":true}`))

	for _, c := range []*Client{a, b} {
		if got := string(recv(t, c)); got != `{"hello":true}` {
			t.Errorf("client received %q", got)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := New("test")
	go h.Run()

	slow := fakeClient(h, 1)
	waitForClients(t, h, 1)

	// First fills the buffer, second forces the drop.
	h.Broadcast([]byte("one"))
	h.Broadcast([]byte("two"))

	waitForClients(t, h, 0)

	if got := string(recv(t, slow)); got != "one" {
		t.Errorf("buffered message = %q, want one", got)
	}
	// Channel was closed by the hub.
	if _, ok := <-slow.send; ok {
		t.Error("slow client send channel should be closed")
	}
}

func TestHubUnregister(t *testing.T) {
	h := New("test")
	go h.Run()

	c := fakeClient(h, 4)
	waitForClients(t, h, 1)

	h.unregister <- c
	waitForClients(t, h, 0)
}

func TestNotifierEvents(t *testing.T) {
	h := New("test")
	go h.Run()

	c := fakeClient(h, 8)
	waitForClients(t, h, 1)

	n := NewNotifier(h)
	snap := call.Snapshot{CallSid: "CA1", Restaurant: "Bella Napoli", Exchanges: 2}

	n.CallStarted(snap)
	n.Turn("CA1", llm.Exchange{User: "bonjour", Assistant: "bonsoir"})
	n.CallEnded(snap)

	wantTypes := []string{EventCallStarted, EventTurn, EventCallEnded}
	for _, wantType := range wantTypes {
		var ev Event
		if err := json.Unmarshal(recv(t, c), &ev); err != nil {
			t.Fatalf("event is not JSON: %v", err)
		}
		if ev.Type != wantType {
			t.Errorf("event type = %q, want %q", ev.Type, wantType)
		}
		switch wantType {
		case EventTurn:
			if ev.User != "bonjour" || ev.Assistant != "bonsoir" {
				t.Errorf("turn event = %+v", ev)
			}
		default:
			if ev.Call == nil || ev.Call.CallSid != "CA1" {
				t.Errorf("%s event missing call snapshot: %+v", wantType, ev)
			}
		}
	}
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), want)
}
