package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ordelio/go-ordelio/pkg/llm"
	"github.com/ordelio/go-ordelio/pkg/prompt"
	"github.com/ordelio/go-ordelio/pkg/stt"
	"github.com/ordelio/go-ordelio/pkg/telephony"
	"github.com/ordelio/go-ordelio/pkg/tts"
)

// testConn replays scripted inbound messages and captures writes. When
// the script runs out it reports a disconnect.
type testConn struct {
	mu       sync.Mutex
	incoming [][]byte
	writes   [][]byte
}

func (c *testConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.incoming) == 0 {
		return 0, nil, io.EOF
	}
	msg := c.incoming[0]
	c.incoming = c.incoming[1:]
	return TextMessage, msg, nil
}

func (c *testConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *testConn) SetReadDeadline(t time.Time) error { return nil }
func (c *testConn) Close() error                      { return nil }

// sentAudio decodes every outbound media message payload.
func (c *testConn) sentAudio(t *testing.T) [][]byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]byte
	for _, w := range c.writes {
		ev, err := telephony.ParseEvent(w)
		if err != nil {
			t.Fatalf("outbound message is not a stream event: %v", err)
		}
		if ev.Event != telephony.EventMedia {
			continue
		}
		audio, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
		if err != nil {
			t.Fatalf("outbound payload is not base64: %v", err)
		}
		out = append(out, audio)
	}
	return out
}

func startEvent(callSid string) []byte {
	data, _ := json.Marshal(telephony.Event{
		Event:     telephony.EventStart,
		StreamSid: "MZ-" + callSid,
		Start: &telephony.StartPayload{
			StreamSid:    "MZ-" + callSid,
			CallSid:      callSid,
			Tracks:       []string{telephony.TrackInbound},
			MediaFormat:  telephony.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
			CustomParams: telephony.CustomParams{"called": "+33123456789"},
		},
	})
	return data
}

func mediaEvent(n int) []byte {
	data, _ := json.Marshal(telephony.Event{
		Event: telephony.EventMedia,
		Media: &telephony.MediaPayload{
			Track:   telephony.TrackInbound,
			Payload: base64.StdEncoding.EncodeToString(make([]byte, n)),
		},
	})
	return data
}

func stopEvent(callSid string) []byte {
	data, _ := json.Marshal(telephony.Event{
		Event: telephony.EventStop,
		Stop:  &telephony.StopPayload{CallSid: callSid},
	})
	return data
}

// recordingEvents captures lifecycle notifications.
type recordingEvents struct {
	mu      sync.Mutex
	started []Snapshot
	ended   []Snapshot
	turns   []llm.Exchange
}

func (e *recordingEvents) CallStarted(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, snap)
}

func (e *recordingEvents) CallEnded(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, snap)
}

func (e *recordingEvents) Turn(callSid string, ex llm.Exchange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, ex)
}

func (e *recordingEvents) Turns() []llm.Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]llm.Exchange(nil), e.turns...)
}

func testResolver() Resolver {
	return ResolverFunc(func(ctx context.Context, called string) (*CallContext, error) {
		return &CallContext{
			Restaurant: &prompt.Restaurant{ID: "rest-1", Name: "Bella Napoli", Phone: called},
			System:     "Tu es l'assistant téléphonique du restaurant Bella Napoli.",
		}, nil
	})
}

type deps struct {
	stt    *stt.Mock
	llm    *llm.Mock
	tts    *tts.Mock
	events *recordingEvents
	reg    *Registry
	conn   *testConn
	coord  *Coordinator
}

func newTestDeps(t *testing.T, cfg *Config, incoming ...[]byte) *deps {
	t.Helper()

	d := &deps{
		stt:    stt.NewMock("Je voudrais une pizza margherita"),
		llm:    llm.NewMock("Très bien, une margherita. Quelle taille ?"),
		tts:    tts.NewMock(),
		events: &recordingEvents{},
		reg:    NewRegistry(),
		conn:   &testConn{incoming: incoming},
	}

	coord, err := NewCoordinator(Deps{
		Config:   cfg,
		STT:      d.stt,
		LLM:      d.llm,
		TTS:      d.tts,
		Resolver: testResolver(),
		Registry: d.reg,
		Events:   d.events,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	d.coord = coord
	return d
}

func turnConfig(segmentBytes int, streaming bool) *Config {
	cfg := DefaultConfig()
	cfg.SegmentBytes = segmentBytes
	cfg.Streaming = streaming
	return cfg
}

func TestHandleTurn(t *testing.T) {
	d := newTestDeps(t, turnConfig(32000, false),
		startEvent("CA1"),
		mediaEvent(12000),
		mediaEvent(12000),
		mediaEvent(12000),
		stopEvent("CA1"),
	)

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// One segment of all 36000 buffered bytes crosses the 32000 threshold.
	if got := d.stt.CallCount("Transcribe"); got != 1 {
		t.Fatalf("Transcribe calls = %d, want 1", got)
	}
	if got := d.stt.Calls()[0].Bytes; got != 36000 {
		t.Errorf("transcribed segment = %d bytes, want 36000", got)
	}

	if got := d.llm.CallCount("Complete"); got != 1 {
		t.Errorf("Complete calls = %d, want 1", got)
	}

	// Welcome plus reply.
	ttsCalls := d.tts.Calls()
	if len(ttsCalls) != 2 {
		t.Fatalf("Synthesize calls = %d, want 2", len(ttsCalls))
	}
	if ttsCalls[0].Text != "Bella Napoli bonsoir ! Vous souhaitez commander à emporter ou en livraison ?" {
		t.Errorf("welcome = %q", ttsCalls[0].Text)
	}
	if ttsCalls[1].Text != "Très bien, une margherita. Quelle taille ?" {
		t.Errorf("reply = %q", ttsCalls[1].Text)
	}

	if got := len(d.conn.sentAudio(t)); got != 2 {
		t.Errorf("outbound media messages = %d, want 2", got)
	}

	turns := d.events.Turns()
	if len(turns) != 1 {
		t.Fatalf("turn events = %d, want 1", len(turns))
	}
	if turns[0].User != "Je voudrais une pizza margherita" {
		t.Errorf("turn user = %q", turns[0].User)
	}

	if d.reg.Count() != 0 {
		t.Errorf("registry count after teardown = %d, want 0", d.reg.Count())
	}
	if len(d.events.ended) != 1 {
		t.Errorf("call ended events = %d, want 1", len(d.events.ended))
	}
}

func TestHandleDropsArtifacts(t *testing.T) {
	cases := []struct {
		name       string
		transcript string
	}{
		{"subtitle artifact", "Sous-titrage ST' 501"},
		{"english artifact", "Subtitles by the Amara.org community"},
		{"too short", "eh"},
		{"whitespace only", "   "},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := newTestDeps(t, turnConfig(1000, false),
				startEvent("CA1"),
				mediaEvent(1000),
				stopEvent("CA1"),
			)
			d.stt.Text = c.transcript

			if err := d.coord.Handle(context.Background(), d.conn); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := d.llm.CallCount("Complete"); got != 0 {
				t.Errorf("Complete calls = %d, want 0 for dropped transcript", got)
			}
			if got := len(d.events.Turns()); got != 0 {
				t.Errorf("turn events = %d, want 0", got)
			}
			// Only the welcome reaches synthesis.
			if got := d.tts.CallCount("Synthesize"); got != 1 {
				t.Errorf("Synthesize calls = %d, want 1", got)
			}
		})
	}
}

func TestHandleCompletionFailure(t *testing.T) {
	d := newTestDeps(t, turnConfig(1000, false),
		startEvent("CA1"),
		mediaEvent(1000),
		stopEvent("CA1"),
	)
	failing := llm.WithError(errors.New("model overloaded"))
	d.coord.llm = failing

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// The caller hears the apology and the exchange survives in history.
	ttsCalls := d.tts.Calls()
	if len(ttsCalls) != 2 {
		t.Fatalf("Synthesize calls = %d, want welcome plus apology", len(ttsCalls))
	}
	apology := DefaultConfig().Apology
	if ttsCalls[1].Text != apology {
		t.Errorf("spoken text = %q, want apology", ttsCalls[1].Text)
	}

	turns := d.events.Turns()
	if len(turns) != 1 {
		t.Fatalf("turn events = %d, want 1", len(turns))
	}
	if turns[0].Assistant != apology {
		t.Errorf("recorded assistant = %q, want apology", turns[0].Assistant)
	}
	if turns[0].User != "Je voudrais une pizza margherita" {
		t.Errorf("recorded user = %q", turns[0].User)
	}
}

func TestHandleSynthesisFailure(t *testing.T) {
	d := newTestDeps(t, turnConfig(1000, false),
		startEvent("CA1"),
		mediaEvent(1000),
		stopEvent("CA1"),
	)
	d.coord.tts = tts.WithError(errors.New("voice service down"))

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// No audio goes out but the exchange is still recorded.
	if got := len(d.conn.sentAudio(t)); got != 0 {
		t.Errorf("outbound media messages = %d, want 0", got)
	}
	turns := d.events.Turns()
	if len(turns) != 1 {
		t.Fatalf("turn events = %d, want 1", len(turns))
	}
	if turns[0].Assistant != "Très bien, une margherita. Quelle taille ?" {
		t.Errorf("recorded assistant = %q", turns[0].Assistant)
	}
}

func TestHandleTranscriptionFailure(t *testing.T) {
	d := newTestDeps(t, turnConfig(1000, false),
		startEvent("CA1"),
		mediaEvent(1000),
		stopEvent("CA1"),
	)
	d.coord.stt = stt.WithError(errors.New("upstream 500"))

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := d.llm.CallCount("Complete"); got != 0 {
		t.Errorf("Complete calls = %d, want 0 after failed transcription", got)
	}
	if d.reg.Count() != 0 {
		t.Error("session should be unregistered")
	}
}

func TestHandleHistoryWindow(t *testing.T) {
	incoming := [][]byte{startEvent("CA1")}
	for i := 0; i < 5; i++ {
		incoming = append(incoming, mediaEvent(1000))
	}
	incoming = append(incoming, stopEvent("CA1"))

	d := newTestDeps(t, turnConfig(1000, false), incoming...)

	var n int
	var mu sync.Mutex
	d.stt.TranscribeFunc = func(ctx context.Context, audio stt.Audio) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("message numéro %d", n), nil
	}

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	var completes []llm.MockCall
	for _, c := range d.llm.Calls() {
		if c.Method == "Complete" {
			completes = append(completes, c)
		}
	}
	if len(completes) != 5 {
		t.Fatalf("Complete calls = %d, want 5", len(completes))
	}

	// The fifth request carries only the three most recent exchanges.
	last := completes[4]
	if len(last.History) != 3 {
		t.Fatalf("history window = %d exchanges, want 3", len(last.History))
	}
	if last.History[0].User != "message numéro 2" || last.History[2].User != "message numéro 4" {
		t.Errorf("history = %v, want exchanges 2..4 oldest first", last.History)
	}
	if last.Prompt != "message numéro 5" {
		t.Errorf("prompt = %q, want message numéro 5", last.Prompt)
	}
}

func TestHandleStreamingTurn(t *testing.T) {
	d := newTestDeps(t, turnConfig(1000, true),
		startEvent("CA1"),
		mediaEvent(1000),
		stopEvent("CA1"),
	)
	d.llm.Text = "Bien sûr. Quelle taille pour votre pizza ?"

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// Fragments are synthesized as they are cut: sentence end, word
	// budget, remainder. Plus the welcome.
	var texts []string
	for _, c := range d.tts.Calls() {
		if c.Method == "Synthesize" {
			texts = append(texts, c.Text)
		}
	}
	want := []string{
		"Bella Napoli bonsoir ! Vous souhaitez commander à emporter ou en livraison ?",
		"Bien sûr.",
		"Quelle taille pour votre",
		"pizza ?",
	}
	if len(texts) != len(want) {
		t.Fatalf("Synthesize calls = %v, want %v", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("fragment %d = %q, want %q", i, texts[i], want[i])
		}
	}

	// The recorded exchange carries the joined reply, not the fragments.
	turns := d.events.Turns()
	if len(turns) != 1 {
		t.Fatalf("turn events = %d, want 1", len(turns))
	}
	if turns[0].Assistant != "Bien sûr. Quelle taille pour votre pizza ?" {
		t.Errorf("recorded assistant = %q", turns[0].Assistant)
	}
}

func TestHandleThreadRoundTrip(t *testing.T) {
	d := newTestDeps(t, turnConfig(1000, false),
		startEvent("CA1"),
		mediaEvent(1000),
		mediaEvent(1000),
		stopEvent("CA1"),
	)

	var mu sync.Mutex
	var threads []string
	d.llm.CompleteFunc = func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		threads = append(threads, req.Thread)
		return &llm.Response{Text: "D'accord.", Thread: "thread-xyz"}, nil
	}

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(threads) != 2 {
		t.Fatalf("Complete calls = %d, want 2", len(threads))
	}
	if threads[0] != "" {
		t.Errorf("first request thread = %q, want empty", threads[0])
	}
	if threads[1] != "thread-xyz" {
		t.Errorf("second request thread = %q, want thread-xyz round-tripped", threads[1])
	}
}

// recordingRecorder captures transcript persistence calls.
type recordingRecorder struct {
	mu       sync.Mutex
	sessions []*Session
}

func (r *recordingRecorder) RecordCall(ctx context.Context, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sess)
	return nil
}

func TestHandleRecordsTranscript(t *testing.T) {
	t.Run("persists after a turn", func(t *testing.T) {
		d := newTestDeps(t, turnConfig(1000, false),
			startEvent("CA1"),
			mediaEvent(1000),
			stopEvent("CA1"),
		)
		rec := &recordingRecorder{}
		d.coord.recorder = rec

		if err := d.coord.Handle(context.Background(), d.conn); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		if len(rec.sessions) != 1 {
			t.Fatalf("recorded sessions = %d, want 1", len(rec.sessions))
		}
		sess := rec.sessions[0]
		if sess.RestaurantID != "rest-1" || sess.Exchanges() != 1 {
			t.Errorf("recorded session = %s with %d exchanges", sess.RestaurantID, sess.Exchanges())
		}
	})

	t.Run("skips empty calls", func(t *testing.T) {
		d := newTestDeps(t, turnConfig(1000, false),
			startEvent("CA1"),
			stopEvent("CA1"),
		)
		rec := &recordingRecorder{}
		d.coord.recorder = rec

		if err := d.coord.Handle(context.Background(), d.conn); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(rec.sessions) != 0 {
			t.Errorf("recorded sessions = %d, want 0 for a call with no exchanges", len(rec.sessions))
		}
	})
}

func TestHandleStopBeforeStart(t *testing.T) {
	d := newTestDeps(t, turnConfig(1000, false), stopEvent("CA1"))

	if err := d.coord.Handle(context.Background(), d.conn); err == nil {
		t.Error("Handle() = nil error for stop before start")
	}
	if d.reg.Count() != 0 {
		t.Error("no session should have been registered")
	}
}

func TestHandleResolverFailure(t *testing.T) {
	d := newTestDeps(t, turnConfig(1000, false),
		startEvent("CA1"),
		stopEvent("CA1"),
	)
	d.coord.resolver = ResolverFunc(func(ctx context.Context, called string) (*CallContext, error) {
		return nil, errors.New("no restaurant for number")
	})

	if err := d.coord.Handle(context.Background(), d.conn); err == nil {
		t.Error("Handle() = nil error when resolution fails")
	}
	if d.reg.Count() != 0 {
		t.Error("no session should have been registered")
	}
	if got := len(d.conn.sentAudio(t)); got != 0 {
		t.Errorf("outbound media messages = %d, want 0", got)
	}
}

func TestHandleDisconnectTeardown(t *testing.T) {
	// No stop event: the script just runs out, simulating a dropped socket.
	d := newTestDeps(t, turnConfig(1000, false),
		startEvent("CA1"),
		mediaEvent(500),
	)

	if err := d.coord.Handle(context.Background(), d.conn); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if d.reg.Count() != 0 {
		t.Error("session should be unregistered after disconnect")
	}
	if len(d.events.ended) != 1 {
		t.Errorf("call ended events = %d, want 1", len(d.events.ended))
	}
}
