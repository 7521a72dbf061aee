package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ordelio/go-ordelio/internal/metrics"
	"github.com/ordelio/go-ordelio/pkg/llm"
	"github.com/ordelio/go-ordelio/pkg/prompt"
	"github.com/ordelio/go-ordelio/pkg/stt"
	"github.com/ordelio/go-ordelio/pkg/telephony"
	"github.com/ordelio/go-ordelio/pkg/tts"
)

// TextMessage is the WebSocket text frame type. Media stream events are
// always text frames.
const TextMessage = 1

// Conn is the transport half the coordinator speaks over. Both gorilla
// and fiber WebSocket connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// CallContext is everything resolved about a call before the first turn.
type CallContext struct {
	Restaurant *prompt.Restaurant

	// System is the assembled per-restaurant context prompt.
	System string
}

// Resolver maps the called number to a restaurant and its context.
type Resolver interface {
	Resolve(ctx context.Context, calledNumber string) (*CallContext, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, calledNumber string) (*CallContext, error)

func (f ResolverFunc) Resolve(ctx context.Context, calledNumber string) (*CallContext, error) {
	return f(ctx, calledNumber)
}

// InputOpener opens a streaming synthesis input for the low-latency turn
// path, where completion fragments are fed in while audio flows back out.
type InputOpener interface {
	OpenInput(ctx context.Context) (*tts.InputStream, error)
}

// Recorder persists the transcript of a finished call.
type Recorder interface {
	RecordCall(ctx context.Context, sess *Session) error
}

// Events receives call lifecycle notifications for live monitoring.
// All methods must return quickly; they run on the call goroutine.
type Events interface {
	CallStarted(snap Snapshot)
	Turn(callSid string, ex llm.Exchange)
	CallEnded(snap Snapshot)
}

// Config tunes the conversation loop.
type Config struct {
	// SegmentBytes is the accumulation threshold before transcription.
	SegmentBytes int

	// ReceiveTimeout bounds each read on the stream socket. A timeout is
	// retried, not fatal; callers can stay silent for a while.
	ReceiveTimeout time.Duration

	// MinTranscriptChars drops transcripts shorter than this many
	// characters as noise.
	MinTranscriptChars int

	// ArtifactPatterns drop transcripts matching known hallucination
	// artifacts some transcription models emit on silence.
	ArtifactPatterns []*regexp.Regexp

	// HistoryWindow is how many recent exchanges ride on each request.
	HistoryWindow int

	// FragmentWords is the word budget for completion fragments on the
	// streaming path.
	FragmentWords int

	// Welcome is spoken when the call starts. A %s verb receives the
	// restaurant name.
	Welcome string

	// Apology is spoken when completion fails mid-turn.
	Apology string

	// Language hint passed to transcription.
	Language string

	// Streaming selects the fragment-by-fragment turn path.
	Streaming bool
}

// DefaultConfig returns the standard loop tuning.
func DefaultConfig() *Config {
	return &Config{
		SegmentBytes:       DefaultSegmentBytes,
		ReceiveTimeout:     30 * time.Second,
		MinTranscriptChars: 3,
		ArtifactPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)sous-titrage`),
			regexp.MustCompile(`(?i)subtitles? by`),
		},
		HistoryWindow: 3,
		FragmentWords: llm.DefaultFragmentWords,
		Welcome:       "%s bonsoir ! Vous souhaitez commander à emporter ou en livraison ?",
		Apology:       "Désolé, le service est momentanément indisponible. Pouvez-vous répéter ?",
		Language:      "fr",
		Streaming:     true,
	}
}

// Deps wires a Coordinator. Input, Metrics, Events and Recorder are
// optional.
type Deps struct {
	Config   *Config
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Input    InputOpener
	Resolver Resolver
	Registry *Registry
	Metrics  *metrics.Metrics
	Events   Events
	Recorder Recorder
}

// Coordinator drives one conversation turn at a time for each call:
// accumulate, transcribe, complete, synthesize, send. One goroutine per
// call; a single Coordinator serves all calls.
type Coordinator struct {
	config   *Config
	stt      stt.Provider
	llm      llm.Provider
	tts      tts.Provider
	input    InputOpener
	resolver Resolver
	registry *Registry
	metrics  *metrics.Metrics
	events   Events
	recorder Recorder
	logger   *slog.Logger
}

// NewCoordinator validates dependencies and creates a coordinator.
func NewCoordinator(d Deps) (*Coordinator, error) {
	if d.STT == nil || d.LLM == nil || d.TTS == nil {
		return nil, errors.New("call: stt, llm and tts providers are required")
	}
	if d.Resolver == nil {
		return nil, errors.New("call: resolver is required")
	}
	if d.Registry == nil {
		return nil, errors.New("call: registry is required")
	}
	cfg := d.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Coordinator{
		config:   cfg,
		stt:      d.STT,
		llm:      d.LLM,
		tts:      d.TTS,
		input:    d.Input,
		resolver: d.Resolver,
		registry: d.Registry,
		metrics:  d.Metrics,
		events:   d.Events,
		recorder: d.Recorder,
		logger:   slog.Default().With("component", "call.coordinator"),
	}, nil
}

// Handle runs the full lifecycle of one call on the caller's goroutine:
// await the start event, resolve the restaurant, speak the welcome, then
// loop turns until stop or disconnect. The session is always unregistered
// on return, whatever path got there.
func (c *Coordinator) Handle(ctx context.Context, conn Conn) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("call handler panic", "panic", r)
		}
	}()

	start, err := c.awaitStart(conn)
	if err != nil {
		return err
	}

	logger := c.logger.With("call_sid", start.CallSid)

	cc, err := c.resolver.Resolve(ctx, start.CustomParams["called"])
	if err != nil {
		logger.Error("restaurant resolution failed",
			"called", start.CustomParams["called"],
			"error", err,
		)
		return fmt.Errorf("resolve restaurant: %w", err)
	}

	sess := NewSession(start.CallSid, start.StreamSid, cc.Restaurant.ID, cc.Restaurant.Name)
	c.registry.Register(sess)
	if c.metrics != nil {
		c.metrics.ActiveCalls.Inc()
		c.metrics.CallsStarted.Inc()
	}
	if c.events != nil {
		c.events.CallStarted(sess.Snapshot())
	}
	defer c.teardown(sess, logger)

	logger.Info("call started", "restaurant", cc.Restaurant.Name)

	if !c.speak(ctx, conn, sess, c.welcomeText(cc.Restaurant.Name), logger) {
		logger.Warn("welcome synthesis failed, continuing without greeting")
	}

	acc := NewAccumulator(c.config.SegmentBytes)
	for {
		data, err := c.read(conn)
		if err != nil {
			if isTimeout(err) {
				logger.Debug("receive timeout, waiting for caller")
				continue
			}
			logger.Info("stream disconnected", "error", err)
			return nil
		}

		ev, err := telephony.ParseEvent(data)
		if err != nil {
			logger.Warn("unparseable stream event", "error", err)
			continue
		}

		switch {
		case ev.Event == telephony.EventStop:
			logger.Info("stop event received")
			return nil

		case ev.Inbound():
			audio, err := ev.Audio()
			if err != nil {
				logger.Warn("bad media payload", "error", err)
				continue
			}
			if seg := acc.Accept(audio); seg != nil {
				c.runTurn(ctx, conn, sess, cc, seg, logger)
			}
		}
	}
}

// awaitStart reads until the start event arrives. Media before start is
// discarded; stop or disconnect before start aborts the call.
func (c *Coordinator) awaitStart(conn Conn) (*telephony.StartPayload, error) {
	for {
		data, err := c.read(conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, fmt.Errorf("stream closed before start: %w", err)
		}

		ev, err := telephony.ParseEvent(data)
		if err != nil {
			c.logger.Warn("unparseable stream event before start", "error", err)
			continue
		}

		switch ev.Event {
		case telephony.EventStart:
			if ev.Start == nil {
				return nil, errors.New("start event without payload")
			}
			return ev.Start, nil
		case telephony.EventStop:
			return nil, errors.New("stream stopped before start")
		}
	}
}

// read performs one deadline-bounded read.
func (c *Coordinator) read(conn Conn) ([]byte, error) {
	if c.config.ReceiveTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.config.ReceiveTimeout))
	}
	_, data, err := conn.ReadMessage()
	return data, err
}

// runTurn executes one full turn for a completed audio segment. Provider
// failures never abort the call: transcription errors skip the turn,
// completion errors get the spoken apology, synthesis errors end the turn
// silently with the exchange already recorded.
func (c *Coordinator) runTurn(ctx context.Context, conn Conn, sess *Session, cc *CallContext, seg *Segment, logger *slog.Logger) {
	turnStart := time.Now()

	if c.metrics != nil {
		c.metrics.SegmentsTranscribed.Inc()
	}
	text, err := c.stt.Transcribe(ctx, stt.Telephony(seg.Data, c.config.Language))
	if err != nil {
		c.providerFailure("stt")
		logger.Warn("transcription failed", "error", err, "segment_bytes", len(seg.Data))
		return
	}

	text = strings.TrimSpace(text)
	if !c.usable(text) {
		if c.metrics != nil {
			c.metrics.TranscriptsDropped.Inc()
		}
		logger.Debug("transcript dropped", "text", text)
		return
	}

	logger.Info("caller", "text", text)

	req := &llm.Request{
		System:  cc.System,
		History: sess.History(c.config.HistoryWindow),
		Prompt:  text,
		Thread:  sess.Thread(),
	}

	var reply string
	var ok bool
	if c.config.Streaming {
		reply, ok = c.streamReply(ctx, conn, sess, req, logger)
	} else {
		reply, ok = c.completeReply(ctx, conn, sess, req, logger)
	}

	if !ok {
		c.providerFailure("llm")
		logger.Warn("completion failed, speaking apology")
		c.speak(ctx, conn, sess, c.config.Apology, logger)
		reply = c.config.Apology
	}

	ex := llm.Exchange{User: text, Assistant: reply}
	sess.Record(ex)
	if c.events != nil {
		c.events.Turn(sess.CallSid, ex)
	}
	if c.metrics != nil {
		c.metrics.TurnsTotal.Inc()
		c.metrics.TurnDuration.Observe(time.Since(turnStart).Seconds())
	}
	logger.Info("assistant", "text", reply, "turn_ms", time.Since(turnStart).Milliseconds())
}

// completeReply runs the non-streaming path: one completion, one
// synthesis, one send.
func (c *Coordinator) completeReply(ctx context.Context, conn Conn, sess *Session, req *llm.Request, logger *slog.Logger) (string, bool) {
	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		logger.Warn("completion request failed", "error", err)
		return "", false
	}
	sess.SetThread(resp.Thread)

	c.speak(ctx, conn, sess, resp.Text, logger)
	return resp.Text, true
}

// streamReply runs the low-latency path: completion deltas are regrouped
// into phrase fragments and synthesized while the reply is still being
// generated. The joined text is what gets recorded.
func (c *Coordinator) streamReply(ctx context.Context, conn Conn, sess *Session, req *llm.Request, logger *slog.Logger) (string, bool) {
	stream, err := c.llm.Stream(ctx, req)
	if err != nil {
		logger.Warn("completion stream failed", "error", err)
		return "", false
	}

	frag := llm.NewFragmenter(stream, c.config.FragmentWords)
	defer frag.Close()

	if c.input != nil {
		c.streamThroughInput(ctx, conn, sess, frag, logger)
	} else {
		c.streamPerFragment(ctx, conn, sess, frag, logger)
	}

	full := frag.Full()
	if full == "" {
		return "", false
	}
	return full, true
}

// streamThroughInput feeds fragments into a live synthesis input stream
// while a reader goroutine forwards audio chunks to the caller.
func (c *Coordinator) streamThroughInput(ctx context.Context, conn Conn, sess *Session, frag *llm.Fragmenter, logger *slog.Logger) {
	in, err := c.input.OpenInput(ctx)
	if err != nil {
		c.providerFailure("tts")
		logger.Warn("synthesis input stream failed, falling back", "error", err)
		c.streamPerFragment(ctx, conn, sess, frag, logger)
		return
	}
	defer in.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			chunk, err := in.Read()
			if err != nil {
				c.providerFailure("tts")
				logger.Warn("synthesis stream read failed", "error", err)
				return
			}
			if chunk == nil {
				return
			}
			if err := c.sendAudio(conn, sess, chunk); err != nil {
				logger.Warn("audio send failed", "error", err)
				return
			}
		}
	}()

	for {
		text, err := frag.Next()
		if err != nil {
			logger.Warn("completion stream broke mid-reply", "error", err)
			break
		}
		if text == "" {
			break
		}
		if err := in.Send(text); err != nil {
			c.providerFailure("tts")
			logger.Warn("synthesis input send failed", "error", err)
			break
		}
	}

	if err := in.Finish(); err != nil {
		logger.Warn("synthesis input finish failed", "error", err)
	}
	<-done
}

// streamPerFragment synthesizes each fragment with a standalone request.
func (c *Coordinator) streamPerFragment(ctx context.Context, conn Conn, sess *Session, frag *llm.Fragmenter, logger *slog.Logger) {
	for {
		text, err := frag.Next()
		if err != nil {
			logger.Warn("completion stream broke mid-reply", "error", err)
			return
		}
		if text == "" {
			return
		}
		c.speak(ctx, conn, sess, text, logger)
	}
}

// speak synthesizes text and sends the audio. Failures are logged and
// absorbed so a broken synthesis never kills the call.
func (c *Coordinator) speak(ctx context.Context, conn Conn, sess *Session, text string, logger *slog.Logger) bool {
	res, err := c.tts.Synthesize(ctx, text)
	if err != nil {
		c.providerFailure("tts")
		logger.Warn("synthesis failed", "error", err)
		return false
	}
	if err := c.sendAudio(conn, sess, res.Audio); err != nil {
		logger.Warn("audio send failed", "error", err)
		return false
	}
	return true
}

// sendAudio wraps audio in a media event and writes it to the stream.
func (c *Coordinator) sendAudio(conn Conn, sess *Session, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	msg, err := telephony.NewMediaMessage(sess.StreamSid, audio)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(TextMessage, msg); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.AudioFramesSent.Inc()
		c.metrics.AudioBytesSent.Add(float64(len(audio)))
	}
	return nil
}

// usable filters transcripts that should not reach the completion
// provider: too short to be speech, or known silence artifacts.
func (c *Coordinator) usable(text string) bool {
	if utf8.RuneCountInString(text) < c.config.MinTranscriptChars {
		return false
	}
	for _, p := range c.config.ArtifactPatterns {
		if p.MatchString(text) {
			return false
		}
	}
	return true
}

// welcomeText formats the greeting with the restaurant name.
func (c *Coordinator) welcomeText(name string) string {
	if strings.Contains(c.config.Welcome, "%s") {
		return fmt.Sprintf(c.config.Welcome, name)
	}
	return c.config.Welcome
}

// teardown unregisters the session, persists the transcript and records
// final call metrics.
func (c *Coordinator) teardown(sess *Session, logger *slog.Logger) {
	c.registry.Unregister(sess.CallSid)
	if c.recorder != nil && sess.Exchanges() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.RecordCall(ctx, sess); err != nil {
			logger.Warn("transcript persistence failed", "error", err)
		}
	}
	if c.metrics != nil {
		c.metrics.ActiveCalls.Dec()
		c.metrics.CallsCompleted.Inc()
		c.metrics.CallDuration.Observe(sess.Duration().Seconds())
	}
	if c.events != nil {
		c.events.CallEnded(sess.Snapshot())
	}
	logger.Info("call ended",
		"duration_s", int(sess.Duration().Seconds()),
		"exchanges", sess.Exchanges(),
	)
}

func (c *Coordinator) providerFailure(stage string) {
	if c.metrics != nil {
		c.metrics.ProviderFailures.WithLabelValues(stage).Inc()
	}
}

// isTimeout reports whether a read failed only because the deadline
// passed.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
