package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ordelio/go-ordelio/internal/httpc"
)

const (
	elevenLabsWSBaseURL  = "wss://api.elevenlabs.io/v1/text-to-speech"
	providerElevenLabsWS = "elevenlabs_ws"
	wsHandshakeTimeout   = 10 * time.Second
)

// ElevenLabsWS implements Provider over the ElevenLabs stream-input
// WebSocket. Text can be fed incrementally (one completion fragment at a
// time) while audio chunks arrive on the returned stream, which keeps
// time-to-first-audio low during a streamed turn. Each synthesis opens its
// own connection, so the provider is safe for concurrent call sessions.
type ElevenLabsWS struct {
	config *Config
	logger *slog.Logger
}

// NewElevenLabsWS creates a WebSocket-based ElevenLabs TTS provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	return &ElevenLabsWS{
		config: cfg,
		logger: cfg.Logger.With("component", "tts.elevenlabs_ws"),
	}, nil
}

// Synthesize converts text to audio over a fresh WebSocket connection.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	stream, err := e.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var audio []byte
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		audio = append(audio, chunk...)
	}

	return &AudioResult{
		Audio:     audio,
		Format:    stream.Format(),
		CharCount: len(text),
		LatencyMs: time.Since(start).Milliseconds(),
		Duration:  EstimateDuration(e.config.OutputFormat, len(audio)),
	}, nil
}

// Stream synthesizes text and returns audio chunks as they arrive.
func (e *ElevenLabsWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	input, err := e.OpenInput(ctx)
	if err != nil {
		return nil, err
	}

	if err := input.Send(text); err != nil {
		input.Close()
		return nil, err
	}
	if err := input.Finish(); err != nil {
		input.Close()
		return nil, err
	}

	return input, nil
}

// OpenInput dials the stream-input endpoint and returns an InputStream.
// Callers feed text fragments with Send, signal end of input with Finish,
// and read audio with Read until it returns nil.
func (e *ElevenLabsWS) OpenInput(ctx context.Context) (*InputStream, error) {
	wsURL := fmt.Sprintf("%s/%s/stream-input?model_id=%s&output_format=%s",
		elevenLabsWSBaseURL, e.config.VoiceID, e.config.ModelID,
		url.QueryEscape(string(e.config.OutputFormat)))

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, WrapError(providerElevenLabsWS,
				fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return nil, WrapError(providerElevenLabsWS, fmt.Errorf("websocket dial failed: %w", err))
	}

	// Begin-of-stream message carries the voice settings.
	bos := map[string]interface{}{
		"text": " ",
		"voice_settings": map[string]interface{}{
			"stability":        e.config.VoiceSettings.Stability,
			"similarity_boost": e.config.VoiceSettings.SimilarityBoost,
		},
	}
	if err := conn.WriteJSON(bos); err != nil {
		conn.Close()
		return nil, WrapError(providerElevenLabsWS, fmt.Errorf("send BOS: %w", err))
	}

	bitDepth := 16
	if e.config.OutputFormat == EncodingULaw {
		bitDepth = 8
	}

	return &InputStream{
		conn: conn,
		format: AudioFormat{
			Encoding:   e.config.OutputFormat,
			SampleRate: SampleRateFromEncoding(e.config.OutputFormat),
			Channels:   1,
			BitDepth:   bitDepth,
		},
		readTimeout: e.config.StreamTimeout,
		logger:      e.logger,
	}, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", elevenLabsBaseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabsWS, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := httpc.NewClient(e.config.Timeout).Do(req)
	if err != nil {
		return WrapError(providerElevenLabsWS, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Provider: providerElevenLabsWS}
	}
	return nil
}

// Close releases resources. Connections are per-stream, so nothing to do.
func (e *ElevenLabsWS) Close() error {
	return nil
}

// InputStream is a live stream-input connection: text in, audio out.
// It implements AudioStream for the reading half.
type InputStream struct {
	conn        *websocket.Conn
	format      AudioFormat
	readTimeout time.Duration
	logger      *slog.Logger
	closed      bool
	finished    bool
}

// wsAudioEvent is the server message format.
type wsAudioEvent struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
}

// Send feeds a text fragment into the synthesis stream.
func (s *InputStream) Send(text string) error {
	if s.closed {
		return ErrStreamClosed
	}
	if text == "" {
		return nil
	}
	msg := map[string]interface{}{
		"text":                   text + " ",
		"try_trigger_generation": true,
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return WrapError(providerElevenLabsWS, fmt.Errorf("send text: %w", err))
	}
	return nil
}

// Finish signals end of input. Audio continues to arrive until Read
// returns nil.
func (s *InputStream) Finish() error {
	if s.closed || s.finished {
		return nil
	}
	s.finished = true
	if err := s.conn.WriteJSON(map[string]interface{}{"text": ""}); err != nil {
		return WrapError(providerElevenLabsWS, fmt.Errorf("send EOS: %w", err))
	}
	return nil
}

// Read returns the next audio chunk, nil when the stream is complete.
func (s *InputStream) Read() ([]byte, error) {
	if s.closed {
		return nil, nil
	}

	for {
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || err == io.EOF {
				return nil, nil
			}
			return nil, WrapError(providerElevenLabsWS, fmt.Errorf("read: %w", err))
		}

		var event wsAudioEvent
		if err := json.Unmarshal(message, &event); err != nil {
			// Skip malformed events
			continue
		}

		if event.Error != "" {
			return nil, WrapError(providerElevenLabsWS, fmt.Errorf("server error: %s", event.Error))
		}

		if event.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(event.Audio)
			if err != nil {
				return nil, WrapError(providerElevenLabsWS, fmt.Errorf("decode audio: %w", err))
			}
			return chunk, nil
		}

		if event.IsFinal {
			return nil, nil
		}
	}
}

// Close terminates the connection.
func (s *InputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// Format returns the audio format metadata.
func (s *InputStream) Format() AudioFormat {
	return s.format
}
