package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ordelio/go-ordelio/internal/httpc"
)

const (
	whisperBaseURL  = "https://api.openai.com/v1"
	providerWhisper = "whisper"
)

// Whisper model options
const (
	ModelWhisper1 = "whisper-1"
)

// Whisper implements Provider for the OpenAI audio transcription API.
// Raw telephony audio is wrapped in a WAV container before upload since
// the endpoint only accepts container formats.
type Whisper struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewWhisper creates a new Whisper transcription provider.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Model = ModelWhisper1
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = whisperBaseURL
	}

	return &Whisper{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.whisper"),
		baseURL: baseURL,
	}, nil
}

// Transcribe converts an audio segment to text.
func (w *Whisper) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", WrapError(providerWhisper, ErrEmptyAudio)
	}

	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(wrapWAV(audio)); err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("write audio: %w", err))
	}

	mw.WriteField("model", w.config.Model)
	if audio.Language != "" {
		mw.WriteField("language", audio.Language)
	}
	mw.WriteField("response_format", "json")

	if err := mw.Close(); err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("close multipart: %w", err))
	}

	url := w.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", w.parseError(resp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("decode response: %w", err))
	}

	text := strings.TrimSpace(result.Text)

	w.logger.Debug("transcribed segment",
		"bytes", len(audio.Data),
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return text, nil
}

// Health checks API connectivity and API key validity.
func (w *Whisper) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", w.baseURL+"/models", nil)
	if err != nil {
		return WrapError(providerWhisper, err)
	}
	req.Header.Set("Authorization", "Bearer "+w.config.APIKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return WrapError(providerWhisper, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return w.parseError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (w *Whisper) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func (w *Whisper) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerWhisper,
	}
}
