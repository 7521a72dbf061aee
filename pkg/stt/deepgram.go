package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ordelio/go-ordelio/internal/httpc"
)

const (
	deepgramBaseURL  = "https://api.deepgram.com/v1"
	providerDeepgram = "deepgram"
)

// Deepgram model options
const (
	ModelNova2 = "nova-2"
	ModelNova3 = "nova-3"
)

// Deepgram implements Provider for the Deepgram prerecorded API.
// Raw mu-law is submitted directly; the codec travels as query parameters.
type Deepgram struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewDeepgram creates a new Deepgram transcription provider.
func NewDeepgram(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	cfg.Model = ModelNova2
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = deepgramBaseURL
	}

	return &Deepgram{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.deepgram"),
		baseURL: baseURL,
	}, nil
}

// Transcribe converts an audio segment to text.
func (d *Deepgram) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", WrapError(providerDeepgram, ErrEmptyAudio)
	}

	start := time.Now()

	params := url.Values{}
	params.Set("model", d.config.Model)
	params.Set("encoding", string(audio.Encoding))
	params.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	params.Set("channels", strconv.Itoa(audio.Channels))
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	if audio.Language != "" {
		params.Set("language", audio.Language)
	}

	endpoint := d.baseURL + "/listen?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(audio.Data))
	if err != nil {
		return "", WrapError(providerDeepgram, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Authorization", "Token "+d.config.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", WrapError(providerDeepgram, fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", d.parseError(resp)
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", WrapError(providerDeepgram, fmt.Errorf("decode response: %w", err))
	}

	var text string
	if len(result.Results.Channels) > 0 && len(result.Results.Channels[0].Alternatives) > 0 {
		text = strings.TrimSpace(result.Results.Channels[0].Alternatives[0].Transcript)
	}

	d.logger.Debug("transcribed segment",
		"bytes", len(audio.Data),
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return text, nil
}

// Health checks API connectivity and API key validity.
func (d *Deepgram) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", d.baseURL+"/projects", nil)
	if err != nil {
		return WrapError(providerDeepgram, err)
	}
	req.Header.Set("Authorization", "Token "+d.config.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return WrapError(providerDeepgram, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return d.parseError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (d *Deepgram) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func (d *Deepgram) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		ErrMsg string `json:"err_msg"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.ErrMsg != "" {
		message = errResp.ErrMsg
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerDeepgram,
	}
}
