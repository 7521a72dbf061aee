package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		encoding Encoding
		byteLen  int
		want     time.Duration
	}{
		{EncodingULaw, 8000, time.Second},
		{EncodingULaw, 4000, 500 * time.Millisecond},
		{EncodingPCM16, 32000, time.Second},
		{EncodingPCM24, 48000, time.Second},
	}

	for _, tt := range tests {
		if got := EstimateDuration(tt.encoding, tt.byteLen); got != tt.want {
			t.Errorf("EstimateDuration(%s, %d) = %v, want %v", tt.encoding, tt.byteLen, got, tt.want)
		}
	}
}

func TestSampleRateFromEncoding(t *testing.T) {
	if got := SampleRateFromEncoding(EncodingULaw); got != 8000 {
		t.Errorf("ulaw rate = %d, want 8000", got)
	}
	if got := SampleRateFromEncoding(EncodingPCM24); got != 24000 {
		t.Errorf("pcm24 rate = %d, want 24000", got)
	}
	if got := SampleRateFromEncoding(Encoding("unknown")); got != 8000 {
		t.Errorf("unknown encoding rate = %d, want telephony default", got)
	}
}

func TestNewElevenLabsValidation(t *testing.T) {
	if _, err := NewElevenLabs(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewElevenLabs() error = %v, want ErrNoAPIKey", err)
	}
	if _, err := NewElevenLabs(WithAPIKey("key")); !errors.Is(err, ErrNoVoiceID) {
		t.Errorf("NewElevenLabs() error = %v, want ErrNoVoiceID", err)
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	audio := make([]byte, 8000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != string(EncodingULaw) {
			t.Errorf("output_format = %q, want %q", got, EncodingULaw)
		}
		if key := r.Header.Get("xi-api-key"); key != "test-key" {
			t.Errorf("api key header = %q", key)
		}
		if accept := r.Header.Get("Accept"); accept != "audio/basic" {
			t.Errorf("accept = %q, want audio/basic for mu-law", accept)
		}

		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["text"] != "Bonsoir !" {
			t.Errorf("text = %v", payload["text"])
		}
		if payload["model_id"] != ModelMultilingualV2 {
			t.Errorf("model_id = %v", payload["model_id"])
		}
		if _, ok := payload["voice_settings"].(map[string]interface{}); !ok {
			t.Error("voice_settings missing from payload")
		}

		w.Write(audio)
	}))
	defer srv.Close()

	provider, err := NewElevenLabs(
		WithAPIKey("test-key"),
		WithVoice("voice-1"),
		WithBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("NewElevenLabs() error = %v", err)
	}
	defer provider.Close()

	result, err := provider.Synthesize(context.Background(), "Bonsoir !")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(result.Audio) != len(audio) {
		t.Errorf("audio = %d bytes, want %d", len(result.Audio), len(audio))
	}
	if result.Format.Encoding != EncodingULaw || result.Format.SampleRate != 8000 || result.Format.BitDepth != 8 {
		t.Errorf("format = %+v, want 8kHz mu-law", result.Format)
	}
	if result.CharCount != len("Bonsoir !") {
		t.Errorf("CharCount = %d", result.CharCount)
	}
	if result.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s for 8000 mu-law bytes", result.Duration)
	}
}

func TestElevenLabsRetriesServerErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte{0xff})
	}))
	defer srv.Close()

	provider, _ := NewElevenLabs(
		WithAPIKey("test-key"),
		WithVoice("voice-1"),
		WithBaseURL(srv.URL),
		WithRetry(2, time.Millisecond),
	)

	result, err := provider.Synthesize(context.Background(), "allô")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want retry after 500", attempts)
	}
	if len(result.Audio) != 1 {
		t.Errorf("audio = %d bytes", len(result.Audio))
	}
}

func TestElevenLabsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":{"message":"invalid api key","status":"needs_authorization"}}`)
	}))
	defer srv.Close()

	provider, _ := NewElevenLabs(
		WithAPIKey("bad-key"),
		WithVoice("voice-1"),
		WithBaseURL(srv.URL),
	)

	_, err := provider.Synthesize(context.Background(), "allô")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.IsRetryable() {
		t.Errorf("APIError = %+v, want unauthorized and not retryable", apiErr)
	}
	if apiErr.Message != "invalid api key" {
		t.Errorf("Message = %q, want detail message extracted", apiErr.Message)
	}
}

func TestElevenLabsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1/stream" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write(make([]byte, 6000))
	}))
	defer srv.Close()

	provider, _ := NewElevenLabs(
		WithAPIKey("test-key"),
		WithVoice("voice-1"),
		WithBaseURL(srv.URL),
	)

	stream, err := provider.Stream(context.Background(), "allô")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if stream.Format().Encoding != EncodingULaw {
		t.Errorf("stream format = %+v", stream.Format())
	}

	var total int
	for {
		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if chunk == nil {
			break
		}
		total += len(chunk)
	}
	if total != 6000 {
		t.Errorf("streamed %d bytes, want 6000", total)
	}
}

func TestOpenAISynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}

		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["model"] != ModelTTS1 {
			t.Errorf("model = %v", payload["model"])
		}
		if payload["voice"] != VoiceShimmer {
			t.Errorf("voice = %v, want default voice", payload["voice"])
		}
		if payload["response_format"] != "pcm" {
			t.Errorf("response_format = %v, want pcm", payload["response_format"])
		}

		w.Write(make([]byte, 48000))
	}))
	defer srv.Close()

	provider, err := NewOpenAI(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	defer provider.Close()

	result, err := provider.Synthesize(context.Background(), "Bonsoir")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.Format.Encoding != EncodingPCM24 || result.Format.BitDepth != 16 {
		t.Errorf("format = %+v, want 24kHz PCM16", result.Format)
	}
	if result.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s for 48000 PCM24 bytes", result.Duration)
	}
}

func TestOpenAIStreamBuffersWholeResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	provider, _ := NewOpenAI(WithAPIKey("test-key"), WithBaseURL(srv.URL))

	stream, err := provider.Stream(context.Background(), "allô")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	first, err := stream.Read()
	if err != nil || len(first) != 3 {
		t.Fatalf("first Read() = %d bytes, %v", len(first), err)
	}
	second, err := stream.Read()
	if err != nil || second != nil {
		t.Errorf("second Read() = %v, %v, want end of stream", second, err)
	}
}

func TestNewOpenAIRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAI(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewOpenAI() error = %v, want ErrNoAPIKey", err)
	}
}

func TestMockSynthesize(t *testing.T) {
	m := NewMock()

	result, err := m.Synthesize(context.Background(), "allô")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(result.Audio) != len("allô")*640 {
		t.Errorf("audio = %d bytes, want 640 per character", len(result.Audio))
	}
	if result.Format.Encoding != EncodingULaw {
		t.Errorf("format = %+v, want mu-law", result.Format)
	}

	if m.CallCount("Synthesize") != 1 {
		t.Errorf("CallCount = %d, want 1", m.CallCount("Synthesize"))
	}
	if m.Calls()[0].Text != "allô" {
		t.Errorf("recorded text = %q", m.Calls()[0].Text)
	}

	m.Reset()
	if m.CallCount("Synthesize") != 0 {
		t.Error("Reset() should clear recorded calls")
	}
}

func TestWithError(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	m := WithError(wantErr)

	if _, err := m.Synthesize(context.Background(), "allô"); !errors.Is(err, wantErr) {
		t.Errorf("Synthesize() error = %v, want wrapped %v", err, wantErr)
	}
	if _, err := m.Stream(context.Background(), "allô"); !errors.Is(err, wantErr) {
		t.Errorf("Stream() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestChain(t *testing.T) {
	t.Run("first provider wins", func(t *testing.T) {
		primary := NewMock()
		backup := NewMock()
		chain, err := NewChain(primary, backup)
		if err != nil {
			t.Fatalf("NewChain() error = %v", err)
		}

		if _, err := chain.Synthesize(context.Background(), "allô"); err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if backup.CallCount("Synthesize") != 0 {
			t.Error("backup should not be called when primary succeeds")
		}
	})

	t.Run("falls back on failure", func(t *testing.T) {
		backup := NewMock()
		chain, _ := NewChain(WithError(errors.New("down")), backup)

		result, err := chain.Synthesize(context.Background(), "allô")
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if len(result.Audio) == 0 {
			t.Error("fallback result has no audio")
		}
		if backup.CallCount("Synthesize") != 1 {
			t.Errorf("backup calls = %d, want 1", backup.CallCount("Synthesize"))
		}
	})

	t.Run("aggregates when all fail", func(t *testing.T) {
		chain, _ := NewChain(
			WithError(errors.New("down one")),
			WithError(errors.New("down two")),
		)

		_, err := chain.Synthesize(context.Background(), "allô")
		var chainErr *ChainError
		if !errors.As(err, &chainErr) {
			t.Fatalf("error type = %T, want *ChainError", err)
		}
		if len(chainErr.Errors) != 2 {
			t.Errorf("aggregated errors = %d, want 2", len(chainErr.Errors))
		}
	})

	t.Run("requires a provider", func(t *testing.T) {
		if _, err := NewChain(); !errors.Is(err, ErrProviderUnavailable) {
			t.Errorf("NewChain() error = %v, want ErrProviderUnavailable", err)
		}
	})
}
