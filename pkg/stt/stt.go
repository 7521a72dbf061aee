// Package stt provides a unified interface for speech-to-text providers.
//
// The package abstracts batch transcription behind a single Provider
// interface, enabling seamless switching between backends (OpenAI Whisper,
// Deepgram) without changing caller code. Adapters own codec handling:
// callers hand over raw telephony audio (8kHz mu-law by default) and the
// adapter converts or labels it however its API requires.
//
// Example usage:
//
//	provider, _ := stt.NewDeepgram(
//	    stt.WithAPIKey(os.Getenv("STT_API_KEY")),
//	)
//	defer provider.Close()
//
//	text, _ := provider.Transcribe(ctx, stt.Audio{
//	    Data:       segment,
//	    Encoding:   stt.EncodingMuLaw,
//	    SampleRate: 8000,
//	    Channels:   1,
//	    Language:   "fr",
//	})
package stt

import "context"

// Provider defines the transcription provider interface.
// Implementations must be safe for concurrent use by multiple call sessions.
type Provider interface {
	// Transcribe converts an audio segment to text.
	// An empty string with nil error means no intelligible speech.
	Transcribe(ctx context.Context, audio Audio) (string, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Encoding identifies the audio codec of a segment.
type Encoding string

const (
	// EncodingMuLaw is mu-law, the narrowband telephony codec.
	EncodingMuLaw Encoding = "mulaw"

	// EncodingPCM16 is 16-bit little-endian linear PCM.
	EncodingPCM16 Encoding = "linear16"
)

// Audio is a transcription input segment.
type Audio struct {
	// Data is the raw audio bytes in the declared encoding.
	Data []byte

	// Encoding of Data.
	Encoding Encoding

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Language hint (BCP-47 or ISO 639-1, e.g. "fr").
	Language string
}

// Telephony returns an Audio value for an 8kHz mono mu-law segment,
// the format delivered by carrier media streams.
func Telephony(data []byte, language string) Audio {
	return Audio{
		Data:       data,
		Encoding:   EncodingMuLaw,
		SampleRate: 8000,
		Channels:   1,
		Language:   language,
	}
}
