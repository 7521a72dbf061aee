// Package tts provides a unified interface for text-to-speech providers.
//
// The package supports multiple TTS backends including ElevenLabs (custom
// voice cloning) and OpenAI (built-in voices). All providers implement the
// Provider interface, enabling seamless switching without changing caller
// code. Output defaults to 8kHz mu-law, the narrowband codec spoken by
// telephony media streams, so synthesized audio can be forwarded to the
// caller without transcoding.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("TTS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Bonsoir !")
//	// result.Audio contains mu-law audio bytes
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
// All implementations must satisfy this interface for seamless provider
// switching, and must be safe for concurrent use by multiple call sessions.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	// Use this for short utterances where time to first byte is less critical.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream converts text to audio with streaming output for lowest latency.
	// Audio chunks are returned as they become available.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated audio playback duration.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to first byte in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding specifies the audio codec (e.g., ulaw_8000, pcm_24000).
	Encoding Encoding

	// SampleRate in Hz (e.g., 8000, 24000).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// BitDepth in bits per sample (8 for mu-law, 16 for PCM).
	BitDepth int
}

// Encoding represents audio encoding types.
// These match ElevenLabs output format identifiers.
type Encoding string

const (
	// EncodingULaw is mu-law 8kHz mono, the telephony codec. Default.
	EncodingULaw Encoding = "ulaw_8000"

	// EncodingPCM16 is 16kHz mono PCM16.
	EncodingPCM16 Encoding = "pcm_16000"

	// EncodingPCM24 is 24kHz mono PCM16.
	EncodingPCM24 Encoding = "pcm_24000"

	// EncodingMP3 is MP3 at 44.1kHz, 128kbps.
	EncodingMP3 Encoding = "mp3_44100_128"
)

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	// Lower values = more expressive/variable, higher = more consistent.
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	Style float64

	// SpeakerBoost enhances speaker clarity.
	// Recommended for narrowband telephone audio.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns sensible defaults for voice synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingULaw:
		return 8000
	case EncodingPCM16:
		return 16000
	case EncodingPCM24:
		return 24000
	case EncodingMP3:
		return 44100
	default:
		return 8000
	}
}

// BytesPerSecond returns the raw byte rate of an encoding, used for
// duration estimates. MP3 is approximated at its configured bitrate.
func BytesPerSecond(enc Encoding) int {
	switch enc {
	case EncodingULaw:
		return 8000 // 1 byte per sample
	case EncodingPCM16:
		return 32000
	case EncodingPCM24:
		return 48000
	case EncodingMP3:
		return 16000 // 128kbps
	default:
		return 8000
	}
}

// EstimateDuration estimates playback duration of an audio buffer.
func EstimateDuration(enc Encoding, byteLen int) time.Duration {
	bps := BytesPerSecond(enc)
	return time.Duration(float64(byteLen) / float64(bps) * float64(time.Second))
}
