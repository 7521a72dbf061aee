// Package config loads and validates the service configuration.
//
// Configuration is read from a YAML file, with secrets overridable from
// the environment so credentials never need to live on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Turn     TurnConfig     `yaml:"turn"`
	STT      STTConfig      `yaml:"stt"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains the HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicHost is the externally reachable host used when building the
	// stream URL handed to the telephony carrier (e.g. "agent.example.com").
	PublicHost string `yaml:"public_host"`
}

// AudioConfig contains inbound audio accumulation parameters.
type AudioConfig struct {
	// SegmentBytes is the accumulation threshold before a segment is
	// handed to transcription. The default corresponds to roughly one
	// second of 8kHz mu-law audio; other codecs need other values.
	SegmentBytes int `yaml:"segment_bytes"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// ReceiveTimeout bounds each wait for the next telephony message.
	// A timeout is retried, not treated as call end.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
}

// TurnConfig contains conversation turn policy.
type TurnConfig struct {
	// MinTranscriptChars discards transcripts shorter than this many
	// characters instead of advancing the conversation.
	MinTranscriptChars int `yaml:"min_transcript_chars"`

	// ArtifactPatterns are regular expressions matching STT boilerplate
	// output (e.g. broadcast subtitle credits) that must never become a
	// user utterance. Tuned per STT backend.
	ArtifactPatterns []string `yaml:"artifact_patterns"`

	// HistoryWindow is how many recent exchanges are replayed to the
	// completion provider. Bounds prompt size and latency.
	HistoryWindow int `yaml:"history_window"`

	// Welcome is spoken as soon as the audio stream starts. The
	// restaurant name is substituted for %s.
	Welcome string `yaml:"welcome"`

	// Apology is spoken when the completion provider fails mid-turn.
	Apology string `yaml:"apology"`

	// Language hint forwarded to transcription.
	Language string `yaml:"language"`
}

// STTConfig contains transcription provider configuration.
type STTConfig struct {
	Provider string `yaml:"provider"` // "whisper" or "deepgram"
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// LLMConfig contains completion provider configuration.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Streaming   bool    `yaml:"streaming"`
	Timeout     int     `yaml:"timeout"` // seconds
}

// TTSConfig contains synthesis provider configuration.
type TTSConfig struct {
	Provider string `yaml:"provider"` // "elevenlabs" or "openai"
	APIKey   string `yaml:"api_key"`
	VoiceID  string `yaml:"voice_id"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds

	// FallbackProvider, when set, is chained after the primary provider.
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackAPIKey   string `yaml:"fallback_api_key"`
}

// DatabaseConfig contains the restaurant data store configuration.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from the given YAML file, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration defaults applied before file values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Audio: AudioConfig{
			SegmentBytes:   8000, // ~1s of 8kHz mu-law
			SampleRate:     8000,
			Channels:       1,
			ReceiveTimeout: 30 * time.Second,
		},
		Turn: TurnConfig{
			MinTranscriptChars: 3,
			ArtifactPatterns:   []string{`(?i)sous-titrage`, `(?i)subtitles? by`},
			HistoryWindow:      3,
			Welcome:            "%s bonsoir ! Vous souhaitez commander à emporter ou en livraison ?",
			Apology:            "Désolé, le service est momentanément indisponible. Pouvez-vous répéter ?",
			Language:           "fr",
		},
		STT: STTConfig{
			Provider: "whisper",
			Model:    "whisper-1",
			Timeout:  30,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   150,
			Temperature: 0.7,
			Streaming:   true,
			Timeout:     30,
		},
		TTS: TTSConfig{
			Provider: "elevenlabs",
			Model:    "eleven_multilingual_v2",
			Timeout:  30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("STT_API_KEY"); v != "" {
		c.STT.APIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("TTS_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
}

// Validate checks the configuration for errors. A configuration error is
// fatal at process start; it must never surface at call time.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Audio.SegmentBytes <= 0 {
		return fmt.Errorf("audio segment_bytes must be positive, got %d", c.Audio.SegmentBytes)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Audio.ReceiveTimeout <= 0 {
		return fmt.Errorf("audio receive_timeout must be positive, got %s", c.Audio.ReceiveTimeout)
	}
	if c.Turn.HistoryWindow <= 0 {
		return fmt.Errorf("turn history_window must be positive, got %d", c.Turn.HistoryWindow)
	}
	if c.Turn.MinTranscriptChars < 0 {
		return fmt.Errorf("turn min_transcript_chars must not be negative, got %d", c.Turn.MinTranscriptChars)
	}
	if c.STT.APIKey == "" {
		return fmt.Errorf("stt api_key is required (set STT_API_KEY)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required (set LLM_API_KEY)")
	}
	if c.TTS.APIKey == "" {
		return fmt.Errorf("tts api_key is required (set TTS_API_KEY)")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	switch c.STT.Provider {
	case "whisper", "deepgram":
	default:
		return fmt.Errorf("unknown stt provider %q", c.STT.Provider)
	}
	switch c.TTS.Provider {
	case "elevenlabs", "openai":
	default:
		return fmt.Errorf("unknown tts provider %q", c.TTS.Provider)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
