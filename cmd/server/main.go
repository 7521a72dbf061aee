// ordelio server: telephone ordering assistant for restaurants.
// Inbound calls are bridged onto a media-stream WebSocket; each call runs
// an accumulate -> transcribe -> complete -> synthesize loop against the
// restaurant's own menu context.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/ordelio/go-ordelio/internal/config"
	"github.com/ordelio/go-ordelio/internal/log"
	"github.com/ordelio/go-ordelio/internal/metrics"
	"github.com/ordelio/go-ordelio/internal/store"
	"github.com/ordelio/go-ordelio/pkg/call"
	"github.com/ordelio/go-ordelio/pkg/hub"
	"github.com/ordelio/go-ordelio/pkg/llm"
	"github.com/ordelio/go-ordelio/pkg/stt"
	"github.com/ordelio/go-ordelio/pkg/tts"
	"github.com/ordelio/go-ordelio/pkg/web"
)

var configPath = flag.String("config", "configs/config.yaml", "path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Logging.Level)
	logger := log.With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx, cfg.Database.URL); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	st, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sttProvider, err := buildSTT(cfg)
	if err != nil {
		logger.Error("stt provider setup failed", "error", err)
		os.Exit(1)
	}
	defer sttProvider.Close()

	llmProvider, err := llm.NewClient(
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithTimeout(time.Duration(cfg.LLM.Timeout)*time.Second),
	)
	if err != nil {
		logger.Error("llm provider setup failed", "error", err)
		os.Exit(1)
	}
	defer llmProvider.Close()

	ttsProvider, input, err := buildTTS(cfg)
	if err != nil {
		logger.Error("tts provider setup failed", "error", err)
		os.Exit(1)
	}
	defer ttsProvider.Close()

	turnCfg, err := buildTurnConfig(cfg)
	if err != nil {
		logger.Error("turn configuration invalid", "error", err)
		os.Exit(1)
	}

	registry := call.NewRegistry()
	monitor := hub.New("monitor")

	coordinator, err := call.NewCoordinator(call.Deps{
		Config:   turnCfg,
		STT:      sttProvider,
		LLM:      llmProvider,
		TTS:      ttsProvider,
		Input:    input,
		Resolver: store.NewResolver(st),
		Registry: registry,
		Metrics:  metrics.New(),
		Events:   hub.NewNotifier(monitor),
		Recorder: st,
	})
	if err != nil {
		logger.Error("coordinator setup failed", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(
		web.Config{
			Addr:       cfg.Server.Addr(),
			PublicHost: cfg.Server.PublicHost,
		},
		web.Deps{
			Coordinator: coordinator,
			Registry:    registry,
			Store:       st,
			Monitor:     monitor,
		},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("ordelio started",
		"addr", cfg.Server.Addr(),
		"stt", cfg.STT.Provider,
		"llm", cfg.LLM.Model,
		"tts", cfg.TTS.Provider,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server stopped", "error", err)
	}

	if err := server.Shutdown(); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("ordelio stopped")
}

// buildSTT constructs the configured transcription provider.
func buildSTT(cfg *config.Config) (stt.Provider, error) {
	opts := []stt.Option{
		stt.WithAPIKey(cfg.STT.APIKey),
		stt.WithModel(cfg.STT.Model),
		stt.WithTimeout(time.Duration(cfg.STT.Timeout) * time.Second),
	}
	if cfg.STT.BaseURL != "" {
		opts = append(opts, stt.WithBaseURL(cfg.STT.BaseURL))
	}

	switch cfg.STT.Provider {
	case "deepgram":
		return stt.NewDeepgram(opts...)
	default:
		return stt.NewWhisper(opts...)
	}
}

// buildTTS constructs the configured synthesis provider, chaining the
// fallback when one is set. ElevenLabs additionally provides the
// stream-input path used by streaming turns.
func buildTTS(cfg *config.Config) (tts.Provider, call.InputOpener, error) {
	var primary tts.Provider
	var input call.InputOpener
	var err error

	switch cfg.TTS.Provider {
	case "openai":
		primary, err = tts.NewOpenAI(
			tts.WithAPIKey(cfg.TTS.APIKey),
			tts.WithVoice(cfg.TTS.VoiceID),
			tts.WithTimeout(time.Duration(cfg.TTS.Timeout)*time.Second),
		)
	default:
		opts := []tts.Option{
			tts.WithAPIKey(cfg.TTS.APIKey),
			tts.WithVoice(cfg.TTS.VoiceID),
			tts.WithModel(cfg.TTS.Model),
			tts.WithTimeout(time.Duration(cfg.TTS.Timeout) * time.Second),
		}
		primary, err = tts.NewElevenLabs(opts...)
		if err == nil && cfg.LLM.Streaming {
			input, err = tts.NewElevenLabsWS(opts...)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if cfg.TTS.FallbackProvider == "" {
		return primary, input, nil
	}

	var fallback tts.Provider
	switch cfg.TTS.FallbackProvider {
	case "elevenlabs":
		fallback, err = tts.NewElevenLabs(
			tts.WithAPIKey(cfg.TTS.FallbackAPIKey),
			tts.WithVoice(cfg.TTS.VoiceID),
		)
	default:
		fallback, err = tts.NewOpenAI(
			tts.WithAPIKey(cfg.TTS.FallbackAPIKey),
		)
	}
	if err != nil {
		return nil, nil, err
	}

	chain, err := tts.NewChain(primary, fallback)
	if err != nil {
		return nil, nil, err
	}
	return chain, input, nil
}

// buildTurnConfig maps service configuration onto the conversation loop.
func buildTurnConfig(cfg *config.Config) (*call.Config, error) {
	turnCfg := call.DefaultConfig()
	turnCfg.SegmentBytes = cfg.Audio.SegmentBytes
	turnCfg.ReceiveTimeout = cfg.Audio.ReceiveTimeout
	turnCfg.MinTranscriptChars = cfg.Turn.MinTranscriptChars
	turnCfg.HistoryWindow = cfg.Turn.HistoryWindow
	turnCfg.Welcome = cfg.Turn.Welcome
	turnCfg.Apology = cfg.Turn.Apology
	turnCfg.Language = cfg.Turn.Language
	turnCfg.Streaming = cfg.LLM.Streaming

	turnCfg.ArtifactPatterns = nil
	for _, pattern := range cfg.Turn.ArtifactPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("artifact pattern %q: %w", pattern, err)
		}
		turnCfg.ArtifactPatterns = append(turnCfg.ArtifactPatterns, re)
	}
	return turnCfg, nil
}
