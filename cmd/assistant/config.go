package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

type Config struct {
	APIKey      string
	Live        live.Config
	MetricsAddr string
	LogLevel    string
}

var knownVoices = []live.Voice{
	live.VoicePuck,
	live.VoiceCharon,
	live.VoiceKore,
	live.VoiceFenrir,
	live.VoiceAoede,
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Note: No .env file found, using system environment variables")
	}

	cfg := Config{
		APIKey:      os.Getenv("GEMINI_API_KEY"),
		Live:        live.DefaultConfig(),
		MetricsAddr: str("METRICS_ADDR", ""),
		LogLevel:    str("LOG_LEVEL", "warn"),
	}
	if cfg.APIKey == "" {
		return cfg, errors.New("GEMINI_API_KEY must be set")
	}

	cfg.Live.Model = str("LIVE_MODEL", cfg.Live.Model)
	cfg.Live.SystemPrompt = str("LIVE_SYSTEM_PROMPT", cfg.Live.SystemPrompt)

	voice, err := parseVoice(str("LIVE_VOICE", string(cfg.Live.Voice)))
	if err != nil {
		return cfg, err
	}
	cfg.Live.Voice = voice
	return cfg, nil
}

// str returns the value of the environment variable key, or fallback if unset/empty.
func str(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func parseVoice(name string) (live.Voice, error) {
	for _, v := range knownVoices {
		if strings.EqualFold(string(v), name) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown voice %q", name)
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
