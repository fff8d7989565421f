package logging

import (
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	ServiceName string
	Environment string
	// Level is the minimum level name; when empty the LOG_LEVEL env var is
	// consulted, then info.
	Level string
}

// NewLogger builds the JSON logger every component shares. Session lifecycle
// events log structured fields (user_id, session_id, reason) on top of the
// service/env attrs attached here.
func NewLogger(cfg Config) *slog.Logger {
	name := cfg.Level
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	level := ParseLevel(name)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})

	return slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.Environment),
	)
}

// ParseLevel maps a level name to its slog level, defaulting to info for
// anything unrecognized.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
