package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. The level is read from
// LOG_LEVEL (debug, info, warn, error) and defaults to info.
func New() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
