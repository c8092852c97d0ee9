package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns the process logger. Production emits JSON; everything else
// gets the human-readable text handler at debug level.
func New(env string) *slog.Logger {
	return NewWithWriter(os.Stdout, env)
}

func NewWithWriter(w io.Writer, env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// Discard is a logger for tests and tools that do not care about output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
