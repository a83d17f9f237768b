package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger is the logger the long-running binaries install as default.
func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

func New(w io.Writer, service, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewJSONHandler(w, opts).WithAttrs([]slog.Attr{
		slog.String("service", service),
	}))
}

// Component tags records from one subsystem of the current default logger.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

// parseLevel accepts slog level names plus "warning"; anything else is info.
func parseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var out slog.Level
	if err := out.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return out
}
