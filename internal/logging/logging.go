package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"

	"harvester-telemetry-backend/config"
)

// New builds the process logger from the logging config.
// Unknown levels fall back to info; any format other than "console" writes JSON.
func New(cfg *config.LoggingConfig, service string) zerolog.Logger {
	return newWithWriter(cfg, service, os.Stdout)
}

func newWithWriter(cfg *config.LoggingConfig, service string, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Component derives a sub-logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Slog adapts a zerolog logger for libraries that take *slog.Logger.
func Slog(l zerolog.Logger) *slog.Logger {
	return slog.New(slogzerolog.Option{
		Level:  slogLevel(l.GetLevel()),
		Logger: &l,
	}.NewZerologHandler())
}

func slogLevel(l zerolog.Level) slog.Level {
	switch {
	case l <= zerolog.DebugLevel:
		return slog.LevelDebug
	case l == zerolog.InfoLevel:
		return slog.LevelInfo
	case l == zerolog.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
