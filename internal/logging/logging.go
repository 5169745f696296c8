package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"book-aggregator/internal/config"
)

type Logger = zerolog.Logger

// New builds the process logger. Pretty output goes through zerolog's
// console writer, otherwise JSON lines are written to stderr.
func New(cfg config.LoggingConfig, service string) Logger {
	return NewWithWriter(cfg, service, os.Stderr)
}

func NewWithWriter(cfg config.LoggingConfig, service string, w io.Writer) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", service).Logger()
}
