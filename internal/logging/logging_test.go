package logging

import (
	"bytes"
	"strings"
	"testing"

	"book-aggregator/internal/config"
)

func TestNewWithWriterHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn"}, "book-aggregator", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("venue", "binance").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, `"venue":"binance"`) || !strings.Contains(out, `"service":"book-aggregator"`) {
		t.Fatalf("warn line missing fields: %q", out)
	}
}

func TestNewWithWriterFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "nonsense"}, "svc", &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")
	if strings.Contains(buf.String(), `"message":"debug"`) {
		t.Fatalf("debug line written at default level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"message":"info"`) {
		t.Fatalf("info line missing: %q", buf.String())
	}
}
