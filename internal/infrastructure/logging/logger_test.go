package logging

import (
	"log/slog"
	"testing"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger := New(config.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Output: "stderr",
	}, "test")
	if logger == nil || logger.Logger == nil {
		t.Fatal("New() returned an unusable logger")
	}
}

func TestWith(t *testing.T) {
	base := Default()
	child := base.With("component", "proxy")
	if child == nil || child.Logger == base.Logger {
		t.Error("With() did not return a derived logger")
	}
}
