package main

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/yoanipalmas/App-ApplyBot/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		enabled       zapcore.Level
		disabled      zapcore.Level
	}{
		{"info", "json", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", "console", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"error", "json", zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := newLogger(config.Config{LogLevel: tt.level, LogFormat: tt.format})
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			core := logger.Core()
			if !core.Enabled(tt.enabled) {
				t.Errorf("level %s should be enabled", tt.enabled)
			}
			if core.Enabled(tt.disabled) {
				t.Errorf("level %s should be disabled", tt.disabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := newLogger(config.Config{LogLevel: "loud", LogFormat: "json"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
