package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/config"
)

func TestNewLogger_ValidLevel(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug"})
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	if logger == nil {
		t.Fatal("logger is nil")
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug level not enabled")
	}
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "loud"})
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug enabled, want info fallback")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("info level not enabled")
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom did not return fallback for empty context")
	}
}

func TestWithLogger_RoundTrip(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)
	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom did not return stored logger")
	}
}
