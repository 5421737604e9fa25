package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roary/feed/pkg/config"
)

func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		LevelKey:      "level",
		MessageKey:    "message",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(NewScalyrEncoder(encoderConfig), zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestScalyrEncoder(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("cache write failed",
		zap.String("key", "value"),
		zap.Int64("post_id", 42),
		zap.Bool("best_effort", true),
		zap.Duration("elapsed", 1500*time.Millisecond),
		zap.Error(errors.New("connection refused")),
	)

	var logObj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logObj); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	tests := []struct {
		field    string
		expected interface{}
	}{
		{"message", "cache write failed"},
		{"level", "info"},
		{"key", "value"},
		{"post_id", float64(42)},
		{"best_effort", true},
		{"elapsed", "1.5s"},
		{"error", "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if logObj[tt.field] != tt.expected {
				t.Errorf("%s = %v, want %v", tt.field, logObj[tt.field], tt.expected)
			}
		})
	}

	if _, ok := logObj["timestamp"]; !ok {
		t.Error("Expected 'timestamp' field in log output")
	}
}

func TestScalyrEncoder_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf).With(zap.String("component", "feed-engine"))

	logger.Warn("timeline append failed")

	var logObj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logObj); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if logObj["component"] != "feed-engine" {
		t.Errorf("component = %v, want %v", logObj["component"], "feed-engine")
	}
}

func TestInitLogger(t *testing.T) {
	oldLogger := Logger
	defer func() { Logger = oldLogger }()

	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			err := InitLogger(&config.LoggingConfig{Level: "DEBUG", Format: format, ScalyrFormat: true})
			if err != nil {
				t.Fatalf("Failed to initialize logger: %v", err)
			}
			if GetLogger() == nil {
				t.Fatal("Expected a logger after initialization")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected zapcore.Level
	}{
		{"DEBUG", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}
