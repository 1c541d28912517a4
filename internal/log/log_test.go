package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})
	logger.Info("corpus loaded", "passages", 42)

	output := buf.String()
	if !strings.Contains(output, "corpus loaded") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "passages=42") {
		t.Errorf("expected output to contain attribute, got: %s", output)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{JSON: true})
	logger.Info("index ready", "dim", 768)

	if !strings.Contains(buf.String(), `"msg":"index ready"`) {
		t.Errorf("expected JSON output with msg field, got: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	logger.Debug("filtered out")
	logger.Info("kept")

	output := buf.String()
	if strings.Contains(output, "filtered out") {
		t.Error("DEBUG message should be filtered out")
	}
	if !strings.Contains(output, "kept") {
		t.Error("INFO message should appear")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{})
	logger.With("component", "retrieve").Info("hybrid merge done")

	if !strings.Contains(buf.String(), "component=retrieve") {
		t.Errorf("expected component attribute, got: %s", buf.String())
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	if logger == nil {
		t.Fatal("NewNop() returned nil")
	}
	logger.Info("discarded")
	logger.Error("discarded too")
}
