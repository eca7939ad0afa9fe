package cache

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	// These should not panic - they're no-ops
	logger.Debug("test message", "key", "value")
	logger.Info("test message")
	logger.Warn("test message", nil)
	logger.Error("test message", "key", "value")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestConsoleLoggerLevels(t *testing.T) {
	logger := NewConsoleLogger("TestPrefix")
	tests := []struct {
		level string
		log   func(string, ...any)
	}{
		{"[DEBUG]", logger.Debug},
		{"[INFO]", logger.Info},
		{"[WARN]", logger.Warn},
		{"[ERROR]", logger.Error},
	}

	for _, test := range tests {
		t.Run(test.level, func(t *testing.T) {
			output := captureStdout(t, func() { test.log("test message", "key", "value") })
			for _, want := range []string{test.level, "TestPrefix", "test message", "key"} {
				if !strings.Contains(output, want) {
					t.Errorf("Expected %q in output, got: %s", want, output)
				}
			}
		})
	}
}

func TestConsoleLoggerWithoutArgs(t *testing.T) {
	output := captureStdout(t, func() { NewConsoleLogger("P").Info("plain") })
	if strings.Contains(output, "[]") {
		t.Errorf("Did not expect an args list, got: %s", output)
	}
}

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("fetching query", "key", `["/api/products"]`)
	logger.Warn("publish failed", "error", "boom")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].Message != "fetching query" {
		t.Fatalf("Unexpected first entry %+v", entries[0].Entry)
	}
	if got := entries[0].ContextMap()["key"]; got != `["/api/products"]` {
		t.Fatalf("Expected key field, got %v", got)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("Expected warn level, got %v", entries[1].Level)
	}
}

func TestZapLoggerNil(t *testing.T) {
	logger := NewZapLogger(nil)
	logger.Info("dropped", "key", "value")
}

func TestJSONMarshallerRoundTrip(t *testing.T) {
	marshaller := NewJSONMarshaller()

	original := map[string]any{"name": "kibble", "recalled": true}
	data, err := marshaller.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := marshaller.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["name"] != "kibble" || decoded["recalled"] != true {
		t.Fatalf("Round trip mismatch: %v", decoded)
	}
}

func TestJSONMarshallerUnmarshalInvalidJSON(t *testing.T) {
	var result map[string]any
	if err := NewJSONMarshaller().Unmarshal([]byte("invalid json"), &result); err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
}
