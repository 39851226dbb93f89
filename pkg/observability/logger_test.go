package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("Info message should be logged at Info level")
		}

		entry := decodeLogEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Errorf("check %s failed", "view_roster")
		if buf.Len() == 0 {
			t.Fatal("Error message should be logged at Info level")
		}

		entry := decodeLogEntry(t, &buf)
		if entry["msg"] != "check view_roster failed" {
			t.Errorf("Unexpected message: %v", entry["msg"])
		}
	})
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("pilot_id", "pilot-1").
		WithFields(map[string]interface{}{"permission": "view_roster"}).
		WithError(errors.New("db down")).
		Info("check denied")

	entry := decodeLogEntry(t, &buf)
	if entry["pilot_id"] != "pilot-1" {
		t.Errorf("Expected pilot_id field, got %v", entry["pilot_id"])
	}
	if entry["permission"] != "view_roster" {
		t.Errorf("Expected permission field, got %v", entry["permission"])
	}
	if entry["error"] != "db down" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestLogger_WithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(nil).Info("no error")

	entry := decodeLogEntry(t, &buf)
	if _, ok := entry["error"]; ok {
		t.Error("Nil error should not add an error field")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID for bare context")
	}
	if GetPilotID(ctx) != "" {
		t.Error("Expected empty pilot ID for bare context")
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithPilotID(ctx, "pilot-1")

	if GetRequestID(ctx) != "req-123" {
		t.Errorf("Expected req-123, got %s", GetRequestID(ctx))
	}
	if GetPilotID(ctx) != "pilot-1" {
		t.Errorf("Expected pilot-1, got %s", GetPilotID(ctx))
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithPilotID(ctx, "pilot-1")

	FromContext(ctx).Info("handled")

	entry := decodeLogEntry(t, &buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id field, got %v", entry["request_id"])
	}
	if entry["pilot_id"] != "pilot-1" {
		t.Errorf("Expected pilot_id field, got %v", entry["pilot_id"])
	}
}
